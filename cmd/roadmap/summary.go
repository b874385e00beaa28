package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/141JosephAlen/ec-bot/internal/domain"
	"github.com/141JosephAlen/ec-bot/internal/service/delta"
)

const dateLayout = "Mon Jan 02 2006"

var changeVerbs = map[delta.Kind]string{
	delta.StartCorrected:     "start date corrected",
	delta.StartMovedCloser:   "start date moved closer",
	delta.StartPushedBack:    "start date pushed back",
	delta.EndMovedEarlier:    "end date moved earlier",
	delta.EndExtended:        "end date extended",
	delta.EndMovedCloser:     "end date moved closer",
	delta.TitleUpdated:       "title updated",
	delta.DescriptionUpdated: "description updated",
}

func day(m domain.Millis) string {
	return m.Time().UTC().Format(dateLayout)
}

// summarize writes a terminal overview of a change set.
func summarize(w io.Writer, cs delta.ChangeSet) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%d deliverables listed | %s => %s\n", cs.Listed, day(cs.From), day(cs.To))
	fmt.Fprintf(&b, "%s\n", cs.Counters)

	if len(cs.Removed) > 0 {
		fmt.Fprintf(&b, "\nRemoved (%d):\n", len(cs.Removed))
		for _, r := range cs.Removed {
			fmt.Fprintf(&b, "  - %s\n", strings.TrimSpace(r.Deliverable.Title))
			if len(r.FreedTeams) > 0 {
				fmt.Fprintf(&b, "      freed: %s\n", strings.Join(r.FreedTeams, ", "))
			}
		}
	}

	if len(cs.Added) > 0 {
		fmt.Fprintf(&b, "\nAdded (%d):\n", len(cs.Added))
		for _, a := range cs.Added {
			suffix := ""
			if a.Readded {
				suffix = " (returning!)"
			}
			d := a.Deliverable
			fmt.Fprintf(&b, "  - %s%s  %s => %s\n", strings.TrimSpace(d.Title), suffix, day(d.StartDate), day(d.EndDate))
			for _, t := range a.Teams {
				verb := "will begin work"
				if t.Began {
					verb = "began work"
				}
				fmt.Fprintf(&b, "      %s %s %s\n", t.Title, verb, day(t.FirstStart))
			}
		}
	}

	if len(cs.Updated) > 0 {
		fmt.Fprintf(&b, "\nUpdated (%d):\n", len(cs.Updated))
		for _, u := range cs.Updated {
			fmt.Fprintf(&b, "  - %s\n", strings.TrimSpace(u.After.Title))
			for _, c := range u.Changes {
				if c.FromDate != 0 || c.ToDate != 0 {
					fmt.Fprintf(&b, "      %s: %s => %s\n", changeVerbs[c.Kind], day(c.FromDate), day(c.ToDate))
					continue
				}
				fmt.Fprintf(&b, "      %s\n", changeVerbs[c.Kind])
			}
			for _, t := range u.Teams {
				fmt.Fprintf(&b, "      %s\n", teamLine(t))
			}
			if u.RemovedFromRelease {
				fmt.Fprintf(&b, "      removed from release roadmap\n")
			}
		}
	}

	fmt.Fprintf(&b, "\n%d unchanged\n", cs.Unchanged)
	_, err := io.WriteString(w, b.String())
	return err
}

func teamLine(t delta.TeamChange) string {
	switch t.Kind {
	case delta.TeamAssigned:
		if t.Days == 0 {
			return fmt.Sprintf("%s was assigned, with no work scheduled yet", t.Title)
		}
		verb := "adding"
		if t.Revealed {
			verb = "revealing"
		}
		return fmt.Sprintf("%s was assigned, %s %d days of work", t.Title, verb, t.Days)
	case delta.TeamAddedWork:
		return fmt.Sprintf("%s added %d days of work", t.Title, t.Days)
	case delta.TeamFreedWork:
		return fmt.Sprintf("%s freed up %d days of work", t.Title, t.Days)
	default:
		return fmt.Sprintf("%s was removed, freeing up %d days of work", t.Title, t.Days)
	}
}
