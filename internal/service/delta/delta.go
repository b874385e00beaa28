// Package delta compares two reconstructed roadmaps and classifies what
// changed between them. Results are plain data; rendering is left to the
// caller.
package delta

import (
	"sort"

	"github.com/141JosephAlen/ec-bot/internal/domain"
	"github.com/141JosephAlen/ec-bot/internal/service/identity"
)

// Kind names one detected change.
type Kind string

const (
	StartCorrected     Kind = "start_corrected"
	StartMovedCloser   Kind = "start_moved_closer"
	StartPushedBack    Kind = "start_pushed_back"
	EndMovedEarlier    Kind = "end_moved_earlier"
	EndExtended        Kind = "end_extended"
	EndMovedCloser     Kind = "end_moved_closer"
	TitleUpdated       Kind = "title_updated"
	DescriptionUpdated Kind = "description_updated"
	TeamAssigned       Kind = "team_assigned"
	TeamAddedWork      Kind = "team_added_work"
	TeamFreedWork      Kind = "team_freed_work"
	TeamRemoved        Kind = "team_removed"
)

// Change is one field-level change of an updated deliverable. Dates are set
// for date changes, texts for title and description changes.
type Change struct {
	Kind     Kind          `json:"kind"`
	FromDate domain.Millis `json:"fromDate,omitempty"`
	ToDate   domain.Millis `json:"toDate,omitempty"`
	FromText string        `json:"fromText,omitempty"`
	ToText   string        `json:"toText,omitempty"`
}

// TeamChange reports how a team's assignment to a deliverable changed.
type TeamChange struct {
	Kind  Kind   `json:"kind"`
	Slug  string `json:"slug"`
	Title string `json:"title"`
	Days  int    `json:"days"`
	// Revealed is set for assignments whose work had already started.
	Revealed bool `json:"revealed,omitempty"`
}

// CardChange reports a changed release card field.
type CardChange struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// Removed is a deliverable that disappeared.
type Removed struct {
	Deliverable domain.Deliverable `json:"deliverable"`
	FreedTeams  []string           `json:"freedTeams,omitempty"`
}

// DisciplineLoad summarizes a discipline's remaining tasks on a deliverable.
// Zero tasks means every task was already completed.
type DisciplineLoad struct {
	Title   string `json:"title"`
	Members int    `json:"members"`
	Tasks   int    `json:"tasks"`
	Load    int    `json:"load"`
}

// TeamStart describes a team working on a newly listed deliverable.
type TeamStart struct {
	Slug        string           `json:"slug"`
	Title       string           `json:"title"`
	FirstStart  domain.Millis    `json:"firstStart"`
	Began       bool             `json:"began"`
	Disciplines []DisciplineLoad `json:"disciplines,omitempty"`
}

// Added is a deliverable that appeared.
type Added struct {
	Deliverable domain.Deliverable `json:"deliverable"`
	Readded     bool               `json:"readded"`
	Teams       []TeamStart        `json:"teams,omitempty"`
}

// Updated is a deliverable whose watched fields changed.
type Updated struct {
	Before             domain.Deliverable `json:"before"`
	After              domain.Deliverable `json:"after"`
	Changes            []Change           `json:"changes,omitempty"`
	Teams              []TeamChange       `json:"teams,omitempty"`
	Card               []CardChange       `json:"card,omitempty"`
	RemovedFromRelease bool               `json:"removedFromRelease,omitempty"`
}

// ChangeSet is the structured result of a comparison.
type ChangeSet struct {
	From      domain.Millis         `json:"from"`
	To        domain.Millis         `json:"to"`
	At        domain.Millis         `json:"at"`
	Listed    int                   `json:"listed"`
	Removed   []Removed             `json:"removed"`
	Added     []Added               `json:"added"`
	Updated   []Updated             `json:"updated"`
	Unchanged int                   `json:"unchanged"`
	Counters  domain.ChangeCounters `json:"counters"`
}

// Diff compares first with last at comparison instant at. tombstones are the
// deliverables removed at or before first was observed; a returning
// deliverable matches one of them.
func Diff(first, last, tombstones []domain.Deliverable, at domain.Millis, policy identity.Policy, model LoadModel) ChangeSet {
	strategy := identity.Deliverables{Policy: policy}
	cs := ChangeSet{
		At:      at,
		Listed:  len(last),
		Removed: []Removed{},
		Added:   []Added{},
		Updated: []Updated{},
	}

	remaining := 0
	for _, f := range first {
		l, ok := identity.Resolve[domain.Deliverable](strategy, last, f)
		if !ok {
			cs.Removed = append(cs.Removed, Removed{Deliverable: f, FreedTeams: teamTitles(f.Teams)})
			continue
		}
		remaining++
		if u, ok := compare(f, l, at); ok {
			cs.Updated = append(cs.Updated, u)
		}
	}
	for _, l := range last {
		if _, ok := identity.Resolve[domain.Deliverable](strategy, first, l); ok {
			continue
		}
		_, readded := identity.Resolve[domain.Deliverable](strategy, tombstones, l)
		cs.Added = append(cs.Added, Added{Deliverable: l, Readded: readded, Teams: teamStarts(l, at, model)})
	}

	cs.Unchanged = remaining - len(cs.Updated)
	cs.Counters = domain.ChangeCounters{
		Added:   len(cs.Added),
		Removed: len(cs.Removed),
		Updated: len(cs.Updated),
	}
	for _, a := range cs.Added {
		if a.Readded {
			cs.Counters.Readded++
		}
	}
	return cs
}

// compare reports the watched changes between two versions of a deliverable.
func compare(f, l domain.Deliverable, at domain.Millis) (Updated, bool) {
	u := Updated{Before: f, After: l}
	if f.StartDate != l.StartDate {
		u.Changes = append(u.Changes, Change{Kind: startShift(f.StartDate, l.StartDate, at), FromDate: f.StartDate, ToDate: l.StartDate})
	}
	if f.EndDate != l.EndDate {
		u.Changes = append(u.Changes, Change{Kind: endShift(f.EndDate, l.EndDate, at), FromDate: f.EndDate, ToDate: l.EndDate})
	}
	if f.Title != l.Title {
		u.Changes = append(u.Changes, Change{Kind: TitleUpdated, FromText: f.Title, ToText: l.Title})
	}
	if f.Description != l.Description {
		u.Changes = append(u.Changes, Change{Kind: DescriptionUpdated, FromText: f.Description, ToText: l.Description})
	}
	if teamsDiffer(f.Teams, l.Teams) {
		u.Teams = teamChanges(f.Teams, l.Teams, at)
	}
	if len(u.Changes) == 0 && len(u.Teams) == 0 {
		return Updated{}, false
	}

	switch {
	case f.Card != nil && l.Card == nil:
		u.RemovedFromRelease = true
	case f.Card != nil && l.Card != nil:
		u.Card = cardChanges(*f.Card, *l.Card)
	}
	return u, true
}

// startShift classifies a start date change. A start that was already in the
// past on both sides is a correction.
func startShift(from, to, at domain.Millis) Kind {
	switch {
	case from.Day() < at && to.Day() < at:
		return StartCorrected
	case to < from:
		return StartMovedCloser
	default:
		return StartPushedBack
	}
}

// endShift classifies an end date change. An end that jumps from the future
// into the past usually means allocations were removed.
func endShift(from, to, at domain.Millis) Kind {
	switch {
	case at < from.Day() && to.Day() < at:
		return EndMovedEarlier
	case from < to:
		return EndExtended
	default:
		return EndMovedCloser
	}
}

func teamsDiffer(before, after []domain.Team) bool {
	if len(before) != len(after) {
		return true
	}
	bySlug := make(map[string]domain.Team, len(before))
	for _, t := range before {
		bySlug[t.Slug] = t
	}
	for _, t := range after {
		old, ok := bySlug[t.Slug]
		if !ok || teamScheduleDiffers(old, t) {
			return true
		}
	}
	return false
}

func teamScheduleDiffers(old, cur domain.Team) bool {
	if old.StartDate != cur.StartDate || old.EndDate != cur.EndDate {
		return true
	}
	if len(old.TimeAllocations) != len(cur.TimeAllocations) {
		return true
	}
	byUUID := make(map[string]domain.TimeAllocation, len(old.TimeAllocations))
	for _, ta := range old.TimeAllocations {
		byUUID[ta.UUID] = ta
	}
	for _, ta := range cur.TimeAllocations {
		prev, ok := byUUID[ta.UUID]
		if !ok || prev.StartDate != ta.StartDate || prev.EndDate != ta.EndDate || prev.PartialTime != ta.PartialTime {
			return true
		}
	}
	return false
}

// teamChanges reports assignments, work added or freed per team, and teams
// taken off the deliverable.
func teamChanges(before, after []domain.Team, at domain.Millis) []TeamChange {
	previous := make(map[string]domain.Team, len(before))
	for _, t := range before {
		previous[t.Slug] = t
	}
	current := make(map[string]struct{}, len(after))

	var out []TeamChange
	for _, t := range after {
		current[t.Slug] = struct{}{}
		span := AssignedSpan(t.TimeAllocations)
		old, ok := previous[t.Slug]
		if !ok {
			// Assignments without scheduled work are reported with zero days.
			out = append(out, TeamChange{Kind: TeamAssigned, Slug: t.Slug, Title: t.Title, Days: span.Days(), Revealed: span > 0 && firstStart(t.TimeAllocations) < at})
			continue
		}
		if !teamScheduleDiffers(old, t) {
			continue
		}
		oldSpan := AssignedSpan(old.TimeAllocations)
		days := (span - oldSpan).Days()
		switch {
		case days == 0:
		case oldSpan == 0 && days > 0:
			out = append(out, TeamChange{Kind: TeamAssigned, Slug: t.Slug, Title: t.Title, Days: days, Revealed: firstStart(t.TimeAllocations) < at})
		case days > 0:
			out = append(out, TeamChange{Kind: TeamAddedWork, Slug: t.Slug, Title: t.Title, Days: days})
		default:
			out = append(out, TeamChange{Kind: TeamFreedWork, Slug: t.Slug, Title: t.Title, Days: -days})
		}
	}
	for _, t := range before {
		if _, ok := current[t.Slug]; ok {
			continue
		}
		out = append(out, TeamChange{Kind: TeamRemoved, Slug: t.Slug, Title: t.Title, Days: (t.EndDate - t.StartDate).Days()})
	}
	return out
}

func cardChanges(before, after domain.Card) []CardChange {
	var out []CardChange
	if before.Title != after.Title {
		out = append(out, CardChange{Field: "title", From: before.Title, To: after.Title})
	}
	if before.Description != after.Description {
		out = append(out, CardChange{Field: "description", From: before.Description, To: after.Description})
	}
	if before.Category != after.Category {
		out = append(out, CardChange{Field: "category", From: before.Category.String(), To: after.Category.String()})
	}
	if before.ReleaseTitle != after.ReleaseTitle {
		out = append(out, CardChange{Field: "release", From: before.ReleaseTitle, To: after.ReleaseTitle})
	}
	return out
}

func teamTitles(teams []domain.Team) []string {
	seen := make(map[string]struct{}, len(teams))
	out := make([]string, 0, len(teams))
	for _, t := range teams {
		if _, ok := seen[t.Title]; ok {
			continue
		}
		seen[t.Title] = struct{}{}
		out = append(out, t.Title)
	}
	return out
}

func firstStart(allocations []domain.TimeAllocation) domain.Millis {
	var first domain.Millis
	for _, ta := range allocations {
		if first == 0 || ta.StartDate < first {
			first = ta.StartDate
		}
	}
	return first
}

// teamStarts summarizes who works on a newly listed deliverable. Only tasks
// ending after the deliverable's last update count toward load.
func teamStarts(d domain.Deliverable, at domain.Millis, model LoadModel) []TeamStart {
	out := make([]TeamStart, 0, len(d.Teams))
	for _, t := range d.Teams {
		if len(t.TimeAllocations) == 0 {
			continue
		}
		start := firstStart(t.TimeAllocations)
		ts := TeamStart{Slug: t.Slug, Title: t.Title, FirstStart: start, Began: start < at}

		type group struct {
			members, full, part int
			span                domain.Millis
		}
		groups := make(map[string]*group)
		var titles []string
		for _, ta := range t.TimeAllocations {
			title, members := "", 0
			if ta.Discipline != nil {
				title, members = ta.Discipline.Title, ta.Discipline.NumberOfMembers
			}
			g, ok := groups[title]
			if !ok {
				g = &group{members: members}
				groups[title] = g
				titles = append(titles, title)
			}
			if ta.EndDate <= d.UpdateDate {
				continue
			}
			if ta.PartialTime {
				g.part++
			} else {
				g.full++
			}
			g.span += ta.EndDate - ta.StartDate
		}
		sort.Strings(titles)
		for _, title := range titles {
			g := groups[title]
			ts.Disciplines = append(ts.Disciplines, DisciplineLoad{
				Title:   title,
				Members: g.members,
				Tasks:   g.full + g.part,
				Load:    model.Percent(g.members, g.full, g.part, g.span),
			})
		}
		out = append(out, ts)
	}
	return out
}
