package feed

import (
	"fmt"
	"html"

	"github.com/141JosephAlen/ec-bot/internal/domain"
)

// Normalize converts feed documents into domain values. Malformed fields
// are dropped with a warning; required-field checks are left to ingestion.
func Normalize(docs []Deliverable) ([]domain.Deliverable, []domain.Warning) {
	n := normalizer{}
	out := make([]domain.Deliverable, 0, len(docs))
	for _, doc := range docs {
		out = append(out, n.deliverable(doc))
	}
	return out, n.warnings
}

type normalizer struct {
	warnings []domain.Warning
}

func (n *normalizer) warn(kind, key, format string, args ...any) {
	n.warnings = append(n.warnings, domain.Warning{Kind: kind, Key: key, Reason: fmt.Sprintf(format, args...)})
}

func (n *normalizer) date(kind, key, field string, d Date) domain.Millis {
	ms, err := d.Value()
	if err != nil {
		n.warn(kind, key, "%s: %v", field, err)
		return 0
	}
	return ms
}

func (n *normalizer) deliverable(doc Deliverable) domain.Deliverable {
	key := doc.UUID
	d := domain.Deliverable{
		UUID:                doc.UUID,
		Slug:                doc.Slug,
		Title:               html.UnescapeString(doc.Title),
		Description:         html.UnescapeString(doc.Description),
		StartDate:           n.date("deliverable", key, "startDate", doc.StartDate),
		EndDate:             n.date("deliverable", key, "endDate", doc.EndDate),
		UpdateDate:          n.date("deliverable", key, "updateDate", doc.UpdateDate),
		NumberOfDisciplines: doc.NumberOfDisciplines,
		NumberOfTeams:       doc.NumberOfTeams,
		TotalCount:          doc.TotalCount,
	}
	for _, p := range doc.Projects {
		project, ok := domain.ProjectFromTitle(p.Title)
		if !ok {
			n.warn("deliverable", key, "unknown project %q", p.Title)
			continue
		}
		d.Projects = append(d.Projects, project)
	}
	if doc.Card != nil {
		d.Card = n.card(*doc.Card)
	}
	for _, t := range doc.Teams {
		d.Teams = append(d.Teams, n.team(t))
	}
	return d
}

func (n *normalizer) card(doc Card) *domain.Card {
	tid := string(doc.ID)
	if tid == "" {
		// An empty tid marks the card as unusable rather than absent.
		title := html.UnescapeString(doc.Title)
		n.warn("card", title, "missing id")
		return &domain.Card{Title: title}
	}
	c := &domain.Card{
		TID:         tid,
		Title:       html.UnescapeString(doc.Title),
		Description: html.UnescapeString(doc.Description),
		Category:    domain.Category(doc.Category),
		UpdateDate:  n.date("card", tid, "updateDate", doc.UpdateDate),
		Thumbnail:   doc.Thumbnail,
	}
	if !c.Category.Valid() {
		n.warn("card", tid, "unknown category %d", doc.Category)
		c.Category = domain.CategoryNone
	}
	if doc.Release != nil {
		c.ReleaseID = string(doc.Release.ID)
		c.ReleaseTitle = doc.Release.Title
	}
	return c
}

func (n *normalizer) team(doc Team) domain.Team {
	t := domain.Team{
		Slug:                 doc.Slug,
		Abbreviation:         doc.Abbreviation,
		Title:                doc.Title,
		Description:          doc.Description,
		StartDate:            n.date("team", doc.Slug, "startDate", doc.StartDate),
		EndDate:              n.date("team", doc.Slug, "endDate", doc.EndDate),
		NumberOfDeliverables: doc.NumberOfDeliverables,
	}
	for _, ta := range doc.TimeAllocations {
		t.TimeAllocations = append(t.TimeAllocations, n.timeAllocation(ta))
	}
	return t
}

func (n *normalizer) timeAllocation(doc TimeAllocation) domain.TimeAllocation {
	ta := domain.TimeAllocation{
		UUID:        doc.UUID,
		StartDate:   n.date("timeAllocation", doc.UUID, "startDate", doc.StartDate),
		EndDate:     n.date("timeAllocation", doc.UUID, "endDate", doc.EndDate),
		PartialTime: doc.PartialTime,
	}
	if doc.Discipline != nil {
		ta.Discipline = &domain.Discipline{
			UUID:            doc.Discipline.UUID,
			Title:           doc.Discipline.Title,
			NumberOfMembers: doc.Discipline.NumberOfMembers,
		}
	}
	return ta
}
