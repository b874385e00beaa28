package feed

import (
	"html"

	"github.com/141JosephAlen/ec-bot/internal/domain"
)

// Encode renders reconstructed deliverables as feed documents. Row ids and
// ledger bookkeeping are dropped; titles and descriptions are escaped the
// way the source publishes them.
func Encode(deliverables []domain.Deliverable) []Deliverable {
	out := make([]Deliverable, 0, len(deliverables))
	for _, d := range deliverables {
		out = append(out, encodeDeliverable(d))
	}
	return out
}

func encodeDeliverable(d domain.Deliverable) Deliverable {
	doc := Deliverable{
		UUID:                d.UUID,
		Slug:                d.Slug,
		Title:               html.EscapeString(d.Title),
		Description:         html.EscapeString(d.Description),
		StartDate:           At(d.StartDate),
		EndDate:             At(d.EndDate),
		UpdateDate:          At(d.UpdateDate),
		NumberOfDisciplines: d.NumberOfDisciplines,
		NumberOfTeams:       d.NumberOfTeams,
		TotalCount:          d.TotalCount,
		Projects:            make([]Project, 0, len(d.Projects)),
	}
	for _, p := range d.Projects {
		doc.Projects = append(doc.Projects, Project{Title: p.Title()})
	}
	if d.Card != nil {
		doc.Card = &Card{
			ID:          ID(d.Card.TID),
			Title:       d.Card.Title,
			Description: d.Card.Description,
			Category:    int(d.Card.Category),
			Release:     &Release{ID: ID(d.Card.ReleaseID), Title: d.Card.ReleaseTitle},
			UpdateDate:  At(d.Card.UpdateDate),
			Thumbnail:   d.Card.Thumbnail,
		}
	}
	for _, t := range d.Teams {
		team := Team{
			Slug:                 t.Slug,
			Abbreviation:         t.Abbreviation,
			Title:                t.Title,
			Description:          t.Description,
			StartDate:            At(t.StartDate),
			EndDate:              At(t.EndDate),
			NumberOfDeliverables: t.NumberOfDeliverables,
		}
		for _, ta := range t.TimeAllocations {
			alloc := TimeAllocation{
				UUID:        ta.UUID,
				StartDate:   At(ta.StartDate),
				EndDate:     At(ta.EndDate),
				PartialTime: ta.PartialTime,
			}
			if ta.Discipline != nil {
				alloc.Discipline = &Discipline{
					UUID:            ta.Discipline.UUID,
					Title:           ta.Discipline.Title,
					NumberOfMembers: ta.Discipline.NumberOfMembers,
				}
			}
			team.TimeAllocations = append(team.TimeAllocations, alloc)
		}
		doc.Teams = append(doc.Teams, team)
	}
	return doc
}
