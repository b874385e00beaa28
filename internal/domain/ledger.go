package domain

// Deliverable is one observed version of a roadmap deliverable. When read
// through reconstruction it also carries its card and teams.
type Deliverable struct {
	ID                  int64    `json:"id"`
	UUID                string   `json:"uuid"`
	Slug                string   `json:"slug"`
	Title               string   `json:"title"`
	Description         string   `json:"description"`
	StartDate           Millis   `json:"startDate"`
	EndDate             Millis   `json:"endDate"`
	UpdateDate          Millis   `json:"updateDate"`
	NumberOfDisciplines int      `json:"numberOfDisciplines"`
	NumberOfTeams       int      `json:"numberOfTeams"`
	TotalCount          int      `json:"totalCount"`
	CardID              int64    `json:"cardId,omitempty"`
	Projects            Projects `json:"projects"`
	AddedDate           Millis   `json:"addedDate"`

	Card  *Card  `json:"card,omitempty"`
	Teams []Team `json:"teams,omitempty"`
}

// IsTombstone reports whether the row marks the deliverable as absent.
func (d Deliverable) IsTombstone() bool {
	return d.StartDate == 0 && d.EndDate == 0
}

// Tombstone returns the removal row for d observed at at.
func (d Deliverable) Tombstone(at Millis) Deliverable {
	return Deliverable{
		UUID:        d.UUID,
		Slug:        d.Slug,
		Title:       d.Title,
		Description: d.Description,
		TotalCount:  d.TotalCount,
		AddedDate:   at,
	}
}

// Team is one observed version of a development team, keyed by slug.
type Team struct {
	ID                   int64  `json:"id"`
	Slug                 string `json:"slug"`
	Abbreviation         string `json:"abbreviation"`
	Title                string `json:"title"`
	Description          string `json:"description"`
	StartDate            Millis `json:"startDate"`
	EndDate              Millis `json:"endDate"`
	NumberOfDeliverables int    `json:"numberOfDeliverables"`
	AddedDate            Millis `json:"addedDate"`

	TimeAllocations []TimeAllocation `json:"timeAllocations,omitempty"`
}

// IsTombstone reports whether the row marks the team as absent.
func (t Team) IsTombstone() bool {
	return t.StartDate == 0 && t.EndDate == 0
}

// Tombstone returns the removal row for t observed at at.
func (t Team) Tombstone(at Millis) Team {
	return Team{
		Slug:                 t.Slug,
		Abbreviation:         t.Abbreviation,
		Title:                t.Title,
		Description:          t.Description,
		NumberOfDeliverables: t.NumberOfDeliverables,
		AddedDate:            at,
	}
}

// TimeAllocation schedules a discipline of a team onto a deliverable.
type TimeAllocation struct {
	ID            int64  `json:"id"`
	UUID          string `json:"uuid"`
	StartDate     Millis `json:"startDate"`
	EndDate       Millis `json:"endDate"`
	PartialTime   bool   `json:"partialTime"`
	TeamID        int64  `json:"teamId,omitempty"`
	DeliverableID int64  `json:"deliverableId,omitempty"`
	DisciplineID  int64  `json:"disciplineId,omitempty"`
	AddedDate     Millis `json:"addedDate"`

	Discipline *Discipline `json:"discipline,omitempty"`
}

// IsTombstone reports whether the row marks the allocation as absent.
// Tombstones are stored with NULL start, end and partial_time.
func (ta TimeAllocation) IsTombstone() bool {
	return ta.StartDate == 0 && ta.EndDate == 0
}

// Tombstone returns the removal row for ta observed at at.
func (ta TimeAllocation) Tombstone(at Millis) TimeAllocation {
	return TimeAllocation{
		UUID:          ta.UUID,
		TeamID:        ta.TeamID,
		DeliverableID: ta.DeliverableID,
		DisciplineID:  ta.DisciplineID,
		AddedDate:     at,
	}
}

// Discipline is a group of developers of one trade inside a team.
type Discipline struct {
	ID              int64  `json:"id"`
	UUID            string `json:"uuid"`
	Title           string `json:"title"`
	NumberOfMembers int    `json:"numberOfMembers"`
	AddedDate       Millis `json:"addedDate"`

	// Tombstoned rows are stored with a NULL number_of_members.
	Tombstoned bool `json:"-"`
}

// IsTombstone reports whether the row marks the discipline as absent.
func (d Discipline) IsTombstone() bool {
	return d.Tombstoned
}

// Tombstone returns the removal row for d observed at at.
func (d Discipline) Tombstone(at Millis) Discipline {
	return Discipline{UUID: d.UUID, Title: d.Title, AddedDate: at, Tombstoned: true}
}

// Card is a release-board card, keyed by its external tid.
type Card struct {
	ID           int64    `json:"id"`
	TID          string   `json:"tid"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Category     Category `json:"category"`
	ReleaseID    string   `json:"releaseId"`
	ReleaseTitle string   `json:"releaseTitle"`
	UpdateDate   Millis   `json:"updateDate"`
	Thumbnail    string   `json:"thumbnail"`
	AddedDate    Millis   `json:"addedDate"`
}

// IsTombstone reports whether the row marks the card as absent.
func (c Card) IsTombstone() bool {
	return c.UpdateDate == 0 && c.ReleaseID == "" && c.ReleaseTitle == ""
}

// Tombstone returns the removal row for c observed at at.
func (c Card) Tombstone(at Millis) Card {
	return Card{
		TID:         c.TID,
		Title:       c.Title,
		Description: c.Description,
		Category:    c.Category,
		Thumbnail:   c.Thumbnail,
		AddedDate:   at,
	}
}

// DeliverableTeam links a deliverable row to a team row.
type DeliverableTeam struct {
	DeliverableID int64 `json:"deliverableId"`
	TeamID        int64 `json:"teamId"`
}
