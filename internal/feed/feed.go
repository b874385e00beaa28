// Package feed holds the typed documents exchanged with the roadmap source.
// The same shape is used for upstream payloads, bootstrap files and exports,
// so an export can be replayed into an empty ledger.
package feed

// Deliverable is one roadmap deliverable as published by the source.
type Deliverable struct {
	UUID                string    `json:"uuid"`
	Slug                string    `json:"slug"`
	Title               string    `json:"title"`
	Description         string    `json:"description"`
	StartDate           Date      `json:"startDate"`
	EndDate             Date      `json:"endDate"`
	UpdateDate          Date      `json:"updateDate"`
	NumberOfDisciplines int       `json:"numberOfDisciplines"`
	NumberOfTeams       int       `json:"numberOfTeams"`
	TotalCount          int       `json:"totalCount"`
	Card                *Card     `json:"card"`
	Projects            []Project `json:"projects"`
	Teams               []Team    `json:"teams,omitempty"`
}

// Project names the game a deliverable belongs to.
type Project struct {
	Title string `json:"title"`
}

// Card is the release-board card attached to a deliverable.
type Card struct {
	ID          ID       `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    int      `json:"category"`
	Release     *Release `json:"release"`
	UpdateDate  Date     `json:"updateDate"`
	Thumbnail   string   `json:"thumbnail"`
}

// Release is the patch a card is scheduled for.
type Release struct {
	ID    ID     `json:"id"`
	Title string `json:"title"`
}

// Team is a development team working on a deliverable.
type Team struct {
	Slug                 string           `json:"slug"`
	Abbreviation         string           `json:"abbreviation"`
	Title                string           `json:"title"`
	Description          string           `json:"description"`
	StartDate            Date             `json:"startDate"`
	EndDate              Date             `json:"endDate"`
	NumberOfDeliverables int              `json:"numberOfDeliverables"`
	TimeAllocations      []TimeAllocation `json:"timeAllocations,omitempty"`
}

// TimeAllocation is a scheduled sprint of one discipline.
type TimeAllocation struct {
	UUID        string      `json:"uuid"`
	StartDate   Date        `json:"startDate"`
	EndDate     Date        `json:"endDate"`
	PartialTime bool        `json:"partialTime"`
	Discipline  *Discipline `json:"discipline,omitempty"`
}

// Discipline describes the developers behind a time allocation.
type Discipline struct {
	UUID            string `json:"uuid"`
	Title           string `json:"title"`
	NumberOfMembers int    `json:"numberOfMembers"`
}
