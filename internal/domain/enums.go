package domain

import (
	"strings"
)

// Project tags the game a deliverable belongs to.
type Project string

const (
	ProjectStarCitizen Project = "SC"
	ProjectSquadron42  Project = "SQ42"
)

var projectTitles = map[Project]string{
	ProjectStarCitizen: "Star Citizen",
	ProjectSquadron42:  "Squadron 42",
}

// ProjectFromTitle maps a feed project title to its tag.
func ProjectFromTitle(title string) (Project, bool) {
	for p, t := range projectTitles {
		if strings.EqualFold(strings.TrimSpace(title), t) {
			return p, true
		}
	}
	return "", false
}

// Title returns the display title of the project.
func (p Project) Title() string {
	return projectTitles[p]
}

// Valid reports whether p is a known project.
func (p Project) Valid() bool {
	_, ok := projectTitles[p]
	return ok
}

// Projects is the set of project tags of a deliverable, stored as "SC,SQ42".
type Projects []Project

// String encodes the set in ledger form.
func (ps Projects) String() string {
	parts := make([]string, 0, len(ps))
	for _, p := range ps {
		parts = append(parts, string(p))
	}
	return strings.Join(parts, ",")
}

// Equal compares two sets ignoring order.
func (ps Projects) Equal(other Projects) bool {
	if len(ps) != len(other) {
		return false
	}
	seen := make(map[Project]int, len(ps))
	for _, p := range ps {
		seen[p]++
	}
	for _, p := range other {
		if seen[p] == 0 {
			return false
		}
		seen[p]--
	}
	return true
}

// ParseProjects decodes the ledger form. Unknown tags are dropped.
func ParseProjects(raw string) Projects {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out Projects
	for _, part := range strings.Split(raw, ",") {
		p := Project(strings.TrimSpace(part))
		if p.Valid() {
			out = append(out, p)
		}
	}
	return out
}

// Category is the release-board column a card sits in.
type Category int

const (
	CategoryNone Category = iota
	CategoryCoreTech
	CategoryGameplay
	CategoryCharacters
	CategoryLocations
	CategoryAI
	CategoryShipsAndVehicles
	CategoryWeaponsAndItems
)

var categoryNames = [...]string{
	CategoryNone:             "",
	CategoryCoreTech:         "Core Tech",
	CategoryGameplay:         "Gameplay",
	CategoryCharacters:       "Characters",
	CategoryLocations:        "Locations",
	CategoryAI:               "AI",
	CategoryShipsAndVehicles: "Ships and Vehicles",
	CategoryWeaponsAndItems:  "Weapons and Items",
}

// Valid reports whether c is one of the known categories (or none).
func (c Category) Valid() bool {
	return c >= CategoryNone && int(c) < len(categoryNames)
}

func (c Category) String() string {
	if !c.Valid() {
		return "Unknown"
	}
	return categoryNames[c]
}
