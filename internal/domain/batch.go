package domain

import "fmt"

// Batch holds every row derived from one observation. Rows reference each
// other through ids; negative ids are provisional and are replaced by the
// store with the ids it assigns on insert.
type Batch struct {
	ObservedAt      Millis
	Disciplines     []Discipline
	Cards           []Card
	Teams           []Team
	Deliverables    []Deliverable
	TimeAllocations []TimeAllocation
	Links           []DeliverableTeam
}

// Empty reports whether the batch would write nothing.
func (b Batch) Empty() bool {
	return len(b.Disciplines) == 0 && len(b.Cards) == 0 && len(b.Teams) == 0 &&
		len(b.Deliverables) == 0 && len(b.TimeAllocations) == 0 && len(b.Links) == 0
}

// Counts returns the number of rows per table.
func (b Batch) Counts() RowCounts {
	return RowCounts{
		Deliverables:    len(b.Deliverables),
		Teams:           len(b.Teams),
		TimeAllocations: len(b.TimeAllocations),
		Disciplines:     len(b.Disciplines),
		Cards:           len(b.Cards),
		Links:           len(b.Links),
	}
}

// RowCounts tallies ledger rows by table.
type RowCounts struct {
	Deliverables    int `json:"deliverables"`
	Teams           int `json:"teams"`
	TimeAllocations int `json:"timeAllocations"`
	Disciplines     int `json:"disciplines"`
	Cards           int `json:"cards"`
	Links           int `json:"links"`
}

// Total sums all tables.
func (c RowCounts) Total() int {
	return c.Deliverables + c.Teams + c.TimeAllocations + c.Disciplines + c.Cards + c.Links
}

// ChangeCounters classifies deliverable-level changes. Readded is a subset of Added.
type ChangeCounters struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Updated int `json:"updated"`
	Readded int `json:"readded"`
}

// Any reports whether anything changed.
func (c ChangeCounters) Any() bool {
	return c.Added > 0 || c.Removed > 0 || c.Updated > 0
}

// String renders the operator-facing status line.
func (c ChangeCounters) String() string {
	if !c.Any() {
		return "no changes detected"
	}
	s := fmt.Sprintf("%d additions, %d removals, %d updates", c.Added, c.Removed, c.Updated)
	if c.Readded > 0 {
		s += fmt.Sprintf(" (%d returning)", c.Readded)
	}
	return s
}

// Warning reports an input entity or field that was rejected instead of
// being written.
type Warning struct {
	Kind   string `json:"kind"`
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s %q: %s", w.Kind, w.Key, w.Reason)
}
