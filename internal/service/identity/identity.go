// Package identity decides which ledger row an incoming entity is a new
// version of. Each entity kind has its own Strategy; a strategy lists the
// keys a row can be recognised by, strongest first.
package identity

import (
	"sort"
	"strings"

	"github.com/141JosephAlen/ec-bot/internal/domain"
)

// Policy holds the business heuristics for title-based matching.
type Policy struct {
	// DeliverableTitleFallback matches announced deliverables by exact title
	// when their uuid changed.
	DeliverableTitleFallback bool
	// DisciplineTitleFallback does the same for disciplines.
	DisciplineTitleFallback bool
	// UnannouncedMarker flags placeholder titles that cannot identify an entity.
	UnannouncedMarker string
}

// DefaultPolicy returns the policy used when no policy file is configured.
func DefaultPolicy() Policy {
	return Policy{
		DeliverableTitleFallback: true,
		DisciplineTitleFallback:  false,
		UnannouncedMarker:        "Unannounced",
	}
}

// Announced reports whether title is specific enough to identify an entity.
func (p Policy) Announced(title string) bool {
	if strings.TrimSpace(title) == "" {
		return false
	}
	if p.UnannouncedMarker == "" {
		return true
	}
	return !strings.Contains(title, p.UnannouncedMarker)
}

// Strategy lists the identity keys of a row, strongest first. Two rows are
// the same entity when they share a key.
type Strategy[T any] interface {
	Keys(row T) []string
}

func uuidKey(uuid string) string   { return "uuid:" + uuid }
func titleKey(title string) string { return "title:" + title }

// Deliverables match by uuid, then by title when announced. Titles in
// Ambiguous are shared by several live deliverables and match by uuid only.
type Deliverables struct {
	Policy    Policy
	Ambiguous map[string]struct{}
}

func (s Deliverables) Keys(d domain.Deliverable) []string {
	_, ambiguous := s.Ambiguous[d.Title]
	return keysWithTitle(d.UUID, d.Title, s.Policy.DeliverableTitleFallback && s.Policy.Announced(d.Title) && !ambiguous)
}

// Disciplines match by uuid, then optionally by title when announced.
type Disciplines struct{ Policy Policy }

func (s Disciplines) Keys(d domain.Discipline) []string {
	return keysWithTitle(d.UUID, d.Title, s.Policy.DisciplineTitleFallback && s.Policy.Announced(d.Title))
}

func keysWithTitle(uuid, title string, fallback bool) []string {
	keys := make([]string, 0, 2)
	if uuid != "" {
		keys = append(keys, uuidKey(uuid))
	}
	if fallback {
		keys = append(keys, titleKey(title))
	}
	return keys
}

// Teams match by slug.
type Teams struct{}

func (Teams) Keys(t domain.Team) []string {
	if t.Slug == "" {
		return nil
	}
	return []string{"slug:" + t.Slug}
}

// TimeAllocations match by uuid.
type TimeAllocations struct{}

func (TimeAllocations) Keys(ta domain.TimeAllocation) []string {
	if ta.UUID == "" {
		return nil
	}
	return []string{uuidKey(ta.UUID)}
}

// Cards match by tid.
type Cards struct{}

func (Cards) Keys(c domain.Card) []string {
	if c.TID == "" {
		return nil
	}
	return []string{"tid:" + c.TID}
}

var (
	_ Strategy[domain.Deliverable]    = Deliverables{}
	_ Strategy[domain.Discipline]     = Disciplines{}
	_ Strategy[domain.Team]           = Teams{}
	_ Strategy[domain.TimeAllocation] = TimeAllocations{}
	_ Strategy[domain.Card]           = Cards{}
)

// Resolve returns the candidate incoming is a version of. Stronger keys win
// over weaker ones; among candidates sharing a key the earliest wins, so
// candidates should be ordered newest first.
func Resolve[T any](s Strategy[T], candidates []T, incoming T) (T, bool) {
	for _, key := range s.Keys(incoming) {
		for _, c := range candidates {
			if hasKey(s.Keys(c), key) {
				return c, true
			}
		}
	}
	var zero T
	return zero, false
}

func hasKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// Index is a keyed view over candidates for repeated lookups.
type Index[T any] struct {
	strategy Strategy[T]
	byKey    map[string]T
}

// NewIndex indexes candidates; the first candidate holding a key keeps it.
func NewIndex[T any](s Strategy[T], candidates []T) *Index[T] {
	idx := &Index[T]{strategy: s, byKey: make(map[string]T, len(candidates))}
	for _, c := range candidates {
		for _, key := range s.Keys(c) {
			if _, ok := idx.byKey[key]; !ok {
				idx.byKey[key] = c
			}
		}
	}
	return idx
}

// Resolve looks incoming up by its keys, strongest first.
func (idx *Index[T]) Resolve(incoming T) (T, bool) {
	for _, key := range idx.strategy.Keys(incoming) {
		if row, ok := idx.byKey[key]; ok {
			return row, true
		}
	}
	var zero T
	return zero, false
}

// Add makes row the match for all of its keys.
func (idx *Index[T]) Add(row T) {
	for _, key := range idx.strategy.Keys(row) {
		idx.byKey[key] = row
	}
}

// MatchAll pairs every incoming row with at most one candidate and every
// candidate with at most one incoming row. All strongest-key matches are
// made before any weaker key is tried, so a uuid match is never stolen by
// a title match. The result holds the candidate index per incoming row, or
// -1 when it matched nothing.
func MatchAll[T any](s Strategy[T], candidates, incoming []T) []int {
	candidateKeys := make([][]string, len(candidates))
	depth := 0
	for i, c := range candidates {
		candidateKeys[i] = s.Keys(c)
	}
	incomingKeys := make([][]string, len(incoming))
	for i, in := range incoming {
		incomingKeys[i] = s.Keys(in)
		if len(incomingKeys[i]) > depth {
			depth = len(incomingKeys[i])
		}
	}

	matches := make([]int, len(incoming))
	for i := range matches {
		matches[i] = -1
	}
	claimed := make([]bool, len(candidates))
	for level := 0; level < depth; level++ {
		owner := make(map[string]int)
		for ci, keys := range candidateKeys {
			if claimed[ci] {
				continue
			}
			for _, key := range keys {
				if _, ok := owner[key]; !ok {
					owner[key] = ci
				}
			}
		}
		for ii, keys := range incomingKeys {
			if matches[ii] >= 0 || level >= len(keys) {
				continue
			}
			ci, ok := owner[keys[level]]
			if !ok || claimed[ci] {
				continue
			}
			claimed[ci] = true
			matches[ii] = ci
		}
	}
	return matches
}

// NewestFirst orders ledger rows so that MatchAll and Index prefer the most
// recent row for a shared key: newest AddedDate first, live rows before
// tombstones written at the same instant, then highest id.
func NewestFirst(rows []domain.Deliverable) []domain.Deliverable {
	sorted := append([]domain.Deliverable(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.AddedDate != b.AddedDate {
			return a.AddedDate > b.AddedDate
		}
		if a.IsTombstone() != b.IsTombstone() {
			return !a.IsTombstone()
		}
		return a.ID > b.ID
	})
	return sorted
}

// RepeatedTitles returns the announced titles carried by more than one
// distinct uuid in rows, with the number of uuids sharing each.
func RepeatedTitles(rows []domain.Deliverable, p Policy) map[string]int {
	uuids := make(map[string]map[string]struct{})
	for _, d := range rows {
		if d.UUID == "" || !p.Announced(d.Title) {
			continue
		}
		if uuids[d.Title] == nil {
			uuids[d.Title] = make(map[string]struct{})
		}
		uuids[d.Title][d.UUID] = struct{}{}
	}
	out := make(map[string]int)
	for title, set := range uuids {
		if len(set) > 1 {
			out[title] = len(set)
		}
	}
	return out
}
