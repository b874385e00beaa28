// Package memory provides an in-process ledger used by tests and offline
// replays. Append stages every row before publishing any of them, so a
// failed batch leaves the ledger untouched.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/141JosephAlen/ec-bot/internal/domain"
	"github.com/141JosephAlen/ec-bot/internal/repository"
)

// Ledger is a mutex-guarded append-only store.
type Ledger struct {
	mu    sync.RWMutex
	state state
}

type state struct {
	deliverables []domain.Deliverable
	teams        []domain.Team
	allocations  []domain.TimeAllocation
	disciplines  []domain.Discipline
	cards        []domain.Card
	links        []domain.DeliverableTeam
	linkSet      map[domain.DeliverableTeam]struct{}
}

var _ repository.Ledger = (*Ledger)(nil)

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{state: state{linkSet: make(map[domain.DeliverableTeam]struct{})}}
}

// Append implements repository.LedgerWriter.
func (l *Ledger) Append(ctx context.Context, batch domain.Batch) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	stage := &staging{base: &l.state, linkSet: make(map[domain.DeliverableTeam]struct{})}
	if err := repository.ApplyBatch(ctx, stage, batch); err != nil {
		return err
	}
	l.state.deliverables = append(l.state.deliverables, stage.deliverables...)
	l.state.teams = append(l.state.teams, stage.teams...)
	l.state.allocations = append(l.state.allocations, stage.allocations...)
	l.state.disciplines = append(l.state.disciplines, stage.disciplines...)
	l.state.cards = append(l.state.cards, stage.cards...)
	for _, link := range stage.links {
		l.state.links = append(l.state.links, link)
		l.state.linkSet[link] = struct{}{}
	}
	return nil
}

// staging collects rows of one batch with ids continuing the base sequences.
type staging struct {
	base         *state
	deliverables []domain.Deliverable
	teams        []domain.Team
	allocations  []domain.TimeAllocation
	disciplines  []domain.Discipline
	cards        []domain.Card
	links        []domain.DeliverableTeam
	linkSet      map[domain.DeliverableTeam]struct{}
}

func (s *staging) InsertDiscipline(_ context.Context, d domain.Discipline) (int64, error) {
	d.ID = int64(len(s.base.disciplines) + len(s.disciplines) + 1)
	s.disciplines = append(s.disciplines, d)
	return d.ID, nil
}

func (s *staging) InsertCard(_ context.Context, c domain.Card) (int64, error) {
	c.ID = int64(len(s.base.cards) + len(s.cards) + 1)
	s.cards = append(s.cards, c)
	return c.ID, nil
}

func (s *staging) InsertTeam(_ context.Context, t domain.Team) (int64, error) {
	t.ID = int64(len(s.base.teams) + len(s.teams) + 1)
	t.TimeAllocations = nil
	s.teams = append(s.teams, t)
	return t.ID, nil
}

func (s *staging) InsertDeliverable(_ context.Context, d domain.Deliverable) (int64, error) {
	if d.CardID != 0 && !s.hasCard(d.CardID) {
		return 0, fmt.Errorf("%w: card %d", repository.ErrInvalidArgument, d.CardID)
	}
	d.ID = int64(len(s.base.deliverables) + len(s.deliverables) + 1)
	d.Projects = append(domain.Projects(nil), d.Projects...)
	d.Card = nil
	d.Teams = nil
	s.deliverables = append(s.deliverables, d)
	return d.ID, nil
}

func (s *staging) InsertTimeAllocation(_ context.Context, ta domain.TimeAllocation) (int64, error) {
	if ta.TeamID != 0 && ta.TeamID > int64(len(s.base.teams)+len(s.teams)) {
		return 0, fmt.Errorf("%w: team %d", repository.ErrInvalidArgument, ta.TeamID)
	}
	if ta.DeliverableID != 0 && ta.DeliverableID > int64(len(s.base.deliverables)+len(s.deliverables)) {
		return 0, fmt.Errorf("%w: deliverable %d", repository.ErrInvalidArgument, ta.DeliverableID)
	}
	if ta.DisciplineID != 0 && ta.DisciplineID > int64(len(s.base.disciplines)+len(s.disciplines)) {
		return 0, fmt.Errorf("%w: discipline %d", repository.ErrInvalidArgument, ta.DisciplineID)
	}
	ta.ID = int64(len(s.base.allocations) + len(s.allocations) + 1)
	ta.Discipline = nil
	s.allocations = append(s.allocations, ta)
	return ta.ID, nil
}

func (s *staging) InsertLink(_ context.Context, link domain.DeliverableTeam) error {
	if _, ok := s.base.linkSet[link]; ok {
		return nil
	}
	if _, ok := s.linkSet[link]; ok {
		return nil
	}
	s.linkSet[link] = struct{}{}
	s.links = append(s.links, link)
	return nil
}

func (s *staging) hasCard(id int64) bool {
	return id > 0 && id <= int64(len(s.base.cards)+len(s.cards))
}

// LatestDeliverables implements repository.LedgerReader.
func (l *Ledger) LatestDeliverables(_ context.Context, asOf domain.Millis) ([]domain.Deliverable, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return latest(l.state.deliverables, asOf, func(d domain.Deliverable) (string, domain.Millis, int64) {
		return d.UUID, d.AddedDate, d.ID
	}), nil
}

// LatestTeams implements repository.LedgerReader.
func (l *Ledger) LatestTeams(_ context.Context, asOf domain.Millis) ([]domain.Team, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return latest(l.state.teams, asOf, func(t domain.Team) (string, domain.Millis, int64) {
		return t.Slug, t.AddedDate, t.ID
	}), nil
}

// LatestTimeAllocations implements repository.LedgerReader.
func (l *Ledger) LatestTimeAllocations(_ context.Context, asOf domain.Millis) ([]domain.TimeAllocation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return latest(l.state.allocations, asOf, func(ta domain.TimeAllocation) (string, domain.Millis, int64) {
		return ta.UUID, ta.AddedDate, ta.ID
	}), nil
}

// LatestDisciplines implements repository.LedgerReader.
func (l *Ledger) LatestDisciplines(_ context.Context, asOf domain.Millis) ([]domain.Discipline, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return latest(l.state.disciplines, asOf, func(d domain.Discipline) (string, domain.Millis, int64) {
		return d.UUID, d.AddedDate, d.ID
	}), nil
}

// LatestCards implements repository.LedgerReader.
func (l *Ledger) LatestCards(_ context.Context, asOf domain.Millis) ([]domain.Card, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return latest(l.state.cards, asOf, func(c domain.Card) (string, domain.Millis, int64) {
		return c.TID, c.AddedDate, c.ID
	}), nil
}

// TombstonedDeliverables implements repository.LedgerReader.
func (l *Ledger) TombstonedDeliverables(_ context.Context, asOf domain.Millis) ([]domain.Deliverable, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tombstones := make([]domain.Deliverable, 0)
	for _, d := range l.state.deliverables {
		if d.IsTombstone() {
			tombstones = append(tombstones, d)
		}
	}
	return latest(tombstones, asOf, func(d domain.Deliverable) (string, domain.Millis, int64) {
		return d.UUID, d.AddedDate, d.ID
	}), nil
}

// TeamsByID implements repository.LedgerReader.
func (l *Ledger) TeamsByID(_ context.Context, ids []int64) ([]domain.Team, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return byID(l.state.teams, ids), nil
}

// CardsByID implements repository.LedgerReader.
func (l *Ledger) CardsByID(_ context.Context, ids []int64) ([]domain.Card, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return byID(l.state.cards, ids), nil
}

// DisciplinesByID implements repository.LedgerReader.
func (l *Ledger) DisciplinesByID(_ context.Context, ids []int64) ([]domain.Discipline, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return byID(l.state.disciplines, ids), nil
}

// LinksByDeliverable implements repository.LedgerReader.
func (l *Ledger) LinksByDeliverable(_ context.Context, deliverableIDs []int64) ([]domain.DeliverableTeam, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	wanted := make(map[int64]struct{}, len(deliverableIDs))
	for _, id := range deliverableIDs {
		wanted[id] = struct{}{}
	}
	out := make([]domain.DeliverableTeam, 0)
	for _, link := range l.state.links {
		if _, ok := wanted[link.DeliverableID]; ok {
			out = append(out, link)
		}
	}
	return out, nil
}

// ObservationTimes implements repository.LedgerReader.
func (l *Ledger) ObservationTimes(context.Context) ([]domain.Millis, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	seen := make(map[domain.Millis]struct{})
	for _, d := range l.state.deliverables {
		seen[d.AddedDate] = struct{}{}
	}
	for _, t := range l.state.teams {
		seen[t.AddedDate] = struct{}{}
	}
	for _, ta := range l.state.allocations {
		seen[ta.AddedDate] = struct{}{}
	}
	for _, d := range l.state.disciplines {
		seen[d.AddedDate] = struct{}{}
	}
	for _, c := range l.state.cards {
		seen[c.AddedDate] = struct{}{}
	}
	out := make([]domain.Millis, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out, nil
}

// CountDeliverables implements repository.LedgerReader.
func (l *Ledger) CountDeliverables(context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.state.deliverables), nil
}

// latest picks the newest row per key not after asOf, newest first.
func latest[T any](rows []T, asOf domain.Millis, keyOf func(T) (string, domain.Millis, int64)) []T {
	best := make(map[string]int)
	for i, row := range rows {
		key, added, id := keyOf(row)
		if added > asOf {
			continue
		}
		j, ok := best[key]
		if !ok {
			best[key] = i
			continue
		}
		_, prevAdded, prevID := keyOf(rows[j])
		if added > prevAdded || (added == prevAdded && id > prevID) {
			best[key] = i
		}
	}
	out := make([]T, 0, len(best))
	for _, i := range best {
		out = append(out, rows[i])
	}
	sort.Slice(out, func(i, j int) bool {
		_, ai, aid := keyOf(out[i])
		_, bi, bid := keyOf(out[j])
		if ai != bi {
			return ai > bi
		}
		return aid > bid
	})
	return out
}

type identified interface {
	domain.Team | domain.Card | domain.Discipline
}

func byID[T identified](rows []T, ids []int64) []T {
	out := make([]T, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id <= 0 || id > int64(len(rows)) {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, rows[id-1])
	}
	return out
}
