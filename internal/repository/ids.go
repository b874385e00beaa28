package repository

import (
	"context"
	"fmt"

	"github.com/141JosephAlen/ec-bot/internal/domain"
)

// IDMap tracks provisional (negative) row ids and the ids the store assigned.
type IDMap map[int64]int64

// Bind records the assigned id for a provisional one.
func (m IDMap) Bind(provisional, assigned int64) {
	if provisional < 0 {
		m[provisional] = assigned
	}
}

// Resolve maps provisional ids to assigned ones. Zero stays zero.
func (m IDMap) Resolve(id int64) (int64, error) {
	if id >= 0 {
		return id, nil
	}
	assigned, ok := m[id]
	if !ok {
		return 0, fmt.Errorf("%w: unresolved provisional id %d", ErrInvalidArgument, id)
	}
	return assigned, nil
}

// Inserter writes single rows and returns their ids. Stores implement it on
// their transaction type and hand it to ApplyBatch.
type Inserter interface {
	InsertDiscipline(ctx context.Context, d domain.Discipline) (int64, error)
	InsertCard(ctx context.Context, c domain.Card) (int64, error)
	InsertTeam(ctx context.Context, t domain.Team) (int64, error)
	InsertDeliverable(ctx context.Context, d domain.Deliverable) (int64, error)
	InsertTimeAllocation(ctx context.Context, ta domain.TimeAllocation) (int64, error)
	InsertLink(ctx context.Context, l domain.DeliverableTeam) error
}

// ApplyBatch inserts the batch in dependency order, rewriting provisional
// references as ids are assigned.
func ApplyBatch(ctx context.Context, ins Inserter, batch domain.Batch) error {
	ids := IDMap{}
	for _, d := range batch.Disciplines {
		id, err := ins.InsertDiscipline(ctx, d)
		if err != nil {
			return fmt.Errorf("insert discipline %s: %w", d.UUID, err)
		}
		ids.Bind(d.ID, id)
	}
	for _, c := range batch.Cards {
		id, err := ins.InsertCard(ctx, c)
		if err != nil {
			return fmt.Errorf("insert card %s: %w", c.TID, err)
		}
		ids.Bind(c.ID, id)
	}
	for _, t := range batch.Teams {
		id, err := ins.InsertTeam(ctx, t)
		if err != nil {
			return fmt.Errorf("insert team %s: %w", t.Slug, err)
		}
		ids.Bind(t.ID, id)
	}
	for _, d := range batch.Deliverables {
		var err error
		if d.CardID, err = ids.Resolve(d.CardID); err != nil {
			return err
		}
		id, err := ins.InsertDeliverable(ctx, d)
		if err != nil {
			return fmt.Errorf("insert deliverable %s: %w", d.UUID, err)
		}
		ids.Bind(d.ID, id)
	}
	for _, ta := range batch.TimeAllocations {
		var err error
		if ta.TeamID, err = ids.Resolve(ta.TeamID); err != nil {
			return err
		}
		if ta.DeliverableID, err = ids.Resolve(ta.DeliverableID); err != nil {
			return err
		}
		if ta.DisciplineID, err = ids.Resolve(ta.DisciplineID); err != nil {
			return err
		}
		id, err := ins.InsertTimeAllocation(ctx, ta)
		if err != nil {
			return fmt.Errorf("insert time allocation %s: %w", ta.UUID, err)
		}
		ids.Bind(ta.ID, id)
	}
	for _, l := range batch.Links {
		var err error
		if l.DeliverableID, err = ids.Resolve(l.DeliverableID); err != nil {
			return err
		}
		if l.TeamID, err = ids.Resolve(l.TeamID); err != nil {
			return err
		}
		if err := ins.InsertLink(ctx, l); err != nil {
			return fmt.Errorf("link deliverable %d to team %d: %w", l.DeliverableID, l.TeamID, err)
		}
	}
	return nil
}
