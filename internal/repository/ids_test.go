package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/141JosephAlen/ec-bot/internal/domain"
)

type recordingInserter struct {
	next        int64
	deliverable []domain.Deliverable
	allocations []domain.TimeAllocation
	links       []domain.DeliverableTeam
}

func (r *recordingInserter) id() int64 {
	r.next++
	return r.next * 100
}

func (r *recordingInserter) InsertDiscipline(context.Context, domain.Discipline) (int64, error) {
	return r.id(), nil
}

func (r *recordingInserter) InsertCard(context.Context, domain.Card) (int64, error) {
	return r.id(), nil
}

func (r *recordingInserter) InsertTeam(context.Context, domain.Team) (int64, error) {
	return r.id(), nil
}

func (r *recordingInserter) InsertDeliverable(_ context.Context, d domain.Deliverable) (int64, error) {
	r.deliverable = append(r.deliverable, d)
	return r.id(), nil
}

func (r *recordingInserter) InsertTimeAllocation(_ context.Context, ta domain.TimeAllocation) (int64, error) {
	r.allocations = append(r.allocations, ta)
	return r.id(), nil
}

func (r *recordingInserter) InsertLink(_ context.Context, l domain.DeliverableTeam) error {
	r.links = append(r.links, l)
	return nil
}

func TestApplyBatchResolvesProvisionalIDs(t *testing.T) {
	batch := domain.Batch{
		Disciplines:     []domain.Discipline{{ID: -1, UUID: "di"}},
		Cards:           []domain.Card{{ID: -2, TID: "c"}},
		Teams:           []domain.Team{{ID: -3, Slug: "t"}},
		Deliverables:    []domain.Deliverable{{ID: -4, UUID: "d", CardID: -2}},
		TimeAllocations: []domain.TimeAllocation{{ID: -5, UUID: "ta", TeamID: -3, DeliverableID: -4, DisciplineID: -1}},
		Links:           []domain.DeliverableTeam{{DeliverableID: -4, TeamID: 17}},
	}
	ins := &recordingInserter{}
	if err := ApplyBatch(context.Background(), ins, batch); err != nil {
		t.Fatalf("ApplyBatch() failed: %v", err)
	}
	if got := ins.deliverable[0].CardID; got != 200 {
		t.Fatalf("expected card id 200, got %d", got)
	}
	ta := ins.allocations[0]
	if ta.DisciplineID != 100 || ta.TeamID != 300 || ta.DeliverableID != 400 {
		t.Fatalf("unexpected allocation references: %+v", ta)
	}
	if l := ins.links[0]; l.DeliverableID != 400 || l.TeamID != 17 {
		t.Fatalf("unexpected link: %+v", l)
	}
}

func TestApplyBatchRejectsDanglingReference(t *testing.T) {
	batch := domain.Batch{
		Links: []domain.DeliverableTeam{{DeliverableID: -9, TeamID: 1}},
	}
	err := ApplyBatch(context.Background(), &recordingInserter{}, batch)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
