package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/141JosephAlen/ec-bot/internal/domain"
	"github.com/141JosephAlen/ec-bot/internal/repository"
)

func TestLatestPicksNewestRowNotAfterAsOf(t *testing.T) {
	ctx := context.Background()
	l := New()
	first := domain.Batch{Deliverables: []domain.Deliverable{{ID: -1, UUID: "d1", Title: "Alpha", StartDate: 1, EndDate: 2, AddedDate: 100}}}
	second := domain.Batch{Deliverables: []domain.Deliverable{{ID: -1, UUID: "d1", Title: "Alpha v2", StartDate: 1, EndDate: 3, AddedDate: 200}}}
	if err := l.Append(ctx, first); err != nil {
		t.Fatalf("append first: %v", err)
	}
	if err := l.Append(ctx, second); err != nil {
		t.Fatalf("append second: %v", err)
	}

	got, err := l.LatestDeliverables(ctx, 150)
	if err != nil {
		t.Fatalf("LatestDeliverables() failed: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Alpha" {
		t.Fatalf("expected Alpha at 150, got %+v", got)
	}
	got, _ = l.LatestDeliverables(ctx, domain.Forever)
	if len(got) != 1 || got[0].Title != "Alpha v2" || got[0].ID != 2 {
		t.Fatalf("expected Alpha v2 with id 2, got %+v", got)
	}
	got, _ = l.LatestDeliverables(ctx, 50)
	if len(got) != 0 {
		t.Fatalf("expected nothing before first observation, got %+v", got)
	}

	times, _ := l.ObservationTimes(ctx)
	if len(times) != 2 || times[0] != 200 || times[1] != 100 {
		t.Fatalf("unexpected observation times %v", times)
	}
}

func TestAppendIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	l := New()
	bad := domain.Batch{
		Teams:           []domain.Team{{ID: -1, Slug: "t", StartDate: 1, EndDate: 2, AddedDate: 100}},
		TimeAllocations: []domain.TimeAllocation{{ID: -2, UUID: "ta", TeamID: -1, DeliverableID: -7, StartDate: 1, EndDate: 2}},
	}
	err := l.Append(ctx, bad)
	if !errors.Is(err, repository.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	teams, _ := l.LatestTeams(ctx, domain.Forever)
	if len(teams) != 0 {
		t.Fatalf("expected no teams after failed append, got %+v", teams)
	}
}

func TestLinksAreDeduplicated(t *testing.T) {
	ctx := context.Background()
	l := New()
	batch := domain.Batch{
		Teams:        []domain.Team{{ID: -1, Slug: "t", StartDate: 1, EndDate: 2}},
		Deliverables: []domain.Deliverable{{ID: -2, UUID: "d", StartDate: 1, EndDate: 2}},
		Links:        []domain.DeliverableTeam{{DeliverableID: -2, TeamID: -1}, {DeliverableID: -2, TeamID: -1}},
	}
	if err := l.Append(ctx, batch); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.Append(ctx, domain.Batch{Links: []domain.DeliverableTeam{{DeliverableID: 1, TeamID: 1}}}); err != nil {
		t.Fatalf("append duplicate link: %v", err)
	}
	links, _ := l.LinksByDeliverable(ctx, []int64{1})
	if len(links) != 1 {
		t.Fatalf("expected one link, got %+v", links)
	}
}

func TestTombstonedDeliverables(t *testing.T) {
	ctx := context.Background()
	l := New()
	alive := domain.Deliverable{ID: -1, UUID: "d1", Title: "Alpha", StartDate: 1, EndDate: 2, AddedDate: 100}
	_ = l.Append(ctx, domain.Batch{Deliverables: []domain.Deliverable{alive}})
	tomb := alive.Tombstone(200)
	tomb.ID = -1
	_ = l.Append(ctx, domain.Batch{Deliverables: []domain.Deliverable{tomb}})

	got, _ := l.TombstonedDeliverables(ctx, 150)
	if len(got) != 0 {
		t.Fatalf("expected no tombstones at 150, got %+v", got)
	}
	got, _ = l.TombstonedDeliverables(ctx, 250)
	if len(got) != 1 || !got[0].IsTombstone() {
		t.Fatalf("expected one tombstone at 250, got %+v", got)
	}
}
