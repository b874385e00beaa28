package ingest

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/141JosephAlen/ec-bot/internal/domain"
	"github.com/141JosephAlen/ec-bot/internal/repository/memory"
	"github.com/141JosephAlen/ec-bot/internal/service/identity"
	"github.com/141JosephAlen/ec-bot/internal/service/reconstruct"
)

func day(d int) domain.Millis {
	return domain.MillisOf(time.Date(2021, time.January, d, 0, 0, 0, 0, time.UTC))
}

func newEngine() (*Engine, *memory.Ledger) {
	ledger := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	return New(ledger, identity.DefaultPolicy(), logger), ledger
}

func allocation(uuid string, start, end int) domain.TimeAllocation {
	return domain.TimeAllocation{
		UUID:       uuid,
		StartDate:  day(start),
		EndDate:    day(end),
		Discipline: &domain.Discipline{UUID: "di-" + uuid, Title: "Engineering", NumberOfMembers: 2},
	}
}

func team(slug string, allocations ...domain.TimeAllocation) domain.Team {
	return domain.Team{
		Slug:            slug,
		Title:           slug + " team",
		StartDate:       day(1),
		EndDate:         day(28),
		TimeAllocations: allocations,
	}
}

func deliverable(uuid, title string, teams ...domain.Team) domain.Deliverable {
	return domain.Deliverable{
		UUID:      uuid,
		Slug:      uuid,
		Title:     title,
		StartDate: day(1),
		EndDate:   day(28),
		Projects:  domain.Projects{domain.ProjectStarCitizen},
		Card:      &domain.Card{TID: "card-" + uuid, Title: title, ReleaseID: "r1", ReleaseTitle: "3.13", UpdateDate: day(1)},
		Teams:     teams,
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	engine, ledger := newEngine()
	snapshot := []domain.Deliverable{deliverable("d1", "Alpha", team("vfx", allocation("ta1", 1, 10)))}

	first, err := engine.Ingest(ctx, day(1), snapshot)
	require.NoError(t, err)
	require.Equal(t, domain.ChangeCounters{Added: 1}, first.Changes)
	require.Equal(t, domain.RowCounts{Deliverables: 1, Teams: 1, TimeAllocations: 1, Disciplines: 1, Cards: 1, Links: 1}, first.Rows)

	second, err := engine.Ingest(ctx, day(2), snapshot)
	require.NoError(t, err)
	require.Zero(t, second.Rows.Total())
	require.False(t, second.Changes.Any())

	count, err := ledger.CountDeliverables(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestRemovalThenReaddition(t *testing.T) {
	ctx := context.Background()
	engine, ledger := newEngine()
	snapshot := []domain.Deliverable{deliverable("d1", "Alpha", team("vfx", allocation("ta1", 1, 10)))}

	_, err := engine.Ingest(ctx, day(1), snapshot)
	require.NoError(t, err)

	removed, err := engine.Ingest(ctx, day(2), nil)
	require.NoError(t, err)
	require.Equal(t, domain.ChangeCounters{Removed: 1}, removed.Changes)
	require.Equal(t, domain.RowCounts{Deliverables: 1, Teams: 1, TimeAllocations: 1, Disciplines: 1, Cards: 1}, removed.Rows)

	tombstones, err := ledger.TombstonedDeliverables(ctx, day(2))
	require.NoError(t, err)
	require.Len(t, tombstones, 1)
	require.Equal(t, "Alpha", tombstones[0].Title)

	back, err := engine.Ingest(ctx, day(3), snapshot)
	require.NoError(t, err)
	require.Equal(t, domain.ChangeCounters{Added: 1, Readded: 1}, back.Changes)

	latest, err := ledger.LatestDeliverables(ctx, day(3))
	require.NoError(t, err)
	require.Len(t, latest, 1)
	require.False(t, latest[0].IsTombstone())
}

func TestOnlyChangedEntitiesGetRows(t *testing.T) {
	ctx := context.Background()
	engine, _ := newEngine()
	before := []domain.Deliverable{deliverable("d1", "Alpha", team("vfx", allocation("ta1", 1, 10), allocation("ta2", 3, 12)))}
	after := []domain.Deliverable{deliverable("d1", "Alpha", team("vfx", allocation("ta1", 1, 14), allocation("ta2", 3, 12)))}

	_, err := engine.Ingest(ctx, day(1), before)
	require.NoError(t, err)

	result, err := engine.Ingest(ctx, day(2), after)
	require.NoError(t, err)
	require.Equal(t, domain.RowCounts{TimeAllocations: 1}, result.Rows)
	require.False(t, result.Changes.Any())
}

func TestUpdatedDeliverableCarriesItsAllocations(t *testing.T) {
	ctx := context.Background()
	engine, ledger := newEngine()
	_, err := engine.Ingest(ctx, day(1), []domain.Deliverable{deliverable("d1", "Alpha", team("vfx", allocation("ta1", 1, 10)))})
	require.NoError(t, err)

	renamed := deliverable("d1", "Alpha Prime", team("vfx", allocation("ta1", 1, 10)))
	result, err := engine.Ingest(ctx, day(2), []domain.Deliverable{renamed})
	require.NoError(t, err)
	require.Equal(t, domain.ChangeCounters{Updated: 1}, result.Changes)

	deliverables, err := ledger.LatestDeliverables(ctx, day(2))
	require.NoError(t, err)
	require.Len(t, deliverables, 1)
	allocations, err := ledger.LatestTimeAllocations(ctx, day(2))
	require.NoError(t, err)
	require.Len(t, allocations, 1)
	require.Equal(t, deliverables[0].ID, allocations[0].DeliverableID)

	links, err := ledger.LinksByDeliverable(ctx, []int64{deliverables[0].ID})
	require.NoError(t, err)
	require.Len(t, links, 1)
}

func TestTeamChangeRepointsSkippedDeliverable(t *testing.T) {
	ctx := context.Background()
	engine, ledger := newEngine()
	_, err := engine.Ingest(ctx, day(1), []domain.Deliverable{
		deliverable("d1", "Alpha", team("vfx", allocation("ta1", 1, 10))),
		deliverable("d2", "Beta", team("vfx", allocation("ta2", 2, 9))),
	})
	require.NoError(t, err)

	retitled := team("vfx", allocation("ta1", 1, 10))
	retitled.Title = "Visual Effects"
	broken := deliverable("d2", "Beta", team("vfx", allocation("ta2", 2, 9)))
	broken.EndDate = 0

	result, err := engine.Ingest(ctx, day(2), []domain.Deliverable{
		deliverable("d1", "Alpha", retitled),
		broken,
	})
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	require.Equal(t, "d2", result.Warnings[0].Key)
	require.False(t, result.Changes.Any())

	teams, err := ledger.LatestTeams(ctx, day(2))
	require.NoError(t, err)
	require.Len(t, teams, 1)
	require.Equal(t, "Visual Effects", teams[0].Title)

	allocations, err := ledger.LatestTimeAllocations(ctx, day(2))
	require.NoError(t, err)
	require.Len(t, allocations, 2)
	for _, ta := range allocations {
		require.Equal(t, teams[0].ID, ta.TeamID, ta.UUID)
	}

	deliverables, err := ledger.LatestDeliverables(ctx, day(2))
	require.NoError(t, err)
	ids := make([]int64, 0, len(deliverables))
	for _, d := range deliverables {
		ids = append(ids, d.ID)
	}
	links, err := ledger.LinksByDeliverable(ctx, ids)
	require.NoError(t, err)
	current := 0
	for _, l := range links {
		if l.TeamID == teams[0].ID {
			current++
		}
	}
	require.Equal(t, 2, current)
}

func TestTitleFallbackFollowsUUIDChurn(t *testing.T) {
	ctx := context.Background()
	engine, ledger := newEngine()
	_, err := engine.Ingest(ctx, day(1), []domain.Deliverable{deliverable("d1", "Alpha")})
	require.NoError(t, err)

	result, err := engine.Ingest(ctx, day(2), []domain.Deliverable{deliverable("d1-new", "Alpha")})
	require.NoError(t, err)
	require.Equal(t, domain.ChangeCounters{Updated: 1}, result.Changes)

	tombstones, err := ledger.TombstonedDeliverables(ctx, day(2))
	require.NoError(t, err)
	require.Len(t, tombstones, 1)
	require.Equal(t, "d1", tombstones[0].UUID)

	again, err := engine.Ingest(ctx, day(3), []domain.Deliverable{deliverable("d1-new", "Alpha")})
	require.NoError(t, err)
	require.Zero(t, again.Rows.Total())

	got, err := reconstruct.New(ledger, nil).Snapshot(ctx, day(3), reconstruct.Options{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "d1-new", got[0].UUID)
}

func TestSharedTitleMatchesByUUID(t *testing.T) {
	ctx := context.Background()
	engine, ledger := newEngine()
	snapshot := []domain.Deliverable{deliverable("d1", "Alpha"), deliverable("d2", "Alpha")}

	first, err := engine.Ingest(ctx, day(1), snapshot)
	require.NoError(t, err)
	require.Equal(t, domain.ChangeCounters{Added: 2}, first.Changes)
	require.Contains(t, first.Warnings, domain.Warning{
		Kind: "deliverable", Key: "Alpha", Reason: "title shared by 2 deliverables; matched by uuid only",
	})

	for d := 2; d <= 3; d++ {
		result, err := engine.Ingest(ctx, day(d), snapshot)
		require.NoError(t, err)
		require.Zero(t, result.Rows.Total(), "observation %d", d)
		require.False(t, result.Changes.Any(), "observation %d", d)
	}

	got, err := reconstruct.New(ledger, nil).Snapshot(ctx, day(3), reconstruct.Options{})
	require.NoError(t, err)
	uuids := make([]string, 0, len(got))
	for _, d := range got {
		uuids = append(uuids, d.UUID)
	}
	require.ElementsMatch(t, []string{"d1", "d2"}, uuids)
}

func TestSharedCardWrittenOnce(t *testing.T) {
	ctx := context.Background()
	engine, ledger := newEngine()
	alpha := deliverable("d1", "Alpha")
	beta := deliverable("d2", "Beta")
	shared := *alpha.Card
	beta.Card = &shared

	result, err := engine.Ingest(ctx, day(1), []domain.Deliverable{alpha, beta})
	require.NoError(t, err)
	require.Equal(t, 1, result.Rows.Cards)

	again, err := engine.Ingest(ctx, day(2), []domain.Deliverable{alpha, beta})
	require.NoError(t, err)
	require.Zero(t, again.Rows.Total())

	got, err := reconstruct.New(ledger, nil).Snapshot(ctx, day(2), reconstruct.Options{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].Card)
	require.NotNil(t, got[1].Card)
	require.Equal(t, "card-d1", got[0].Card.TID)
	require.Equal(t, got[0].Card.TID, got[1].Card.TID)
	require.Equal(t, got[0].CardID, got[1].CardID)
}

func TestCardWithoutIDKeepsExistingCard(t *testing.T) {
	ctx := context.Background()
	engine, ledger := newEngine()
	_, err := engine.Ingest(ctx, day(1), []domain.Deliverable{deliverable("d1", "Alpha")})
	require.NoError(t, err)

	alpha := deliverable("d1", "Alpha")
	alpha.Card = &domain.Card{Title: "Alpha"}
	beta := deliverable("d2", "Beta")
	beta.Card = &domain.Card{Title: "Beta"}
	result, err := engine.Ingest(ctx, day(2), []domain.Deliverable{alpha, beta})
	require.NoError(t, err)
	require.Equal(t, domain.ChangeCounters{Added: 1}, result.Changes)
	require.Equal(t, domain.RowCounts{Deliverables: 1}, result.Rows)

	got, err := reconstruct.New(ledger, nil).Snapshot(ctx, day(2), reconstruct.Options{Alphabetize: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].Card)
	require.Equal(t, "card-d1", got[0].Card.TID)
	require.Nil(t, got[1].Card)
}

func TestUnannouncedTitlesNeverMerge(t *testing.T) {
	ctx := context.Background()
	engine, _ := newEngine()
	_, err := engine.Ingest(ctx, day(1), []domain.Deliverable{deliverable("u1", "Unannounced")})
	require.NoError(t, err)

	result, err := engine.Ingest(ctx, day(2), []domain.Deliverable{deliverable("u2", "Unannounced")})
	require.NoError(t, err)
	require.Equal(t, domain.ChangeCounters{Added: 1, Removed: 1}, result.Changes)
}

func TestMalformedInputIsReported(t *testing.T) {
	ctx := context.Background()
	engine, ledger := newEngine()
	noDates := deliverable("d2", "Beta")
	noDates.StartDate = 0
	result, err := engine.Ingest(ctx, day(1), []domain.Deliverable{
		deliverable("d1", "Alpha", team("", allocation("ta1", 1, 2))),
		noDates,
	})
	require.NoError(t, err)
	require.Equal(t, domain.ChangeCounters{Added: 1}, result.Changes)
	require.Len(t, result.Warnings, 2)

	count, err := ledger.CountDeliverables(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestStaleObservationIsRejected(t *testing.T) {
	ctx := context.Background()
	engine, _ := newEngine()
	_, err := engine.Ingest(ctx, day(5), []domain.Deliverable{deliverable("d1", "Alpha")})
	require.NoError(t, err)

	_, err = engine.Ingest(ctx, day(4), []domain.Deliverable{deliverable("d1", "Alpha")})
	require.ErrorIs(t, err, ErrStaleObservation)
	_, err = engine.Ingest(ctx, day(5), nil)
	require.ErrorIs(t, err, ErrStaleObservation)
}

func TestPlanDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	engine, ledger := newEngine()
	batch, result, err := engine.Plan(ctx, day(1), []domain.Deliverable{deliverable("d1", "Alpha")})
	require.NoError(t, err)
	require.Equal(t, 1, result.Changes.Added)
	require.Len(t, batch.Deliverables, 1)
	require.Less(t, batch.Deliverables[0].ID, int64(0))

	count, err := ledger.CountDeliverables(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}
