package delta

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/141JosephAlen/ec-bot/internal/domain"
	"github.com/141JosephAlen/ec-bot/internal/repository/memory"
	"github.com/141JosephAlen/ec-bot/internal/service/identity"
	"github.com/141JosephAlen/ec-bot/internal/service/ingest"
	"github.com/141JosephAlen/ec-bot/internal/service/reconstruct"
)

func day(d int) domain.Millis {
	return domain.MillisOf(time.Date(2022, time.May, 1, 0, 0, 0, 0, time.UTC)) + domain.Millis(d-1)*domain.DayMillis
}

func deliverable(uuid, title string, start, end int, teams ...domain.Team) domain.Deliverable {
	return domain.Deliverable{UUID: uuid, Slug: uuid, Title: title, StartDate: day(start), EndDate: day(end), Teams: teams}
}

func team(slug string, allocations ...domain.TimeAllocation) domain.Team {
	return domain.Team{Slug: slug, Title: slug, StartDate: day(1), EndDate: day(40), TimeAllocations: allocations}
}

func task(uuid string, start, end int, partial bool) domain.TimeAllocation {
	return domain.TimeAllocation{
		UUID: uuid, StartDate: day(start), EndDate: day(end), PartialTime: partial,
		Discipline: &domain.Discipline{UUID: "di1", Title: "Engineering", NumberOfMembers: 2},
	}
}

func TestMergeRangesCoversOverlaps(t *testing.T) {
	merged := MergeRanges([]Range{
		{Start: day(15), End: day(25), PartTime: 1},
		{Start: day(10), End: day(20), FullTime: 1},
	})
	require.Equal(t, []Range{{Start: day(10), End: day(25), FullTime: 1, PartTime: 1}}, merged)
	require.Equal(t, 15, Total(merged).Days())
}

func TestMergeRangesKeepsGaps(t *testing.T) {
	merged := MergeRanges([]Range{
		{Start: day(1), End: day(5), FullTime: 1},
		{Start: day(5), End: day(8), FullTime: 1},
		{Start: day(20), End: day(22), PartTime: 1},
	})
	require.Len(t, merged, 2)
	require.Equal(t, 2, merged[0].FullTime)
	require.Equal(t, 9, Total(merged).Days())
	require.Nil(t, MergeRanges(nil))
}

func TestLoadModel(t *testing.T) {
	model := DefaultLoadModel()
	load := model.Load(2, 1, 2, 10*domain.DayMillis)
	require.InDelta(t, 160.0/96.0, load, 1e-9)
	require.Equal(t, 167, model.Percent(2, 1, 2, 10*domain.DayMillis))
	require.Zero(t, model.Load(0, 3, 0, 10*domain.DayMillis))
}

func TestEndDateExtendedBeforeComparisonInstant(t *testing.T) {
	first := []domain.Deliverable{deliverable("d1", "Alpha", 1, 10)}
	last := []domain.Deliverable{deliverable("d1", "Alpha", 1, 20)}

	cs := Diff(first, last, nil, day(5), identity.DefaultPolicy(), DefaultLoadModel())
	require.Len(t, cs.Updated, 1)
	require.Equal(t, []Change{{Kind: EndExtended, FromDate: day(10), ToDate: day(20)}}, cs.Updated[0].Changes)
	require.Equal(t, domain.ChangeCounters{Updated: 1}, cs.Counters)
	require.Zero(t, cs.Unchanged)
}

func TestDateShiftSemantics(t *testing.T) {
	cases := []struct {
		name               string
		start, end         [2]int
		at                 int
		wantStart, wantEnd Kind
	}{
		{name: "past start corrected", start: [2]int{3, 1}, end: [2]int{30, 30}, at: 10, wantStart: StartCorrected},
		{name: "future start moved closer", start: [2]int{20, 15}, end: [2]int{30, 30}, at: 10, wantStart: StartMovedCloser},
		{name: "future start pushed back", start: [2]int{15, 20}, end: [2]int{30, 30}, at: 10, wantStart: StartPushedBack},
		{name: "end crosses into the past", start: [2]int{1, 1}, end: [2]int{20, 8}, at: 10, wantEnd: EndMovedEarlier},
		{name: "end moved closer", start: [2]int{1, 1}, end: [2]int{30, 20}, at: 10, wantEnd: EndMovedCloser},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			first := []domain.Deliverable{deliverable("d1", "Alpha", tc.start[0], tc.end[0])}
			last := []domain.Deliverable{deliverable("d1", "Alpha", tc.start[1], tc.end[1])}
			cs := Diff(first, last, nil, day(tc.at), identity.DefaultPolicy(), DefaultLoadModel())
			require.Len(t, cs.Updated, 1)
			kinds := make([]Kind, 0, 2)
			for _, c := range cs.Updated[0].Changes {
				kinds = append(kinds, c.Kind)
			}
			want := make([]Kind, 0, 2)
			if tc.wantStart != "" {
				want = append(want, tc.wantStart)
			}
			if tc.wantEnd != "" {
				want = append(want, tc.wantEnd)
			}
			require.Equal(t, want, kinds)
		})
	}
}

func TestTeamWorkChanges(t *testing.T) {
	first := []domain.Deliverable{deliverable("d1", "Alpha", 1, 40,
		team("vfx", task("t1", 1, 10, false)),
		team("audio", task("t2", 1, 5, false)),
	)}
	last := []domain.Deliverable{deliverable("d1", "Alpha", 1, 40,
		team("vfx", task("t1", 1, 10, false), task("t3", 5, 15, true)),
		team("ui", task("t4", 20, 24, false)),
	)}

	cs := Diff(first, last, nil, day(12), identity.DefaultPolicy(), DefaultLoadModel())
	require.Len(t, cs.Updated, 1)
	require.Empty(t, cs.Updated[0].Changes)
	require.ElementsMatch(t, []TeamChange{
		{Kind: TeamAddedWork, Slug: "vfx", Title: "vfx", Days: 5},
		{Kind: TeamAssigned, Slug: "ui", Title: "ui", Days: 4},
		{Kind: TeamRemoved, Slug: "audio", Title: "audio", Days: 39},
	}, cs.Updated[0].Teams)
}

func TestTeamAssignedWithoutWork(t *testing.T) {
	first := []domain.Deliverable{deliverable("d1", "Alpha", 1, 40, team("vfx", task("t1", 1, 10, false)))}
	last := []domain.Deliverable{deliverable("d1", "Alpha", 1, 40,
		team("vfx", task("t1", 1, 10, false)),
		team("ui"),
	)}

	cs := Diff(first, last, nil, day(12), identity.DefaultPolicy(), DefaultLoadModel())
	require.Len(t, cs.Updated, 1)
	require.Equal(t, []TeamChange{{Kind: TeamAssigned, Slug: "ui", Title: "ui", Days: 0}}, cs.Updated[0].Teams)
}

func TestAddedRemovedAndReadded(t *testing.T) {
	first := []domain.Deliverable{deliverable("d1", "Alpha", 1, 10), deliverable("d2", "Beta", 1, 10)}
	last := []domain.Deliverable{
		deliverable("d1", "Alpha", 1, 10),
		deliverable("d3", "Gamma", 1, 10, team("vfx", task("t1", 2, 12, false), task("t2", 3, 4, true))),
	}
	tombstones := []domain.Deliverable{{UUID: "d3", Title: "Gamma"}}

	cs := Diff(first, last, tombstones, day(5), identity.DefaultPolicy(), DefaultLoadModel())
	require.Equal(t, domain.ChangeCounters{Added: 1, Removed: 1, Readded: 1}, cs.Counters)
	require.Equal(t, 1, cs.Unchanged)
	require.Equal(t, "Beta", cs.Removed[0].Deliverable.Title)

	added := cs.Added[0]
	require.True(t, added.Readded)
	require.Len(t, added.Teams, 1)
	require.True(t, added.Teams[0].Began)
	require.Equal(t, day(2), added.Teams[0].FirstStart)
	require.Equal(t, []DisciplineLoad{{Title: "Engineering", Members: 2, Tasks: 2, Load: 114}}, added.Teams[0].Disciplines)
}

func TestRemovedFromRelease(t *testing.T) {
	before := deliverable("d1", "Alpha", 1, 10)
	before.Card = &domain.Card{TID: "c1", Title: "Alpha", ReleaseTitle: "3.15"}
	after := deliverable("d1", "Alpha", 1, 12)

	cs := Diff([]domain.Deliverable{before}, []domain.Deliverable{after}, nil, day(1), identity.DefaultPolicy(), DefaultLoadModel())
	require.Len(t, cs.Updated, 1)
	require.True(t, cs.Updated[0].RemovedFromRelease)
}

func TestCompareUsesNeighbouringObservations(t *testing.T) {
	ctx := context.Background()
	ledger := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	policy := identity.DefaultPolicy()
	writer := ingest.New(ledger, policy, logger)
	snapshots := reconstruct.New(ledger, logger)
	engine := New(snapshots, policy, DefaultLoadModel(), logger)
	engine.now = func() time.Time { return day(5).Time() }

	_, err := engine.Compare(ctx, 0, 0)
	require.True(t, errors.Is(err, ErrInsufficientData))

	for i, snapshot := range [][]domain.Deliverable{
		{deliverable("d1", "Alpha", 1, 10)},
		{deliverable("d1", "Alpha", 1, 20)},
		{deliverable("d1", "Alpha", 1, 20), deliverable("d2", "Beta", 1, 9)},
	} {
		_, err := writer.Ingest(ctx, day(i+1), snapshot)
		require.NoError(t, err)
	}

	cs, err := engine.Compare(ctx, 0, 0)
	require.NoError(t, err)
	require.Equal(t, day(2), cs.From)
	require.Equal(t, day(3), cs.To)
	require.Equal(t, domain.ChangeCounters{Added: 1}, cs.Counters)

	cs, err = engine.Compare(ctx, day(1), day(2))
	require.NoError(t, err)
	require.Len(t, cs.Updated, 1)
	require.Equal(t, EndExtended, cs.Updated[0].Changes[0].Kind)

	_, err = engine.Compare(ctx, day(3), day(2))
	require.ErrorIs(t, err, ErrInsufficientData)
}
