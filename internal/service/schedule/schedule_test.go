package schedule

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/141JosephAlen/ec-bot/internal/domain"
	"github.com/141JosephAlen/ec-bot/internal/repository/memory"
	"github.com/141JosephAlen/ec-bot/internal/service/delta"
	"github.com/141JosephAlen/ec-bot/internal/service/identity"
	"github.com/141JosephAlen/ec-bot/internal/service/ingest"
	"github.com/141JosephAlen/ec-bot/internal/service/reconstruct"
)

func day(d int) domain.Millis {
	return domain.MillisOf(time.Date(2022, time.August, 1, 0, 0, 0, 0, time.UTC)) + domain.Millis(d-1)*domain.DayMillis
}

var engineering = &domain.Discipline{UUID: "di1", Title: "Engineering", NumberOfMembers: 2}

func task(uuid string, start, end int, partial bool) domain.TimeAllocation {
	return domain.TimeAllocation{UUID: uuid, StartDate: day(start), EndDate: day(end), PartialTime: partial, Discipline: engineering}
}

func roadmap() []domain.Deliverable {
	return []domain.Deliverable{
		{
			UUID: "d1", Slug: "alpha", Title: "Alpha", StartDate: day(1), EndDate: day(30),
			Projects: domain.Projects{domain.ProjectStarCitizen},
			Teams: []domain.Team{
				{Slug: "vfx", Title: "VFX", StartDate: day(1), EndDate: day(30), TimeAllocations: []domain.TimeAllocation{
					task("t1", 1, 14, false), task("t2", 1, 14, true), task("t3", 10, 20, false),
				}},
				{Slug: "audio", Title: "Audio", StartDate: day(1), EndDate: day(30), TimeAllocations: []domain.TimeAllocation{
					task("t4", 25, 30, false),
				}},
			},
		},
		{
			UUID: "d2", Slug: "beta", Title: "Beta", StartDate: day(1), EndDate: day(30),
			Teams: []domain.Team{
				{Slug: "ui", Title: "UI", StartDate: day(1), EndDate: day(30), TimeAllocations: []domain.TimeAllocation{
					task("t5", 20, 28, false),
				}},
			},
		},
	}
}

func TestBuildMergesSprintsActiveAtInstant(t *testing.T) {
	report := Build(day(12), roadmap(), delta.DefaultLoadModel())
	require.Equal(t, 1, report.Teams)
	require.Len(t, report.Deliverables, 1)

	d := report.Deliverables[0]
	require.Equal(t, "Alpha", d.Title)
	require.Len(t, d.Teams, 1)
	require.Equal(t, "vfx", d.Teams[0].Slug)
	require.Equal(t, []Period{{
		Discipline: "Engineering",
		Members:    2,
		Start:      day(1),
		End:        day(20),
		FullTime:   2,
		PartTime:   1,
		Load:       110,
	}}, d.Teams[0].Periods)
}

func TestBuildWithNothingScheduled(t *testing.T) {
	report := Build(day(60), roadmap(), delta.DefaultLoadModel())
	require.Empty(t, report.Deliverables)
	require.Zero(t, report.Teams)
}

func TestReportFlagsPastInstants(t *testing.T) {
	ctx := context.Background()
	ledger := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	policy := identity.DefaultPolicy()
	writer := ingest.New(ledger, policy, logger)
	engine := New(reconstruct.New(ledger, logger), delta.DefaultLoadModel(), logger)

	_, err := engine.Report(ctx, day(1))
	require.ErrorIs(t, err, delta.ErrInsufficientData)

	_, err = writer.Ingest(ctx, day(1), roadmap())
	require.NoError(t, err)
	_, err = writer.Ingest(ctx, day(21), roadmap()[:1])
	require.NoError(t, err)

	past, err := engine.Report(ctx, day(20))
	require.NoError(t, err)
	require.True(t, past.Past)
	require.Equal(t, day(1), past.Observation)
	require.Len(t, past.Deliverables, 2)
	require.Equal(t, "beta", past.Deliverables[1].Slug)
	require.Equal(t, 2, past.Teams)

	current, err := engine.Report(ctx, day(26))
	require.NoError(t, err)
	require.False(t, current.Past)
	require.Equal(t, "audio", current.Deliverables[0].Teams[0].Slug)
}
