// Package schedule reports which deliverables teams are working on at a
// given instant and how loaded their disciplines are.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/141JosephAlen/ec-bot/internal/domain"
	"github.com/141JosephAlen/ec-bot/internal/service/delta"
	"github.com/141JosephAlen/ec-bot/internal/service/reconstruct"
)

// Period is a merged stretch of work of one discipline active at the
// report instant.
type Period struct {
	Discipline string        `json:"discipline"`
	Members    int           `json:"members"`
	Start      domain.Millis `json:"start"`
	End        domain.Millis `json:"end"`
	FullTime   int           `json:"fullTime"`
	PartTime   int           `json:"partTime"`
	Load       int           `json:"load"`
}

// Tasks counts all tasks in the period.
func (p Period) Tasks() int {
	return p.FullTime + p.PartTime
}

// Team lists the active periods of one team on a deliverable.
type Team struct {
	Slug    string   `json:"slug"`
	Title   string   `json:"title"`
	Periods []Period `json:"periods"`
}

// Deliverable is a deliverable with work scheduled at the report instant.
type Deliverable struct {
	UUID     string          `json:"uuid"`
	Slug     string          `json:"slug"`
	Title    string          `json:"title"`
	Projects domain.Projects `json:"projects"`
	Teams    []Team          `json:"teams"`
}

// Report is the schedule at one instant.
type Report struct {
	At           domain.Millis `json:"at"`
	Observation  domain.Millis `json:"observation"`
	Past         bool          `json:"past"`
	Teams        int           `json:"teams"`
	Deliverables []Deliverable `json:"deliverables"`
}

// Engine builds schedule reports from reconstructed snapshots.
type Engine struct {
	snapshots *reconstruct.Engine
	model     delta.LoadModel
	logger    *slog.Logger
}

// New constructs an Engine.
func New(snapshots *reconstruct.Engine, model delta.LoadModel, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{snapshots: snapshots, model: model, logger: logger.With("component", "schedule")}
}

// Report returns the work scheduled at at, read from the newest observation
// not after it.
func (e *Engine) Report(ctx context.Context, at domain.Millis) (Report, error) {
	observation, ok, err := e.snapshots.ObservationAt(ctx, at)
	if err != nil {
		return Report{}, err
	}
	if !ok {
		return Report{}, delta.ErrInsufficientData
	}
	latest, _, err := e.snapshots.ObservationAt(ctx, 0)
	if err != nil {
		return Report{}, err
	}
	deliverables, err := e.snapshots.Snapshot(ctx, observation, reconstruct.Options{Alphabetize: true})
	if err != nil {
		return Report{}, fmt.Errorf("reconstruct %s: %w", observation.String(), err)
	}

	report := Build(at, deliverables, e.model)
	report.Observation = observation
	report.Past = latest > observation
	e.logger.Debug("schedule built", "at", at.String(), "deliverables", len(report.Deliverables), "teams", report.Teams)
	return report, nil
}

// Build lists the deliverables with time allocations spanning at. For each
// team and discipline, allocations sharing a sprint are counted together,
// sprints are merged into covering periods and the periods spanning at are
// reported with their load.
func Build(at domain.Millis, deliverables []domain.Deliverable, model delta.LoadModel) Report {
	report := Report{At: at, Deliverables: []Deliverable{}}
	teams := make(map[string]struct{})

	for _, d := range deliverables {
		entry := Deliverable{UUID: d.UUID, Slug: d.Slug, Title: d.Title, Projects: d.Projects}
		ordered := append([]domain.Team(nil), d.Teams...)
		sort.SliceStable(ordered, func(i, j int) bool {
			return strings.ToLower(ordered[i].Title) < strings.ToLower(ordered[j].Title)
		})
		for _, t := range ordered {
			if !activeAt(t.TimeAllocations, at) {
				continue
			}
			periods := teamPeriods(t.TimeAllocations, at, model)
			entry.Teams = append(entry.Teams, Team{Slug: t.Slug, Title: t.Title, Periods: periods})
			teams[t.Slug] = struct{}{}
		}
		if len(entry.Teams) > 0 {
			report.Deliverables = append(report.Deliverables, entry)
		}
	}
	report.Teams = len(teams)
	return report
}

func activeAt(allocations []domain.TimeAllocation, at domain.Millis) bool {
	for _, ta := range allocations {
		if ta.StartDate <= at && at <= ta.EndDate {
			return true
		}
	}
	return false
}

type sprintKey struct {
	start, end domain.Millis
}

func teamPeriods(allocations []domain.TimeAllocation, at domain.Millis, model delta.LoadModel) []Period {
	type discipline struct {
		title   string
		members int
		sprints map[sprintKey]*delta.Range
	}
	byUUID := make(map[string]*discipline)
	var order []string
	for _, ta := range allocations {
		key, title, members := "", "", 0
		if ta.Discipline != nil {
			key, title, members = ta.Discipline.UUID, ta.Discipline.Title, ta.Discipline.NumberOfMembers
		}
		d, ok := byUUID[key]
		if !ok {
			d = &discipline{title: title, members: members, sprints: make(map[sprintKey]*delta.Range)}
			byUUID[key] = d
			order = append(order, key)
		}
		sk := sprintKey{start: ta.StartDate, end: ta.EndDate}
		sprint, ok := d.sprints[sk]
		if !ok {
			sprint = &delta.Range{Start: ta.StartDate, End: ta.EndDate}
			d.sprints[sk] = sprint
		}
		if ta.PartialTime {
			sprint.PartTime++
		} else {
			sprint.FullTime++
		}
	}

	periods := make([]Period, 0)
	for _, key := range order {
		d := byUUID[key]
		sprints := make([]delta.Range, 0, len(d.sprints))
		for _, s := range d.sprints {
			sprints = append(sprints, *s)
		}
		for _, r := range delta.MergeRanges(sprints) {
			if r.Start > at || at > r.End {
				continue
			}
			periods = append(periods, Period{
				Discipline: d.title,
				Members:    d.members,
				Start:      r.Start,
				End:        r.End,
				FullTime:   r.FullTime,
				PartTime:   r.PartTime,
				Load:       model.Percent(d.members, r.FullTime, r.PartTime, r.Span()),
			})
		}
	}
	sort.SliceStable(periods, func(i, j int) bool {
		return strings.ToLower(periods[i].Discipline) < strings.ToLower(periods[j].Discipline)
	})
	return periods
}
