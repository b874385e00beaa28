// Package reconstruct rebuilds the nested roadmap graph as it stood at a
// point in time from the ledger. It is the read path every report uses.
package reconstruct

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/141JosephAlen/ec-bot/internal/domain"
	"github.com/141JosephAlen/ec-bot/internal/repository"
)

var tracer = otel.Tracer("ec-bot.reconstruct")

// Options tunes a reconstruction.
type Options struct {
	// Alphabetize orders deliverables by title, case-insensitively.
	Alphabetize bool
}

// Engine reads point-in-time snapshots.
type Engine struct {
	ledger repository.LedgerReader
	logger *slog.Logger
}

// New constructs an Engine.
func New(ledger repository.LedgerReader, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{ledger: ledger, logger: logger.With("component", "reconstruct")}
}

// Snapshot returns the deliverables present at asOf with their card, teams
// and time allocations attached.
func (e *Engine) Snapshot(ctx context.Context, asOf domain.Millis, opts Options) ([]domain.Deliverable, error) {
	ctx, span := tracer.Start(ctx, "reconstruct.Snapshot", trace.WithAttributes(
		attribute.Int64("reconstruct.as_of", int64(asOf)),
	))
	defer span.End()

	rows, err := e.ledger.LatestDeliverables(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("load deliverables: %w", err)
	}
	deliverables := make([]domain.Deliverable, 0, len(rows))
	for _, d := range rows {
		if !d.IsTombstone() {
			deliverables = append(deliverables, d)
		}
	}
	if len(deliverables) == 0 {
		return deliverables, nil
	}

	if err := e.attachCards(ctx, asOf, deliverables); err != nil {
		return nil, err
	}
	if err := e.attachTeams(ctx, asOf, deliverables); err != nil {
		return nil, err
	}

	if opts.Alphabetize {
		sort.SliceStable(deliverables, func(i, j int) bool {
			return strings.ToLower(deliverables[i].Title) < strings.ToLower(deliverables[j].Title)
		})
	}
	span.SetAttributes(attribute.Int("reconstruct.deliverables", len(deliverables)))
	return deliverables, nil
}

// attachCards resolves each deliverable's card row to the newest version of
// that card at asOf. Cards removed by then are left off.
func (e *Engine) attachCards(ctx context.Context, asOf domain.Millis, deliverables []domain.Deliverable) error {
	ids := make([]int64, 0, len(deliverables))
	for _, d := range deliverables {
		if d.CardID != 0 {
			ids = append(ids, d.CardID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	linked, err := e.ledger.CardsByID(ctx, ids)
	if err != nil {
		return fmt.Errorf("load deliverable cards: %w", err)
	}
	latest, err := e.ledger.LatestCards(ctx, asOf)
	if err != nil {
		return fmt.Errorf("load cards: %w", err)
	}
	tidByID := make(map[int64]string, len(linked))
	for _, c := range linked {
		tidByID[c.ID] = c.TID
	}
	byTID := make(map[string]domain.Card, len(latest))
	for _, c := range latest {
		byTID[c.TID] = c
	}
	for i := range deliverables {
		tid, ok := tidByID[deliverables[i].CardID]
		if !ok {
			continue
		}
		card, ok := byTID[tid]
		if !ok || card.IsTombstone() {
			continue
		}
		deliverables[i].Card = &card
	}
	return nil
}

// attachTeams joins teams through the association rows of each deliverable
// row and groups the deliverable's live time allocations under them.
func (e *Engine) attachTeams(ctx context.Context, asOf domain.Millis, deliverables []domain.Deliverable) error {
	ids := make([]int64, len(deliverables))
	index := make(map[int64]int, len(deliverables))
	for i, d := range deliverables {
		ids[i] = d.ID
		index[d.ID] = i
	}

	links, err := e.ledger.LinksByDeliverable(ctx, ids)
	if err != nil {
		return fmt.Errorf("load deliverable teams: %w", err)
	}
	allocations, err := e.ledger.LatestTimeAllocations(ctx, asOf)
	if err != nil {
		return fmt.Errorf("load time allocations: %w", err)
	}
	live := make([]domain.TimeAllocation, 0, len(allocations))
	for _, ta := range allocations {
		if ta.IsTombstone() {
			continue
		}
		if _, ok := index[ta.DeliverableID]; ok {
			live = append(live, ta)
		}
	}

	teamIDs := make([]int64, 0, len(links)+len(live))
	for _, l := range links {
		teamIDs = append(teamIDs, l.TeamID)
	}
	disciplineIDs := make([]int64, 0, len(live))
	for _, ta := range live {
		teamIDs = append(teamIDs, ta.TeamID)
		if ta.DisciplineID != 0 {
			disciplineIDs = append(disciplineIDs, ta.DisciplineID)
		}
	}
	teamRows, err := e.ledger.TeamsByID(ctx, teamIDs)
	if err != nil {
		return fmt.Errorf("load linked teams: %w", err)
	}
	latestTeams, err := e.ledger.LatestTeams(ctx, asOf)
	if err != nil {
		return fmt.Errorf("load teams: %w", err)
	}
	disciplines, err := e.disciplines(ctx, asOf, disciplineIDs)
	if err != nil {
		return err
	}

	teamByID := make(map[int64]domain.Team, len(teamRows))
	for _, t := range teamRows {
		teamByID[t.ID] = t
	}
	current := make(map[string]domain.Team, len(latestTeams))
	for _, t := range latestTeams {
		current[t.Slug] = t
	}

	slugs := make(map[int64]map[string]struct{}, len(deliverables))
	for _, l := range links {
		t, ok := teamByID[l.TeamID]
		if !ok || t.AddedDate > asOf {
			continue
		}
		if slugs[l.DeliverableID] == nil {
			slugs[l.DeliverableID] = make(map[string]struct{})
		}
		slugs[l.DeliverableID][t.Slug] = struct{}{}
	}

	grouped := make(map[int64]map[string][]domain.TimeAllocation, len(deliverables))
	for _, ta := range live {
		t, ok := teamByID[ta.TeamID]
		if !ok {
			continue
		}
		if ta.DisciplineID != 0 {
			if d, ok := disciplines[ta.DisciplineID]; ok {
				ta.Discipline = &d
			}
		}
		if grouped[ta.DeliverableID] == nil {
			grouped[ta.DeliverableID] = make(map[string][]domain.TimeAllocation)
		}
		grouped[ta.DeliverableID][t.Slug] = append(grouped[ta.DeliverableID][t.Slug], ta)
	}

	for i := range deliverables {
		d := &deliverables[i]
		names := make([]string, 0, len(slugs[d.ID]))
		for slug := range slugs[d.ID] {
			names = append(names, slug)
		}
		sort.Strings(names)
		for _, slug := range names {
			team, ok := current[slug]
			if !ok || team.IsTombstone() {
				continue
			}
			tas := grouped[d.ID][slug]
			sort.Slice(tas, func(a, b int) bool {
				if tas[a].StartDate != tas[b].StartDate {
					return tas[a].StartDate < tas[b].StartDate
				}
				return tas[a].UUID < tas[b].UUID
			})
			team.TimeAllocations = tas
			d.Teams = append(d.Teams, team)
		}
	}
	return nil
}

// disciplines maps discipline row ids to the newest version of the same
// discipline at asOf, falling back to the referenced row.
func (e *Engine) disciplines(ctx context.Context, asOf domain.Millis, ids []int64) (map[int64]domain.Discipline, error) {
	out := make(map[int64]domain.Discipline, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := e.ledger.DisciplinesByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load disciplines: %w", err)
	}
	latest, err := e.ledger.LatestDisciplines(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("load disciplines: %w", err)
	}
	byUUID := make(map[string]domain.Discipline, len(latest))
	for _, d := range latest {
		byUUID[d.UUID] = d
	}
	for _, d := range rows {
		if newest, ok := byUUID[d.UUID]; ok && !newest.IsTombstone() {
			out[d.ID] = newest
			continue
		}
		out[d.ID] = d
	}
	return out, nil
}
