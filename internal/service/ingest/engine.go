// Package ingest turns a full roadmap snapshot into the rows that record how
// it differs from the ledger, and appends them as one observation.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/141JosephAlen/ec-bot/internal/domain"
	"github.com/141JosephAlen/ec-bot/internal/repository"
	"github.com/141JosephAlen/ec-bot/internal/service/identity"
)

var tracer = otel.Tracer("ec-bot.ingest")

// ErrStaleObservation is returned when the observation instant is not after
// the newest one already recorded.
var ErrStaleObservation = errors.New("ingest: observation is not newer than the ledger")

// Result describes one ingestion.
type Result struct {
	ObservedAt domain.Millis         `json:"observedAt"`
	Changes    domain.ChangeCounters `json:"changes"`
	Rows       domain.RowCounts      `json:"rows"`
	Warnings   []domain.Warning      `json:"warnings,omitempty"`
}

// Engine is the only writer of the ledger.
type Engine struct {
	ledger repository.Ledger
	policy identity.Policy
	logger *slog.Logger
}

// New constructs an Engine.
func New(ledger repository.Ledger, policy identity.Policy, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{ledger: ledger, policy: policy, logger: logger.With("component", "ingest")}
}

// Ingest diffs snapshot against the ledger and appends the resulting rows
// observed at at. Nothing is written when nothing changed.
func (e *Engine) Ingest(ctx context.Context, at domain.Millis, snapshot []domain.Deliverable) (Result, error) {
	ctx, span := tracer.Start(ctx, "ingest.Ingest", trace.WithAttributes(
		attribute.Int64("ingest.observed_at", int64(at)),
		attribute.Int("ingest.deliverables", len(snapshot)),
	))
	defer span.End()

	batch, result, err := e.Plan(ctx, at, snapshot)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	if batch.Empty() {
		e.logger.Info("no changes detected", "observed_at", at.String())
		return result, nil
	}
	if err := e.ledger.Append(ctx, batch); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("append observation: %w", err)
	}

	span.SetAttributes(attribute.Int("ingest.rows", result.Rows.Total()))
	e.logger.Info("observation recorded",
		"observed_at", at.String(),
		"added", result.Changes.Added,
		"removed", result.Changes.Removed,
		"updated", result.Changes.Updated,
		"readded", result.Changes.Readded,
		"rows", result.Rows.Total(),
	)
	return result, nil
}

// Plan computes the rows Ingest would append without writing them.
func (e *Engine) Plan(ctx context.Context, at domain.Millis, snapshot []domain.Deliverable) (domain.Batch, Result, error) {
	if at <= 0 {
		return domain.Batch{}, Result{}, fmt.Errorf("%w: observation time required", repository.ErrInvalidArgument)
	}
	times, err := e.ledger.ObservationTimes(ctx)
	if err != nil {
		return domain.Batch{}, Result{}, fmt.Errorf("load observation times: %w", err)
	}
	if len(times) > 0 && at <= times[0] {
		return domain.Batch{}, Result{}, fmt.Errorf("%w: %s <= %s", ErrStaleObservation, at.String(), times[0].String())
	}

	p, err := e.load(ctx, at)
	if err != nil {
		return domain.Batch{}, Result{}, err
	}
	p.run(snapshot)

	for _, w := range p.warnings {
		e.logger.Warn("input rejected", "kind", w.Kind, "key", w.Key, "reason", w.Reason)
	}
	result := Result{
		ObservedAt: at,
		Changes:    p.changes,
		Rows:       p.batch.Counts(),
		Warnings:   p.warnings,
	}
	return p.batch, result, nil
}

// load reads the current ledger state the planner diffs against.
func (e *Engine) load(ctx context.Context, at domain.Millis) (*planner, error) {
	deliverables, err := e.ledger.LatestDeliverables(ctx, domain.Forever)
	if err != nil {
		return nil, fmt.Errorf("load deliverables: %w", err)
	}
	teams, err := e.ledger.LatestTeams(ctx, domain.Forever)
	if err != nil {
		return nil, fmt.Errorf("load teams: %w", err)
	}
	allocations, err := e.ledger.LatestTimeAllocations(ctx, domain.Forever)
	if err != nil {
		return nil, fmt.Errorf("load time allocations: %w", err)
	}
	disciplines, err := e.ledger.LatestDisciplines(ctx, domain.Forever)
	if err != nil {
		return nil, fmt.Errorf("load disciplines: %w", err)
	}
	cards, err := e.ledger.LatestCards(ctx, domain.Forever)
	if err != nil {
		return nil, fmt.Errorf("load cards: %w", err)
	}

	candidates := identity.NewestFirst(deliverables)
	deliverableIDs := make([]int64, 0, len(candidates))
	cardIDs := make([]int64, 0, len(candidates))
	for _, d := range candidates {
		if d.IsTombstone() {
			continue
		}
		deliverableIDs = append(deliverableIDs, d.ID)
		if d.CardID != 0 {
			cardIDs = append(cardIDs, d.CardID)
		}
	}
	links, err := e.ledger.LinksByDeliverable(ctx, deliverableIDs)
	if err != nil {
		return nil, fmt.Errorf("load deliverable teams: %w", err)
	}
	teamIDs := make([]int64, 0, len(links))
	for _, l := range links {
		teamIDs = append(teamIDs, l.TeamID)
	}
	linkedTeams, err := e.ledger.TeamsByID(ctx, teamIDs)
	if err != nil {
		return nil, fmt.Errorf("load linked teams: %w", err)
	}
	linkedCards, err := e.ledger.CardsByID(ctx, cardIDs)
	if err != nil {
		return nil, fmt.Errorf("load deliverable cards: %w", err)
	}

	return newPlanner(at, e.policy, state{
		deliverables: candidates,
		teams:        teams,
		allocations:  allocations,
		disciplines:  disciplines,
		cards:        cards,
		links:        links,
		linkedTeams:  linkedTeams,
		linkedCards:  linkedCards,
	}), nil
}
