package delta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/141JosephAlen/ec-bot/internal/domain"
	"github.com/141JosephAlen/ec-bot/internal/service/identity"
	"github.com/141JosephAlen/ec-bot/internal/service/reconstruct"
)

var tracer = otel.Tracer("ec-bot.delta")

// ErrInsufficientData is returned when no valid pair of observations frames
// the requested window.
var ErrInsufficientData = errors.New("delta: invalid timespan or insufficient data to compare")

// Engine compares reconstructed snapshots.
type Engine struct {
	snapshots *reconstruct.Engine
	policy    identity.Policy
	model     LoadModel
	logger    *slog.Logger

	now func() time.Time
}

// New constructs an Engine.
func New(snapshots *reconstruct.Engine, policy identity.Policy, model LoadModel, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		snapshots: snapshots,
		policy:    policy,
		model:     model,
		logger:    logger.With("component", "delta"),
		now:       time.Now,
	}
}

// Window resolves a requested span to two observation instants. end selects
// the newest observation not after it, or the newest overall when zero.
// start selects the newest observation not after it, or the one right
// before end when zero.
func (e *Engine) Window(ctx context.Context, start, end domain.Millis) (domain.Millis, domain.Millis, error) {
	to, ok, err := e.snapshots.ObservationAt(ctx, end)
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return 0, 0, ErrInsufficientData
	}

	var from domain.Millis
	if start != 0 {
		from, ok, err = e.snapshots.ObservationAt(ctx, start)
	} else {
		from, ok, err = e.snapshots.ObservationBefore(ctx, to)
	}
	if err != nil {
		return 0, 0, err
	}
	if !ok || from >= to {
		return 0, 0, ErrInsufficientData
	}
	return from, to, nil
}

// Compare reconstructs both ends of the window and diffs them at the
// current instant.
func (e *Engine) Compare(ctx context.Context, start, end domain.Millis) (ChangeSet, error) {
	ctx, span := tracer.Start(ctx, "delta.Compare", trace.WithAttributes(
		attribute.Int64("delta.start", int64(start)),
		attribute.Int64("delta.end", int64(end)),
	))
	defer span.End()

	from, to, err := e.Window(ctx, start, end)
	if err != nil {
		return ChangeSet{}, err
	}
	opts := reconstruct.Options{Alphabetize: true}
	first, err := e.snapshots.Snapshot(ctx, from, opts)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("reconstruct %s: %w", from.String(), err)
	}
	last, err := e.snapshots.Snapshot(ctx, to, opts)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("reconstruct %s: %w", to.String(), err)
	}
	tombstones, err := e.snapshots.Removed(ctx, from)
	if err != nil {
		return ChangeSet{}, err
	}

	cs := Diff(first, last, tombstones, domain.MillisOf(e.now()), e.policy, e.model)
	cs.From, cs.To = from, to
	e.logger.Info("roadmaps compared",
		"from", from.String(),
		"to", to.String(),
		"summary", cs.Counters.String(),
		"unchanged", cs.Unchanged,
	)
	return cs, nil
}
