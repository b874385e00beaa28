// Package export writes reconstructed snapshots as plain feed documents that
// can be archived or replayed into an empty ledger.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/141JosephAlen/ec-bot/internal/domain"
	"github.com/141JosephAlen/ec-bot/internal/feed"
	"github.com/141JosephAlen/ec-bot/internal/service/delta"
	"github.com/141JosephAlen/ec-bot/internal/service/reconstruct"
)

// Snapshot is an exported roadmap and the observation it was read from.
type Snapshot struct {
	ObservedAt   domain.Millis
	Deliverables []feed.Deliverable
}

// Engine exports snapshots.
type Engine struct {
	snapshots *reconstruct.Engine
	logger    *slog.Logger
}

// New constructs an Engine.
func New(snapshots *reconstruct.Engine, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{snapshots: snapshots, logger: logger.With("component", "export")}
}

// Snapshot exports the newest observation not after at, or the newest
// observation overall when at is zero.
func (e *Engine) Snapshot(ctx context.Context, at domain.Millis) (Snapshot, error) {
	observation, ok, err := e.snapshots.ObservationAt(ctx, at)
	if err != nil {
		return Snapshot{}, err
	}
	if !ok {
		return Snapshot{}, delta.ErrInsufficientData
	}
	return e.export(ctx, observation)
}

func (e *Engine) export(ctx context.Context, observation domain.Millis) (Snapshot, error) {
	deliverables, err := e.snapshots.Snapshot(ctx, observation, reconstruct.Options{Alphabetize: true})
	if err != nil {
		return Snapshot{}, fmt.Errorf("reconstruct %s: %w", observation.String(), err)
	}
	return Snapshot{ObservedAt: observation, Deliverables: feed.Encode(deliverables)}, nil
}

// WriteFile exports one snapshot into dir and returns the file path.
func (e *Engine) WriteFile(ctx context.Context, dir string, at domain.Millis) (string, error) {
	snap, err := e.Snapshot(ctx, at)
	if err != nil {
		return "", err
	}
	return e.write(dir, snap)
}

// WriteAll exports every observation into dir, oldest first.
func (e *Engine) WriteAll(ctx context.Context, dir string) ([]string, error) {
	times, err := e.snapshots.Observations(ctx)
	if err != nil {
		return nil, err
	}
	if len(times) == 0 {
		return nil, delta.ErrInsufficientData
	}
	paths := make([]string, 0, len(times))
	for i := len(times) - 1; i >= 0; i-- {
		snap, err := e.export(ctx, times[i])
		if err != nil {
			return paths, err
		}
		path, err := e.write(dir, snap)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (e *Engine) write(dir string, snap Snapshot) (string, error) {
	path := filepath.Join(dir, feed.FileName(snap.ObservedAt))
	if err := feed.WriteFile(path, snap.Deliverables); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	e.logger.Info("snapshot exported", "observed_at", snap.ObservedAt.String(), "deliverables", len(snap.Deliverables), "path", path)
	return path, nil
}
