package reconstruct

import (
	"context"
	"fmt"

	"github.com/141JosephAlen/ec-bot/internal/domain"
)

// Observations lists every observation instant, newest first.
func (e *Engine) Observations(ctx context.Context) ([]domain.Millis, error) {
	times, err := e.ledger.ObservationTimes(ctx)
	if err != nil {
		return nil, fmt.Errorf("load observation times: %w", err)
	}
	return times, nil
}

// ObservationAt returns the newest observation not after at. A zero at
// selects the newest observation overall.
func (e *Engine) ObservationAt(ctx context.Context, at domain.Millis) (domain.Millis, bool, error) {
	times, err := e.Observations(ctx)
	if err != nil {
		return 0, false, err
	}
	for _, t := range times {
		if at == 0 || t <= at {
			return t, true, nil
		}
	}
	return 0, false, nil
}

// ObservationBefore returns the newest observation strictly before at.
func (e *Engine) ObservationBefore(ctx context.Context, at domain.Millis) (domain.Millis, bool, error) {
	times, err := e.Observations(ctx)
	if err != nil {
		return 0, false, err
	}
	for _, t := range times {
		if t < at {
			return t, true, nil
		}
	}
	return 0, false, nil
}

// Removed returns the newest tombstone at or before asOf of every
// deliverable that was ever removed.
func (e *Engine) Removed(ctx context.Context, asOf domain.Millis) ([]domain.Deliverable, error) {
	rows, err := e.ledger.TombstonedDeliverables(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("load removed deliverables: %w", err)
	}
	return rows, nil
}
