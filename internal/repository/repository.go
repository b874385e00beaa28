package repository

import (
	"context"

	"github.com/141JosephAlen/ec-bot/internal/domain"
)

// LedgerReader answers point-in-time questions over the append-only ledger.
// Latest* methods return, per business id, the row with the greatest
// added_date not after asOf, newest first.
type LedgerReader interface {
	LatestDeliverables(ctx context.Context, asOf domain.Millis) ([]domain.Deliverable, error)
	LatestTeams(ctx context.Context, asOf domain.Millis) ([]domain.Team, error)
	LatestTimeAllocations(ctx context.Context, asOf domain.Millis) ([]domain.TimeAllocation, error)
	LatestDisciplines(ctx context.Context, asOf domain.Millis) ([]domain.Discipline, error)
	LatestCards(ctx context.Context, asOf domain.Millis) ([]domain.Card, error)
	TombstonedDeliverables(ctx context.Context, asOf domain.Millis) ([]domain.Deliverable, error)
	TeamsByID(ctx context.Context, ids []int64) ([]domain.Team, error)
	CardsByID(ctx context.Context, ids []int64) ([]domain.Card, error)
	DisciplinesByID(ctx context.Context, ids []int64) ([]domain.Discipline, error)
	LinksByDeliverable(ctx context.Context, deliverableIDs []int64) ([]domain.DeliverableTeam, error)
	ObservationTimes(ctx context.Context) ([]domain.Millis, error)
	CountDeliverables(ctx context.Context) (int, error)
}

// LedgerWriter appends observations.
type LedgerWriter interface {
	// Append writes every row of the batch in one transaction.
	Append(ctx context.Context, batch domain.Batch) error
}

// Ledger is the full entity ledger store.
type Ledger interface {
	LedgerReader
	LedgerWriter
}
