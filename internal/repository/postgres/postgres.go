package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/141JosephAlen/ec-bot/internal/domain"
	"github.com/141JosephAlen/ec-bot/internal/repository"
	"github.com/141JosephAlen/ec-bot/internal/repository/ledgersql"
)

// Repository implements the ledger on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var _ repository.Ledger = (*Repository)(nil)

// Append writes the whole observation in one transaction.
func (r *Repository) Append(ctx context.Context, batch domain.Batch) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := repository.ApplyBatch(ctx, inserter{tx: tx}, batch); err != nil {
		return mapError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	return nil
}

func placeholder(n int) string { return fmt.Sprintf("$%d", n) }

var (
	insertDiscipline     = ledgersql.Insert(ledgersql.DisciplineTable, ledgersql.DisciplineColumns, placeholder)
	insertCard           = ledgersql.Insert(ledgersql.CardTable, ledgersql.CardColumns, placeholder)
	insertTeam           = ledgersql.Insert(ledgersql.TeamTable, ledgersql.TeamColumns, placeholder)
	insertDeliverable    = ledgersql.Insert(ledgersql.DeliverableTable, ledgersql.DeliverableColumns, placeholder)
	insertTimeAllocation = ledgersql.Insert(ledgersql.TimeAllocationTable, ledgersql.TimeAllocationColumns, placeholder)
)

type inserter struct {
	tx pgx.Tx
}

func (i inserter) insert(ctx context.Context, query string, args []any) (int64, error) {
	var id int64
	if err := i.tx.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (i inserter) InsertDiscipline(ctx context.Context, d domain.Discipline) (int64, error) {
	return i.insert(ctx, insertDiscipline, ledgersql.DisciplineArgs(d))
}

func (i inserter) InsertCard(ctx context.Context, c domain.Card) (int64, error) {
	return i.insert(ctx, insertCard, ledgersql.CardArgs(c))
}

func (i inserter) InsertTeam(ctx context.Context, t domain.Team) (int64, error) {
	return i.insert(ctx, insertTeam, ledgersql.TeamArgs(t))
}

func (i inserter) InsertDeliverable(ctx context.Context, d domain.Deliverable) (int64, error) {
	return i.insert(ctx, insertDeliverable, ledgersql.DeliverableArgs(d))
}

func (i inserter) InsertTimeAllocation(ctx context.Context, ta domain.TimeAllocation) (int64, error) {
	return i.insert(ctx, insertTimeAllocation, ledgersql.TimeAllocationArgs(ta))
}

func (i inserter) InsertLink(ctx context.Context, l domain.DeliverableTeam) error {
	const query = `INSERT INTO deliverable_teams (deliverable_id, team_id)
		VALUES ($1, $2)
		ON CONFLICT (deliverable_id, team_id) DO NOTHING`
	_, err := i.tx.Exec(ctx, query, l.DeliverableID, l.TeamID)
	return err
}

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return fmt.Errorf("%w: %s", repository.ErrNotFound, pgErr.Message)
		case "23514", "22P02", "23505":
			return fmt.Errorf("%w: %s", repository.ErrInvalidArgument, pgErr.Message)
		}
	}
	return err
}

// latestQuery selects the newest row per key not after $1.
func latestQuery(table string, columns []string, key, where string) string {
	cols := ledgersql.Select(columns)
	if where != "" {
		where = " AND " + where
	}
	return fmt.Sprintf(`SELECT %s FROM (
		SELECT DISTINCT ON (%s) %s FROM %s
		WHERE added_date <= $1%s
		ORDER BY %s, added_date DESC, id DESC
	) latest ORDER BY added_date DESC, id DESC`, cols, key, cols, table, where, key)
}

func collect[T any](ctx context.Context, pool *pgxpool.Pool, scan func(ledgersql.Scanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// LatestDeliverables returns the newest deliverable row per uuid.
func (r *Repository) LatestDeliverables(ctx context.Context, asOf domain.Millis) ([]domain.Deliverable, error) {
	query := latestQuery(ledgersql.DeliverableTable, ledgersql.DeliverableColumns, "uuid", "")
	return collect(ctx, r.pool, ledgersql.ScanDeliverable, query, int64(asOf))
}

// LatestTeams returns the newest team row per slug.
func (r *Repository) LatestTeams(ctx context.Context, asOf domain.Millis) ([]domain.Team, error) {
	query := latestQuery(ledgersql.TeamTable, ledgersql.TeamColumns, "slug", "")
	return collect(ctx, r.pool, ledgersql.ScanTeam, query, int64(asOf))
}

// LatestTimeAllocations returns the newest allocation row per uuid.
func (r *Repository) LatestTimeAllocations(ctx context.Context, asOf domain.Millis) ([]domain.TimeAllocation, error) {
	query := latestQuery(ledgersql.TimeAllocationTable, ledgersql.TimeAllocationColumns, "uuid", "")
	return collect(ctx, r.pool, ledgersql.ScanTimeAllocation, query, int64(asOf))
}

// LatestDisciplines returns the newest discipline row per uuid.
func (r *Repository) LatestDisciplines(ctx context.Context, asOf domain.Millis) ([]domain.Discipline, error) {
	query := latestQuery(ledgersql.DisciplineTable, ledgersql.DisciplineColumns, "uuid", "")
	return collect(ctx, r.pool, ledgersql.ScanDiscipline, query, int64(asOf))
}

// LatestCards returns the newest card row per tid.
func (r *Repository) LatestCards(ctx context.Context, asOf domain.Millis) ([]domain.Card, error) {
	query := latestQuery(ledgersql.CardTable, ledgersql.CardColumns, "tid", "")
	return collect(ctx, r.pool, ledgersql.ScanCard, query, int64(asOf))
}

// TombstonedDeliverables returns the newest tombstone per uuid.
func (r *Repository) TombstonedDeliverables(ctx context.Context, asOf domain.Millis) ([]domain.Deliverable, error) {
	query := latestQuery(ledgersql.DeliverableTable, ledgersql.DeliverableColumns, "uuid", "start_date IS NULL AND end_date IS NULL")
	return collect(ctx, r.pool, ledgersql.ScanDeliverable, query, int64(asOf))
}

func byIDQuery(table string, columns []string) string {
	return fmt.Sprintf(`SELECT %s FROM %s WHERE id = ANY($1) ORDER BY id`, ledgersql.Select(columns), table)
}

// TeamsByID fetches team rows by row id.
func (r *Repository) TeamsByID(ctx context.Context, ids []int64) ([]domain.Team, error) {
	return collect(ctx, r.pool, ledgersql.ScanTeam, byIDQuery(ledgersql.TeamTable, ledgersql.TeamColumns), ids)
}

// CardsByID fetches card rows by row id.
func (r *Repository) CardsByID(ctx context.Context, ids []int64) ([]domain.Card, error) {
	return collect(ctx, r.pool, ledgersql.ScanCard, byIDQuery(ledgersql.CardTable, ledgersql.CardColumns), ids)
}

// DisciplinesByID fetches discipline rows by row id.
func (r *Repository) DisciplinesByID(ctx context.Context, ids []int64) ([]domain.Discipline, error) {
	return collect(ctx, r.pool, ledgersql.ScanDiscipline, byIDQuery(ledgersql.DisciplineTable, ledgersql.DisciplineColumns), ids)
}

// LinksByDeliverable lists associations of the given deliverable rows.
func (r *Repository) LinksByDeliverable(ctx context.Context, deliverableIDs []int64) ([]domain.DeliverableTeam, error) {
	const query = `SELECT deliverable_id, team_id FROM deliverable_teams
		WHERE deliverable_id = ANY($1)
		ORDER BY deliverable_id, team_id`
	return collect(ctx, r.pool, ledgersql.ScanLink, query, deliverableIDs)
}

// ObservationTimes lists distinct observation instants, newest first.
func (r *Repository) ObservationTimes(ctx context.Context) ([]domain.Millis, error) {
	return collect(ctx, r.pool, func(sc ledgersql.Scanner) (domain.Millis, error) {
		var m int64
		err := sc.Scan(&m)
		return domain.Millis(m), err
	}, ledgersql.ObservationTimes)
}

// CountDeliverables counts deliverable rows.
func (r *Repository) CountDeliverables(ctx context.Context) (int, error) {
	row := r.pool.QueryRow(ctx, `SELECT COUNT(1) FROM deliverable_diff`)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
