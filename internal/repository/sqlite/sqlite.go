// Package sqlite implements the ledger on an embedded SQLite database
// (ncruces/go-sqlite3, WASM build, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/141JosephAlen/ec-bot/internal/domain"
	"github.com/141JosephAlen/ec-bot/internal/repository"
	"github.com/141JosephAlen/ec-bot/internal/repository/ledgersql"
)

// Store implements repository.Ledger on SQLite.
type Store struct {
	db   *sql.DB
	path string
}

var _ repository.Ledger = (*Store)(nil)

// DSN returns the connection string for a database file. Pragmas are set per
// connection so every pooled connection enforces foreign keys.
func DSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(wal)", path)
}

// Open opens (creating if needed) the ledger database at path. The schema is
// applied separately through the migration runner.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	s.db = nil
	return nil
}

// Append implements repository.LedgerWriter.
func (s *Store) Append(ctx context.Context, batch domain.Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := repository.ApplyBatch(ctx, inserter{tx: tx}, batch); err != nil {
		return mapError(err)
	}
	return tx.Commit()
}

func placeholder(int) string { return "?" }

var (
	insertDiscipline     = ledgersql.Insert(ledgersql.DisciplineTable, ledgersql.DisciplineColumns, placeholder)
	insertCard           = ledgersql.Insert(ledgersql.CardTable, ledgersql.CardColumns, placeholder)
	insertTeam           = ledgersql.Insert(ledgersql.TeamTable, ledgersql.TeamColumns, placeholder)
	insertDeliverable    = ledgersql.Insert(ledgersql.DeliverableTable, ledgersql.DeliverableColumns, placeholder)
	insertTimeAllocation = ledgersql.Insert(ledgersql.TimeAllocationTable, ledgersql.TimeAllocationColumns, placeholder)
)

type inserter struct {
	tx *sql.Tx
}

func (i inserter) insert(ctx context.Context, query string, args []any) (int64, error) {
	var id int64
	if err := i.tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
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
	_, err := i.tx.ExecContext(ctx, `INSERT OR IGNORE INTO deliverable_teams (deliverable_id, team_id) VALUES (?, ?)`,
		l.DeliverableID, l.TeamID)
	return err
}

func mapError(err error) error {
	var serr *sqlite3.Error
	if errors.As(err, &serr) && serr.Code() == sqlite3.CONSTRAINT {
		return fmt.Errorf("%w: %v", repository.ErrInvalidArgument, err)
	}
	return err
}

// latestQuery selects the newest row per key not after the bound instant.
func latestQuery(table string, columns []string, key, where string) string {
	cols := ledgersql.Select(columns)
	if where != "" {
		where = " AND " + where
	}
	return fmt.Sprintf(`SELECT %s FROM (
		SELECT %s, ROW_NUMBER() OVER (PARTITION BY %s ORDER BY added_date DESC, id DESC) AS rn
		FROM %s WHERE added_date <= ?%s
	) WHERE rn = 1 ORDER BY added_date DESC, id DESC`, cols, cols, key, table, where)
}

func collect[T any](ctx context.Context, db *sql.DB, scan func(ledgersql.Scanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
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

// LatestDeliverables implements repository.LedgerReader.
func (s *Store) LatestDeliverables(ctx context.Context, asOf domain.Millis) ([]domain.Deliverable, error) {
	query := latestQuery(ledgersql.DeliverableTable, ledgersql.DeliverableColumns, "uuid", "")
	return collect(ctx, s.db, ledgersql.ScanDeliverable, query, int64(asOf))
}

// LatestTeams implements repository.LedgerReader.
func (s *Store) LatestTeams(ctx context.Context, asOf domain.Millis) ([]domain.Team, error) {
	query := latestQuery(ledgersql.TeamTable, ledgersql.TeamColumns, "slug", "")
	return collect(ctx, s.db, ledgersql.ScanTeam, query, int64(asOf))
}

// LatestTimeAllocations implements repository.LedgerReader.
func (s *Store) LatestTimeAllocations(ctx context.Context, asOf domain.Millis) ([]domain.TimeAllocation, error) {
	query := latestQuery(ledgersql.TimeAllocationTable, ledgersql.TimeAllocationColumns, "uuid", "")
	return collect(ctx, s.db, ledgersql.ScanTimeAllocation, query, int64(asOf))
}

// LatestDisciplines implements repository.LedgerReader.
func (s *Store) LatestDisciplines(ctx context.Context, asOf domain.Millis) ([]domain.Discipline, error) {
	query := latestQuery(ledgersql.DisciplineTable, ledgersql.DisciplineColumns, "uuid", "")
	return collect(ctx, s.db, ledgersql.ScanDiscipline, query, int64(asOf))
}

// LatestCards implements repository.LedgerReader.
func (s *Store) LatestCards(ctx context.Context, asOf domain.Millis) ([]domain.Card, error) {
	query := latestQuery(ledgersql.CardTable, ledgersql.CardColumns, "tid", "")
	return collect(ctx, s.db, ledgersql.ScanCard, query, int64(asOf))
}

// TombstonedDeliverables implements repository.LedgerReader.
func (s *Store) TombstonedDeliverables(ctx context.Context, asOf domain.Millis) ([]domain.Deliverable, error) {
	query := latestQuery(ledgersql.DeliverableTable, ledgersql.DeliverableColumns, "uuid", "start_date IS NULL AND end_date IS NULL")
	return collect(ctx, s.db, ledgersql.ScanDeliverable, query, int64(asOf))
}

func idList(ids []int64) (string, error) {
	if ids == nil {
		ids = []int64{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func byIDQuery(table string, columns []string) string {
	return fmt.Sprintf(`SELECT %s FROM %s WHERE id IN (SELECT value FROM json_each(?)) ORDER BY id`,
		ledgersql.Select(columns), table)
}

// TeamsByID implements repository.LedgerReader.
func (s *Store) TeamsByID(ctx context.Context, ids []int64) ([]domain.Team, error) {
	list, err := idList(ids)
	if err != nil {
		return nil, err
	}
	return collect(ctx, s.db, ledgersql.ScanTeam, byIDQuery(ledgersql.TeamTable, ledgersql.TeamColumns), list)
}

// CardsByID implements repository.LedgerReader.
func (s *Store) CardsByID(ctx context.Context, ids []int64) ([]domain.Card, error) {
	list, err := idList(ids)
	if err != nil {
		return nil, err
	}
	return collect(ctx, s.db, ledgersql.ScanCard, byIDQuery(ledgersql.CardTable, ledgersql.CardColumns), list)
}

// DisciplinesByID implements repository.LedgerReader.
func (s *Store) DisciplinesByID(ctx context.Context, ids []int64) ([]domain.Discipline, error) {
	list, err := idList(ids)
	if err != nil {
		return nil, err
	}
	return collect(ctx, s.db, ledgersql.ScanDiscipline, byIDQuery(ledgersql.DisciplineTable, ledgersql.DisciplineColumns), list)
}

// LinksByDeliverable implements repository.LedgerReader.
func (s *Store) LinksByDeliverable(ctx context.Context, deliverableIDs []int64) ([]domain.DeliverableTeam, error) {
	list, err := idList(deliverableIDs)
	if err != nil {
		return nil, err
	}
	const query = `SELECT deliverable_id, team_id FROM deliverable_teams
		WHERE deliverable_id IN (SELECT value FROM json_each(?))
		ORDER BY deliverable_id, team_id`
	return collect(ctx, s.db, ledgersql.ScanLink, query, list)
}

// ObservationTimes implements repository.LedgerReader.
func (s *Store) ObservationTimes(ctx context.Context) ([]domain.Millis, error) {
	return collect(ctx, s.db, func(sc ledgersql.Scanner) (domain.Millis, error) {
		var m int64
		err := sc.Scan(&m)
		return domain.Millis(m), err
	}, ledgersql.ObservationTimes)
}

// CountDeliverables implements repository.LedgerReader.
func (s *Store) CountDeliverables(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM deliverable_diff`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
