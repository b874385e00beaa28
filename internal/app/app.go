// Package app assembles the ledger and the engines on top of it from
// configuration. Both the API service and the CLI start here.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/141JosephAlen/ec-bot/internal/app/migrate"
	"github.com/141JosephAlen/ec-bot/internal/repository"
	"github.com/141JosephAlen/ec-bot/internal/repository/postgres"
	"github.com/141JosephAlen/ec-bot/internal/repository/sqlite"
	"github.com/141JosephAlen/ec-bot/internal/service/delta"
	"github.com/141JosephAlen/ec-bot/internal/service/export"
	"github.com/141JosephAlen/ec-bot/internal/service/identity"
	"github.com/141JosephAlen/ec-bot/internal/service/ingest"
	"github.com/141JosephAlen/ec-bot/internal/service/reconstruct"
	"github.com/141JosephAlen/ec-bot/internal/service/schedule"
	"github.com/141JosephAlen/ec-bot/pkg/config"
)

// App bundles the ledger and its engines.
type App struct {
	Ledger      repository.Ledger
	Ingest      *ingest.Engine
	Reconstruct *reconstruct.Engine
	Delta       *delta.Engine
	Schedule    *schedule.Engine
	Export      *export.Engine

	health func(context.Context) error
	close  func()
}

// DSN returns the connection string for the configured ledger driver.
func DSN(cfg config.Config) (string, error) {
	switch driver(cfg) {
	case "postgres":
		return cfg.DatabaseURL, nil
	case "sqlite":
		return sqlite.DSN(cfg.SQLitePath), nil
	default:
		return "", fmt.Errorf("unsupported ledger driver %q", cfg.LedgerDriver)
	}
}

func driver(cfg config.Config) string {
	return strings.ToLower(strings.TrimSpace(cfg.LedgerDriver))
}

// Open applies migrations, connects the configured ledger and wires the
// engines with the configured policy.
func Open(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	policy, err := config.LoadPolicyFile(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}

	a := &App{}
	switch driver(cfg) {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.Ledger, a.health, a.close = postgres.New(pool), pool.Ping, pool.Close
	case "sqlite":
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.Ledger, a.health = store, store.Ping
		a.close = func() { _ = store.Close() }
	default:
		return nil, fmt.Errorf("unsupported ledger driver %q", cfg.LedgerDriver)
	}

	dsn, _ := DSN(cfg)
	runner, err := migrate.New(driver(cfg), dsn, cfg.MigrationsDir, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("configure migrations: %w", err)
	}
	if err := runner.Ensure(ctx); err != nil {
		a.Close()
		return nil, err
	}

	identityPolicy, model := Policies(policy)
	a.wire(identityPolicy, model, log)
	return a, nil
}

// Policies converts the policy file into engine parameters.
func Policies(p config.Policy) (identity.Policy, delta.LoadModel) {
	return identity.Policy{
			DeliverableTitleFallback: p.Identity.DeliverableTitleFallback,
			DisciplineTitleFallback:  p.Identity.DisciplineTitleFallback,
			UnannouncedMarker:        p.Identity.UnannouncedMarker,
		}, delta.LoadModel{
			HoursPerTask:   p.Load.HoursPerTask,
			FocusFactor:    p.Load.FocusFactor,
			HoursPerDay:    p.Load.HoursPerDay,
			PartTimeWeight: p.Load.PartTimeWeight,
		}
}

// New wires the engines over an existing ledger.
func New(ledger repository.Ledger, policy identity.Policy, model delta.LoadModel, log *slog.Logger) *App {
	a := &App{Ledger: ledger}
	a.wire(policy, model, log)
	return a
}

func (a *App) wire(policy identity.Policy, model delta.LoadModel, log *slog.Logger) {
	a.Ingest = ingest.New(a.Ledger, policy, log)
	a.Reconstruct = reconstruct.New(a.Ledger, log)
	a.Delta = delta.New(a.Reconstruct, policy, model, log)
	a.Schedule = schedule.New(a.Reconstruct, model, log)
	a.Export = export.New(a.Reconstruct, log)
}

// Health reports whether the ledger database is reachable.
func (a *App) Health(ctx context.Context) error {
	if a.health == nil {
		return nil
	}
	return a.health(ctx)
}

// Close releases the ledger connection.
func (a *App) Close() {
	if a.close != nil {
		a.close()
	}
}
