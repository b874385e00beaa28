package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/141JosephAlen/ec-bot/internal/app"
	"github.com/141JosephAlen/ec-bot/internal/app/migrate"
	"github.com/141JosephAlen/ec-bot/pkg/config"
	"github.com/141JosephAlen/ec-bot/pkg/logger"
)

func main() {
	cfg := config.Load()

	command := flag.String("command", "up", "migrate command (up|status|down)")
	timeout := flag.Duration("timeout", time.Minute, "command timeout")
	target := flag.Int64("target", 0, "target version for down command (optional)")
	driver := flag.String("driver", cfg.LedgerDriver, "ledger driver (sqlite|postgres)")
	flag.Parse()

	cfg.LedgerDriver = *driver
	log := logger.New("migrate", logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	dsn, err := app.DSN(cfg)
	if err != nil {
		log.Error("failed to resolve database", "error", err)
		os.Exit(1)
	}
	if cfg.LedgerDriver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			log.Error("failed to create database directory", "error", err)
			os.Exit(1)
		}
	}

	runner, err := migrate.New(cfg.LedgerDriver, dsn, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migration runner", "error", err)
		os.Exit(1)
	}
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}

	switch *command {
	case "up":
		if err := runner.Ensure(ctx); err != nil {
			log.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
	case "status":
		if err := runner.Status(ctx); err != nil {
			log.Error("failed to fetch migration status", "error", err)
			os.Exit(1)
		}
	case "down":
		if err := runner.Down(ctx, *target); err != nil {
			log.Error("failed to roll back migrations", "error", err)
			os.Exit(1)
		}
	default:
		log.Error("unsupported command", "command", *command)
		os.Exit(1)
	}

	log.Info("migration command completed", "command", *command, "driver", cfg.LedgerDriver)
}
