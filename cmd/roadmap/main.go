package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/141JosephAlen/ec-bot/internal/app"
	"github.com/141JosephAlen/ec-bot/internal/domain"
	"github.com/141JosephAlen/ec-bot/internal/feed"
	"github.com/141JosephAlen/ec-bot/pkg/config"
	"github.com/141JosephAlen/ec-bot/pkg/logger"
)

var buildVersion = "dev"

var (
	cfg config.Config
	log *slog.Logger

	rootCmd = &cobra.Command{
		Use:   "roadmap",
		Short: "Record and compare roadmap observations",
		Long: `roadmap keeps an append-only history of the public roadmap and answers
questions about it: what changed between two observations, which teams are
scheduled on a date, and what the roadmap looked like at any point.`,
		Version:       buildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.Load()
			log = logger.NewTo(os.Stderr, "roadmap", logger.ParseLevel(cfg.LogLevel))
		},
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "roadmap:", err)
		os.Exit(1)
	}
}

// openApp opens the configured ledger for local commands.
func openApp(ctx context.Context) (*app.App, error) {
	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return a, nil
}

// parseInstant reads an optional date flag. Empty means zero.
func parseInstant(name, raw string) (domain.Millis, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	at, err := feed.ParseDate(raw)
	if err != nil {
		return 0, fmt.Errorf("--%s: %w", name, err)
	}
	return at, nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// printJSON writes v to w, indented when stdout is a terminal.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	if isTerminal(os.Stdout) {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

var nowMillis = domain.Now
