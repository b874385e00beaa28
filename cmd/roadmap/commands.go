package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/141JosephAlen/ec-bot/internal/service/collector"
	"github.com/141JosephAlen/ec-bot/internal/upstream"
	"github.com/141JosephAlen/ec-bot/pkg/jwt"
)

var (
	pullCmd = &cobra.Command{
		Use:   "pull",
		Short: "Fetch the live roadmap and record it as a new observation",
		Long: `Fetches every deliverable with its teams and time allocations and appends
whatever changed to the ledger. An empty ledger is first seeded from the
snapshot files in INIT_DATA_DIR.`,
		Args: cobra.NoArgs,
		RunE: runPull,
	}

	compareCmd = &cobra.Command{
		Use:   "compare",
		Short: "Compare two observations",
		Long: `Compares the observation at or before --end (default: the newest) with the
observation at or before --start (default: the one before --end).`,
		Args: cobra.NoArgs,
		RunE: runCompare,
	}
	compareStart  string
	compareEnd    string
	compareFormat string

	teamsCmd = &cobra.Command{
		Use:   "teams",
		Short: "Show which teams are scheduled on a date",
		Args:  cobra.NoArgs,
		RunE:  runTeams,
	}
	teamsAt string

	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Write reconstructed snapshots as dated JSON files",
		Args:  cobra.NoArgs,
		RunE:  runExport,
	}
	exportAt  string
	exportAll bool
	exportDir string

	replayCmd = &cobra.Command{
		Use:   "replay [directory]",
		Short: "Record every dated snapshot file in a directory, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE:  runReplay,
	}

	observationsCmd = &cobra.Command{
		Use:   "observations",
		Short: "List observation instants, newest first",
		Args:  cobra.NoArgs,
		RunE:  runObservations,
	}

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Issue an API token",
		Args:  cobra.NoArgs,
		RunE:  runToken,
	}
	tokenOperator string
	tokenScopes   []string
	tokenTTL      time.Duration
)

func init() {
	compareCmd.Flags().StringVarP(&compareStart, "start", "s", "", "start date (YYYYMMDD, ISO date or epoch milliseconds)")
	compareCmd.Flags().StringVarP(&compareEnd, "end", "e", "", "end date (YYYYMMDD, ISO date or epoch milliseconds)")
	compareCmd.Flags().StringVar(&compareFormat, "format", "", "output format (json|text); text when stdout is a terminal")

	teamsCmd.Flags().StringVar(&teamsAt, "at", "", "date to report on (default: now)")

	exportCmd.Flags().StringVar(&exportAt, "at", "", "export the observation at or before this date (default: newest)")
	exportCmd.Flags().BoolVar(&exportAll, "all", false, "export every observation")
	exportCmd.Flags().StringVar(&exportDir, "dir", "", "output directory (default: EXPORT_DIR)")

	tokenCmd.Flags().StringVar(&tokenOperator, "operator", "", "operator name recorded in the token")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scope", []string{jwt.ScopePull}, "scopes granted to the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default: TOKEN_TTL_HOURS)")
	_ = tokenCmd.MarkFlagRequired("operator")

	rootCmd.AddCommand(pullCmd, compareCmd, teamsCmd, exportCmd, replayCmd, observationsCmd, tokenCmd, remoteCmd)
}

func newCollector(cmd *cobra.Command) (*collector.Collector, func(), error) {
	a, err := openApp(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	fetcher, err := upstream.New(upstream.Config{
		URL:         cfg.UpstreamURL,
		Timeout:     cfg.UpstreamTimeout,
		PageSize:    cfg.UpstreamPageSize,
		Concurrency: cfg.UpstreamConcurrency,
	}, log)
	if err != nil {
		a.Close()
		return nil, nil, err
	}

	cleanup := a.Close
	var locker collector.Locker
	if addr := strings.TrimSpace(cfg.LockRedisAddr); addr != "" {
		redisLocker, err := collector.NewRedisLocker(addr, cfg.LockRedisPass, cfg.LockRedisDB, cfg.LockTTL, log)
		if err != nil {
			a.Close()
			return nil, nil, fmt.Errorf("pull lock: %w", err)
		}
		locker = redisLocker
		cleanup = func() {
			_ = redisLocker.Close()
			a.Close()
		}
	}
	c := collector.New(fetcher, a.Ingest, a.Ledger, locker, nil, log, collector.Config{InitDataDir: cfg.InitDataDir})
	return c, cleanup, nil
}

func runPull(cmd *cobra.Command, args []string) error {
	c, cleanup, err := newCollector(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := c.Pull(cmd.Context())
	if errors.Is(err, collector.ErrBusy) {
		return errors.New("another pull is already running")
	}
	if err != nil {
		return err
	}
	if isTerminal(os.Stdout) {
		fmt.Fprintln(cmd.OutOrStdout(), report.Status)
		for _, w := range report.Result.Warnings {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
		}
		return nil
	}
	return printJSON(cmd.OutOrStdout(), report)
}

func runCompare(cmd *cobra.Command, args []string) error {
	start, err := parseInstant("start", compareStart)
	if err != nil {
		return err
	}
	end, err := parseInstant("end", compareEnd)
	if err != nil {
		return err
	}
	format := strings.ToLower(strings.TrimSpace(compareFormat))
	switch format {
	case "":
		format = "json"
		if isTerminal(os.Stdout) {
			format = "text"
		}
	case "json", "text":
	default:
		return fmt.Errorf("--format: unsupported value %q", compareFormat)
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	cs, err := a.Delta.Compare(cmd.Context(), start, end)
	if err != nil {
		return err
	}
	if format == "text" {
		return summarize(cmd.OutOrStdout(), cs)
	}
	return printJSON(cmd.OutOrStdout(), cs)
}

func runTeams(cmd *cobra.Command, args []string) error {
	at, err := parseInstant("at", teamsAt)
	if err != nil {
		return err
	}
	if at == 0 {
		at = nowMillis()
	}
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Schedule.Report(cmd.Context(), at)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), report)
}

func runExport(cmd *cobra.Command, args []string) error {
	if exportAll && exportAt != "" {
		return errors.New("--all and --at are mutually exclusive")
	}
	at, err := parseInstant("at", exportAt)
	if err != nil {
		return err
	}
	dir := exportDir
	if dir == "" {
		dir = cfg.ExportDir
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	var paths []string
	if exportAll {
		paths, err = a.Export.WriteAll(cmd.Context(), dir)
	} else {
		var path string
		path, err = a.Export.WriteFile(cmd.Context(), dir, at)
		if path != "" {
			paths = append(paths, path)
		}
	}
	for _, p := range paths {
		fmt.Fprintln(cmd.OutOrStdout(), p)
	}
	return err
}

func runReplay(cmd *cobra.Command, args []string) error {
	c, cleanup, err := newCollector(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	results, err := c.Replay(cmd.Context(), args[0])
	for _, r := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", r.ObservedAt, r.Changes)
	}
	return err
}

func runObservations(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	times, err := a.Reconstruct.Observations(cmd.Context())
	if err != nil {
		return err
	}
	for _, t := range times {
		fmt.Fprintln(cmd.OutOrStdout(), t)
	}
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	ttl := tokenTTL
	if ttl <= 0 {
		ttl = cfg.TokenTTL
	}
	token, err := jwt.GenerateToken(tokenOperator, tokenScopes, cfg.JWTSecret, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
