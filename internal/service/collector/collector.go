// Package collector runs pulls: it fetches the live roadmap, seeds an empty
// ledger from archived snapshot files, and records each new observation.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/141JosephAlen/ec-bot/internal/domain"
	"github.com/141JosephAlen/ec-bot/internal/feed"
	"github.com/141JosephAlen/ec-bot/internal/repository"
	"github.com/141JosephAlen/ec-bot/internal/service/ingest"
)

const (
	// Topic is the change stream channel pull summaries are published on.
	Topic = "changes"

	defaultPullTimeout = 10 * time.Minute

	outcomeRecorded  = "recorded"
	outcomeUnchanged = "unchanged"
	outcomeBusy      = "busy"
	outcomeFailed    = "failed"
)

// Fetcher retrieves a complete roadmap snapshot.
type Fetcher interface {
	Fetch(ctx context.Context) ([]feed.Deliverable, error)
}

// Publisher fans pull summaries out to stream subscribers.
type Publisher interface {
	Broadcast(topic string, payload []byte)
}

// Config tunes a Collector.
type Config struct {
	// Interval between scheduled pulls. Zero disables Run.
	Interval time.Duration
	// InitDataDir holds snapshot files replayed into an empty ledger.
	InitDataDir string
}

// Report summarises one pull.
type Report struct {
	RunID        string          `json:"runId"`
	Status       string          `json:"status"`
	Bootstrapped int             `json:"bootstrapped"`
	Result       ingest.Result   `json:"result"`
	Replayed     []ingest.Result `json:"replayed,omitempty"`
}

// Event is the payload published on the change stream.
type Event struct {
	Type       string                `json:"type"`
	RunID      string                `json:"runId"`
	ObservedAt string                `json:"observedAt"`
	Status     string                `json:"status"`
	Changes    domain.ChangeCounters `json:"changes"`
}

// Collector pulls and records observations.
type Collector struct {
	fetcher   Fetcher
	ingest    *ingest.Engine
	ledger    repository.LedgerReader
	locker    Locker
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics

	interval    time.Duration
	initDataDir string

	now func() time.Time
}

// New constructs a Collector. A nil locker falls back to an in-process lock.
func New(fetcher Fetcher, ingestEngine *ingest.Engine, ledger repository.LedgerReader, locker Locker, publisher Publisher, logger *slog.Logger, cfg Config) *Collector {
	if locker == nil {
		locker = NewMemoryLocker()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		fetcher:     fetcher,
		ingest:      ingestEngine,
		ledger:      ledger,
		locker:      locker,
		publisher:   publisher,
		logger:      logger.With("component", "collector"),
		metrics:     newMetrics(),
		interval:    cfg.Interval,
		initDataDir: cfg.InitDataDir,
		now:         time.Now,
	}
}

// Run pulls immediately and then on every interval until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	if c == nil || c.interval <= 0 {
		return
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("collector started", "interval", c.interval)
	c.runIteration(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("collector stopped")
			return
		case <-ticker.C:
			c.runIteration(ctx)
		}
	}
}

func (c *Collector) runIteration(parent context.Context) {
	timeout := defaultPullTimeout
	if c.interval < timeout {
		timeout = c.interval
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	if _, err := c.Pull(ctx); err != nil && !errors.Is(err, ErrBusy) {
		c.logger.Warn("scheduled pull failed", "error", err)
	}
}

// Pull fetches the roadmap and records it as a new observation. Nothing is
// written when the fetch is incomplete.
func (c *Collector) Pull(ctx context.Context) (Report, error) {
	report := Report{RunID: uuid.NewString()}
	logger := c.logger.With("run_id", report.RunID)
	started := c.now()

	release, err := c.locker.Acquire(ctx)
	if err != nil {
		if errors.Is(err, ErrBusy) {
			c.metrics.observe(outcomeBusy, 0)
			logger.Info("pull skipped", "reason", err)
		} else {
			c.metrics.observe(outcomeFailed, 0)
		}
		return report, err
	}
	defer release()

	docs, err := c.fetcher.Fetch(ctx)
	if err != nil {
		c.metrics.observe(outcomeFailed, 0)
		return report, fmt.Errorf("fetch roadmap: %w", err)
	}
	snapshot, warnings := feed.Normalize(docs)

	replayed, err := c.bootstrap(ctx)
	if err != nil {
		c.metrics.observe(outcomeFailed, 0)
		return report, err
	}
	report.Replayed = replayed
	report.Bootstrapped = len(replayed)

	result, err := c.ingest.Ingest(ctx, domain.MillisOf(c.now()), snapshot)
	if err != nil {
		c.metrics.observe(outcomeFailed, 0)
		return report, fmt.Errorf("record observation: %w", err)
	}
	result.Warnings = append(warnings, result.Warnings...)
	report.Result = result
	report.Status = result.Changes.String()

	outcome := outcomeUnchanged
	if result.Rows.Total() > 0 {
		outcome = outcomeRecorded
	}
	c.metrics.recorded(result.Rows, result.Changes)
	c.metrics.observe(outcome, c.now().Sub(started))
	c.publish(logger, report)

	logger.Info("pull finished",
		"status", report.Status,
		"bootstrapped", report.Bootstrapped,
		"warnings", len(result.Warnings),
		"duration", c.now().Sub(started),
	)
	return report, nil
}

// bootstrap replays InitDataDir into the ledger when it has no history yet.
func (c *Collector) bootstrap(ctx context.Context) ([]ingest.Result, error) {
	if c.initDataDir == "" {
		return nil, nil
	}
	count, err := c.ledger.CountDeliverables(ctx)
	if err != nil {
		return nil, fmt.Errorf("count ledger rows: %w", err)
	}
	if count > 0 {
		return nil, nil
	}
	c.logger.Info("ledger empty, replaying snapshot files", "dir", c.initDataDir)
	return c.Replay(ctx, c.initDataDir)
}

// Replay records every dated snapshot file in dir, oldest first, observed at
// the date in its file name. Files not newer than the ledger are skipped.
func (c *Collector) Replay(ctx context.Context, dir string) ([]ingest.Result, error) {
	files, err := feed.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	results := make([]ingest.Result, 0, len(files))
	for _, f := range files {
		docs, err := feed.DecodeFile(f.Path)
		if err != nil {
			return results, err
		}
		snapshot, warnings := feed.Normalize(docs)
		result, err := c.ingest.Ingest(ctx, f.ObservedAt, snapshot)
		if errors.Is(err, ingest.ErrStaleObservation) {
			c.logger.Warn("snapshot file skipped", "path", f.Path, "error", err)
			continue
		}
		if err != nil {
			return results, fmt.Errorf("replay %s: %w", f.Path, err)
		}
		result.Warnings = append(warnings, result.Warnings...)
		c.metrics.recorded(result.Rows, result.Changes)
		results = append(results, result)
	}
	return results, nil
}

func (c *Collector) publish(logger *slog.Logger, report Report) {
	if c.publisher == nil {
		return
	}
	payload, err := json.Marshal(Event{
		Type:       "observation",
		RunID:      report.RunID,
		ObservedAt: report.Result.ObservedAt.String(),
		Status:     report.Status,
		Changes:    report.Result.Changes,
	})
	if err != nil {
		logger.Error("encode change event", "error", err)
		return
	}
	c.publisher.Broadcast(Topic, payload)
}
