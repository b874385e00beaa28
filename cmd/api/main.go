package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/141JosephAlen/ec-bot/internal/app"
	httpx "github.com/141JosephAlen/ec-bot/internal/http"
	"github.com/141JosephAlen/ec-bot/internal/service/collector"
	"github.com/141JosephAlen/ec-bot/internal/upstream"
	"github.com/141JosephAlen/ec-bot/internal/ws"
	"github.com/141JosephAlen/ec-bot/pkg/config"
	"github.com/141JosephAlen/ec-bot/pkg/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open ledger", "error", err)
		os.Exit(1)
	}
	defer a.Close()
	if err := a.Health(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}

	fetcher, err := upstream.New(upstream.Config{
		URL:         cfg.UpstreamURL,
		Timeout:     cfg.UpstreamTimeout,
		PageSize:    cfg.UpstreamPageSize,
		Concurrency: cfg.UpstreamConcurrency,
	}, log)
	if err != nil {
		log.Error("failed to configure upstream", "error", err)
		os.Exit(1)
	}

	changeHub := ws.NewHub()
	defer changeHub.Close()

	var locker collector.Locker
	if addr := strings.TrimSpace(cfg.LockRedisAddr); addr != "" {
		redisLocker, err := collector.NewRedisLocker(addr, cfg.LockRedisPass, cfg.LockRedisDB, cfg.LockTTL, log)
		if err != nil {
			log.Warn("redis pull lock unavailable, using in-process lock", "error", err)
		} else {
			defer redisLocker.Close()
			locker = redisLocker
		}
	}

	pulls := collector.New(fetcher, a.Ingest, a.Ledger, locker, changeHub, log, collector.Config{
		Interval:    cfg.PullInterval,
		InitDataDir: cfg.InitDataDir,
	})
	go pulls.Run(ctx)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.LockRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.LockRedisPass, cfg.LockRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, httpx.Services{
		Snapshots: a.Reconstruct,
		Compare:   a.Delta,
		Schedule:  a.Schedule,
		Export:    a.Export,
		Pull:      pulls,
		Hub:       changeHub,
	}, limiter, httpx.Options{
		JWTSecret:          cfg.JWTSecret,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		DBHealth:           a.Health,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "ledger", cfg.LedgerDriver, "pull_interval", cfg.PullInterval)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
