package config

import "time"

// Config holds runtime configuration shared by the API service and the CLI.
type Config struct {
	Environment         string
	Addr                string
	LedgerDriver        string
	DatabaseURL         string
	SQLitePath          string
	MigrationsDir       string
	JWTSecret           string
	TokenTTL            time.Duration
	UpstreamURL         string
	UpstreamTimeout     time.Duration
	UpstreamPageSize    int
	UpstreamConcurrency int
	PullInterval        time.Duration
	LockRedisAddr       string
	LockRedisPass       string
	LockRedisDB         int
	LockTTL             time.Duration
	InitDataDir         string
	ExportDir           string
	PolicyFile          string
	LogLevel            string
	RateLimitPerMinute  int
}

// Load constructs a Config from environment variables.
func Load() Config {
	return Config{
		Environment:         GetString("APP_ENV", "development"),
		Addr:                GetString("API_ADDR", ":4000"),
		LedgerDriver:        GetString("LEDGER_DRIVER", "sqlite"),
		DatabaseURL:         GetString("DATABASE_URL", "postgres://roadmap:roadmap@db:5432/roadmap?sslmode=disable"),
		SQLitePath:          GetString("SQLITE_PATH", "data/roadmap.db"),
		MigrationsDir:       GetString("DB_MIGRATIONS_DIR", ""),
		JWTSecret:           GetString("JWT_SECRET", "supersecuresecret"),
		TokenTTL:            GetDuration("TOKEN_TTL_HOURS", time.Hour, 24*time.Hour),
		UpstreamURL:         GetString("UPSTREAM_URL", "https://robertsspaceindustries.com/graphql"),
		UpstreamTimeout:     GetDuration("UPSTREAM_TIMEOUT_SECONDS", time.Second, 30*time.Second),
		UpstreamPageSize:    GetInt("UPSTREAM_PAGE_SIZE", 20),
		UpstreamConcurrency: GetInt("UPSTREAM_CONCURRENCY", 8),
		PullInterval:        GetDuration("PULL_INTERVAL_MINUTES", time.Minute, 0),
		LockRedisAddr:       GetString("LOCK_REDIS_ADDR", ""),
		LockRedisPass:       GetString("LOCK_REDIS_PASSWORD", ""),
		LockRedisDB:         GetInt("LOCK_REDIS_DB", 0),
		LockTTL:             GetDuration("LOCK_TTL_SECONDS", time.Second, 10*time.Minute),
		InitDataDir:         GetString("INIT_DATA_DIR", ""),
		ExportDir:           GetString("EXPORT_DIR", "exports"),
		PolicyFile:          GetString("POLICY_FILE", ""),
		LogLevel:            GetString("LOG_LEVEL", "info"),
		RateLimitPerMinute:  GetInt("RATE_LIMIT_PER_MINUTE", 120),
	}
}
