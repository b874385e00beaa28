package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetString retrieves an environment variable or returns a fallback when unset.
func GetString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// lookup returns the trimmed value of key. Blank counts as unset.
func lookup(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func invalid(key, value string, err error) {
	slog.Warn("invalid config value, using default", "key", key, "value", value, "error", err)
}

// GetInt retrieves an environment variable as integer or returns fallback.
func GetInt(key string, fallback int) int {
	value, ok := lookup(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		invalid(key, value, err)
		return fallback
	}
	return parsed
}

// GetDuration retrieves an environment variable as a duration. A bare number
// counts units; anything else must parse with time.ParseDuration.
func GetDuration(key string, unit, fallback time.Duration) time.Duration {
	value, ok := lookup(key)
	if !ok {
		return fallback
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * unit
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		invalid(key, value, err)
		return fallback
	}
	return parsed
}
