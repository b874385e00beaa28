// Package db embeds the goose migrations for both ledger backends.
package db

import "embed"

// Migrations holds postgres/*.sql and sqlite/*.sql.
//
//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var Migrations embed.FS

// Dir returns the embedded migrations directory for a goose dialect.
func Dir(dialect string) string {
	if dialect == "sqlite3" || dialect == "sqlite" {
		return "migrations/sqlite"
	}
	return "migrations/postgres"
}
