package db

import "embed"

// MigrationFS embeds the SQL migrations, one directory per driver (migrations/postgres,
// migrations/sqlite). Used by internal/db/migrate (cmd/migrate and dev startup).
//
//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var MigrationFS embed.FS

// MigrationDir returns the embedded directory holding migrations for driver.
func MigrationDir(driver string) string {
	if driver == DriverSQLite {
		return "migrations/sqlite"
	}
	return "migrations/postgres"
}
