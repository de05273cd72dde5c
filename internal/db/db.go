// Package db opens the durable event and audit store. Postgres (pgx stdlib) is the production
// driver; SQLite (modernc) serves development and tests.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

const pingTimeout = 5 * time.Second

// Open opens and pings a pool for driver and dsn. Caller must call Close when done.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db: empty DSN")
	}
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("db: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// One writer; an in-memory database exists per connection.
		db.SetMaxOpenConns(1)
		if !strings.Contains(dsn, ":memory:") {
			if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("db: enable wal: %w", err)
			}
		}
	} else {
		db.SetMaxOpenConns(20)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
