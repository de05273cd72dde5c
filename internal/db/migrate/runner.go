// Package migrate runs database migrations from embedded SQL files using golang-migrate.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"security-gateway/backend/internal/db"
)

// ErrNoChange is returned when Up/Down has nothing to do (already at target version).
var ErrNoChange = migrate.ErrNoChange

// Run opens dsn with driver, applies migrations in direction ("up" or "down") and closes the
// connection. Already being at the target version is not an error.
func Run(ctx context.Context, driver, dsn, direction string) error {
	if dsn == "" {
		return errors.New("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	if direction != "up" && direction != "down" {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}
	conn, err := db.Open(ctx, driver, dsn)
	if err != nil {
		return fmt.Errorf("migrate: open: %w", err)
	}
	m, err := newMigrator(conn, driver)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer func() { _, _ = m.Close() }()
	return apply(m, direction)
}

// Up applies pending migrations on an already open pool and leaves it open. Used at startup when
// the durable log is an in-memory SQLite database that only exists on that pool.
func Up(conn *sql.DB, driver string) error {
	m, err := newMigrator(conn, driver)
	if err != nil {
		return err
	}
	return apply(m, "up")
}

func newMigrator(conn *sql.DB, driver string) (*migrate.Migrate, error) {
	sourceDriver, err := iofs.New(db.MigrationFS, db.MigrationDir(driver))
	if err != nil {
		return nil, fmt.Errorf("migrate source: %w", err)
	}
	var dbDriver database.Driver
	switch driver {
	case db.DriverSQLite:
		dbDriver, err = sqlitemigrate.WithInstance(conn, &sqlitemigrate.Config{})
	case db.DriverPostgres:
		dbDriver, err = pgxmigrate.WithInstance(conn, &pgxmigrate.Config{})
	default:
		err = fmt.Errorf("unsupported driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, driver, dbDriver)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return m, nil
}

func apply(m *migrate.Migrate, direction string) error {
	var err error
	if direction == "down" {
		err = m.Down()
	} else {
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
