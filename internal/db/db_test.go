package db

import (
	"context"
	"io/fs"
	"testing"
)

func TestOpen_Validation(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, DriverSQLite, ""); err == nil {
		t.Error("Open with empty DSN should return error")
	}
	if _, err := Open(ctx, "mysql", "user@/db"); err == nil {
		t.Error("Open with unsupported driver should return error")
	}
}

func TestOpen_SQLiteMemory(t *testing.T) {
	db, err := Open(context.Background(), DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow("SELECT 1").Scan(&n); err != nil || n != 1 {
		t.Errorf("SELECT 1 = %d, %v", n, err)
	}
}

func TestMigrationFS_HasBothDialects(t *testing.T) {
	for _, driver := range []string{DriverPostgres, DriverSQLite} {
		entries, err := fs.ReadDir(MigrationFS, MigrationDir(driver))
		if err != nil {
			t.Fatalf("ReadDir(%s): %v", driver, err)
		}
		if len(entries) == 0 || len(entries)%2 != 0 {
			t.Errorf("%s: want paired up/down migrations, got %d files", driver, len(entries))
		}
	}
}
