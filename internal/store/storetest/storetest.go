// Package storetest opens throwaway SQLite databases carrying the
// production schema.
package storetest

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"classattend/internal/store"
)

// Open returns an in-memory SQLite database with all migrations applied.
// It is closed when the test finishes.
func Open(t testing.TB) *sql.DB {
	t.Helper()

	// Shared cache keeps the in-memory database alive while the pool
	// recycles its single connection.
	dsn := fmt.Sprintf(
		"file:test_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		uuid.NewString(),
	)
	db, err := store.NewDB(context.Background(), store.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("storetest: open: %v", err)
	}
	if err := store.Migrate(db.Client, store.DriverSQLite, zap.NewNop()); err != nil {
		db.Close()
		t.Fatalf("storetest: migrate: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db.Client
}
