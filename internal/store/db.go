package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
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

// DB wraps sql.DB for Postgres (pgx) or SQLite (modernc).
type DB struct {
	Client *sql.DB
	Driver string
}

// NewDB opens a connection pool with sane defaults and pings it.
func NewDB(ctx context.Context, driver, connString string) (*DB, error) {
	switch driver {
	case DriverPostgres:
		db, err := sql.Open(DriverPostgres, connString)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
		return &DB{Client: db, Driver: driver}, db.PingContext(ctx)
	case DriverSQLite:
		db, err := sql.Open(DriverSQLite, SQLiteDSN(connString))
		if err != nil {
			return nil, err
		}
		// Single writer keeps SQLite free of SQLITE_BUSY under concurrent check-ins.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		return &DB{Client: db, Driver: driver}, db.PingContext(ctx)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
}

// SQLiteDSN turns a file path into a modernc DSN with per-connection
// pragmas. Values already starting with "file:" are used as-is.
func SQLiteDSN(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	if dir := filepath.Dir(path); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	return fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		path,
	)
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

// Healthy verifies the database answers a ping.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}
