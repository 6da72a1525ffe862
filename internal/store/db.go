package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps sql.DB over the configured engine. The default is an embedded
// SQLite file so the agent keeps working with no server reachable; a
// postgres:// DATABASE_URL switches to pgx for server-backed deployments.
type DB struct {
	Client *sql.DB
	Driver string
}

// NewDB opens the store and applies the schema.
func NewDB(databaseURL string) (*DB, error) {
	driver, dsn := resolveDriver(databaseURL)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	if driver == "sqlite3" {
		// Concurrent readers are fine, writes are serialized by the engine.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}
	d := &DB{Client: db, Driver: driver}
	if err := d.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func resolveDriver(databaseURL string) (driver, dsn string) {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return "pgx", databaseURL
	}
	dsn = databaseURL
	if strings.HasPrefix(dsn, "file:") && !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL"
	}
	return "sqlite3", dsn
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

func (d *DB) migrate(ctx context.Context) error {
	attendanceID := "INTEGER PRIMARY KEY AUTOINCREMENT"
	timestamp := "TIMESTAMP"
	if d.Driver == "pgx" {
		attendanceID = "BIGSERIAL PRIMARY KEY"
		timestamp = "TIMESTAMPTZ"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS teachers (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS students (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			student_group TEXT NOT NULL DEFAULT '',
			created_at ` + timestamp + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS classes (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			name TEXT NOT NULL,
			roster TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS attendance (
			id ` + attendanceID + `,
			owner TEXT NOT NULL,
			class_id TEXT NOT NULL,
			student_id TEXT NOT NULL,
			mode TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at ` + timestamp + ` NOT NULL,
			acknowledged BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_acknowledged ON attendance (acknowledged)`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_class ON attendance (class_id)`,
		`CREATE INDEX IF NOT EXISTS idx_classes_owner ON classes (owner)`,
	}
	for _, stmt := range stmts {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return &StorageError{Op: "migrate", Err: err}
		}
	}
	return nil
}
