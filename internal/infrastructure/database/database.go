package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirMode  = 0750
	fileMode = 0600

	// lockWait is how long SQLite waits on a locked database before
	// giving up, in milliseconds.
	lockWait = 5000

	openPingTimeout = 5 * time.Second
	idleLifetime    = 30 * time.Minute
)

// DB is the bridge's handle on its SQLite journal file. sql.DB is
// embedded, so callers query through the standard interface.
type DB struct {
	*sql.DB
	path string
}

// Open opens the SQLite file at path, creating the file and its parent
// directory on first run. WAL journaling and foreign keys are switched
// on through connection pragmas, and the pool is held to one connection
// since SQLite allows a single writer. A ping confirms the file is
// usable before Open returns.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// Pragma syntax per https://github.com/mattn/go-sqlite3#connection-string
	dsn := fmt.Sprintf(
		"file:%s?_busy_timeout=%d&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL",
		path, lockWait,
	)

	handle, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	handle.SetMaxOpenConns(1)
	handle.SetMaxIdleConns(1)
	handle.SetConnMaxLifetime(time.Hour)
	handle.SetConnMaxIdleTime(idleLifetime)

	db := &DB{DB: handle, path: path}

	ctx, cancel := context.WithTimeout(context.Background(), openPingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		handle.Close()
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// The file may not exist until the first write, so a chmod failure
	// here is not an error.
	_ = os.Chmod(path, fileMode)

	return db, nil
}

// Close releases the connection pool. Safe on a zero-value DB.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns where the journal file lives on disk.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs a trivial query to confirm the file is readable.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
