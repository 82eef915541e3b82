// Package db owns the single global SQLite database: connection setup,
// versioned migration application with backup/rollback, and the
// transaction helper used by every repository package.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver" // registers the "sqlite3" driver
	_ "github.com/ncruces/go-sqlite3/embed"  // embeds the WASM sqlite3 build
)

// busyTimeout bounds how long a writer waits on SQLite's own lock before
// giving up, per spec: 5 seconds.
const busyTimeout = 5 * time.Second

// schemaVerified is a process-wide cache of the last-verified schema
// version per home directory, avoiding a migration check on every new
// connection. Tests that simulate a corrupted/partial migration clear it
// via ResetVerifiedCache.
var (
	schemaVerifiedMu sync.Mutex
	schemaVerified   = map[string]int{}
)

// ensureSchemaMu serializes ensure-schema across goroutines in this
// process; SQLite itself serializes writers, but we still want only one
// goroutine racing to apply migrations and snapshot the file.
var ensureSchemaMu sync.Mutex

// DB wraps a *sql.DB opened against the Delegate database file.
type DB struct {
	*sql.DB
	home string
	path string
}

// Open opens (creating if necessary) the database at home's canonical
// path, applies any pending migrations (with backup-before-upgrade), and
// verifies core tables exist. It runs no UUID backfill: the *_uuid
// columns of rows already in the database are left as they are.
func Open(ctx context.Context, home string) (*DB, error) {
	path := Path(home)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_txlock=immediate", path, busyTimeout.Milliseconds())
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1) // single-writer WAL discipline; see ensureSchemaMu

	d := &DB{DB: sqlDB, home: home, path: path}

	if err := d.ensureSchema(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return d, nil
}

// Path returns the canonical database file path for a home directory.
func Path(home string) string {
	return filepath.Join(home, "protected", "db.sqlite")
}

// ResetVerifiedCache clears the process-wide schema-verified cache. Tests
// use this to force a re-check after simulating a failed migration.
func ResetVerifiedCache() {
	schemaVerifiedMu.Lock()
	defer schemaVerifiedMu.Unlock()
	schemaVerified = map[string]int{}
}

func (d *DB) ensureSchema(ctx context.Context) error {
	ensureSchemaMu.Lock()
	defer ensureSchemaMu.Unlock()

	current, err := CurrentVersion()
	if err != nil {
		return err
	}

	schemaVerifiedMu.Lock()
	cached, ok := schemaVerified[d.home]
	schemaVerifiedMu.Unlock()
	if ok && cached == current {
		return nil
	}

	if err := d.migrateUp(ctx); err != nil {
		return err
	}
	if err := d.verifyHealthy(ctx); err != nil {
		return err
	}

	schemaVerifiedMu.Lock()
	schemaVerified[d.home] = current
	schemaVerifiedMu.Unlock()
	return nil
}

// verifyHealthy checks that the core tables exist after migration, per
// spec §4.2's post-migration health check.
func (d *DB) verifyHealthy(ctx context.Context) error {
	for _, table := range []string{"messages", "sessions", "tasks"} {
		var name string
		err := d.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			return fmt.Errorf("health check: table %q missing after migration: %w", table, err)
		}
	}
	return nil
}

// WithTx runs fn inside a BEGIN IMMEDIATE transaction, committing on
// success and rolling back on error or panic. This is the transaction
// helper every repository package uses instead of hand-rolling
// begin/commit calls, per the "encapsulate in a connection helper that
// takes a closure" guidance for this kind of ambient pattern.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}

// Now is the canonical "current time as unix seconds" used across
// repositories so that tests can reason about it uniformly.
func Now() int64 {
	return time.Now().Unix()
}
