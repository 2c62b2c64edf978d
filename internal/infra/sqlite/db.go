// Package sqlite is the durable store for linkpulse: accounts and their
// ledger, processed orders, watch jobs and link snapshots.
//
// All writes go through a single connection, so concurrent callers are
// serialized at the transaction boundary and never across a whole tick.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// FileName is the database file created inside the data directory.
const FileName = "linkpulse.db"

// timeLayout is how timestamps are stored. Lexical order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// LedgerPolicy controls optional ledger behavior.
type LedgerPolicy struct {
	InitialBonus        int64 // Credits granted when an account is first created
	AllowNegativeAdjust bool  // Let admin adjustments push a balance below zero
}

// DB wraps the SQLite handle.
type DB struct {
	db     *sql.DB
	policy LedgerPolicy
	now    func() time.Time
}

// Open opens (or creates) the database inside dir and applies migrations.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := "file:" + filepath.Join(dir, FileName) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	db := &DB{db: sqlDB, now: time.Now}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close releases the database handle.
func (db *DB) Close() error {
	return db.db.Close()
}

// SetLedgerPolicy replaces the ledger policy. Call before serving traffic.
func (db *DB) SetLedgerPolicy(p LedgerPolicy) { db.policy = p }

// SetClock overrides the timestamp source (tests).
func (db *DB) SetClock(now func() time.Time) { db.now = now }

func (db *DB) migrate() error {
	var stmts []string
	stmts = append(stmts, LedgerMigrations()...)
	stmts = append(stmts, WatchMigrations()...)
	for _, stmt := range stmts {
		if _, err := db.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// withTx runs fn in a transaction and commits if it returns nil.
func (db *DB) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := db.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (db *DB) stamp() string {
	return formatTime(db.now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
