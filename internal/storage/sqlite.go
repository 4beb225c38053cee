package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned by updates that matched no row
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint rejects a write
	ErrDuplicate = errors.New("duplicate")
	// ErrConflict is returned when a compare-and-set update lost a race
	ErrConflict = errors.New("concurrent update conflict")
)

// BusyTimeoutMillis is how long SQLite waits on a locked database before
// reporting SQLITE_BUSY.
const BusyTimeoutMillis = 5000

var db *sql.DB

// Querier is satisfied by both *sql.DB and *sql.Tx
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InitDB initializes the SQLite database connection with WAL mode
func InitDB(dbPath string) error {
	var err error

	path := dbPath
	if dbPath != ":memory:" {
		path, err = filepath.Abs(dbPath)
		if err != nil {
			return err
		}
	}

	db, err = sql.Open("sqlite", path)
	if err != nil {
		return err
	}

	// A single connection serializes writers and keeps :memory: databases
	// alive for the lifetime of the pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		fmt.Sprintf("PRAGMA busy_timeout=%d", BusyTimeoutMillis),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if err := runMigrations(); err != nil {
		return err
	}

	return nil
}

// DB returns the database connection
func DB() *sql.DB {
	return db
}

// CloseDB closes the database connection
func CloseDB() error {
	if db != nil {
		return db.Close()
	}
	return nil
}

// WithTx runs fn inside a transaction, committing when fn returns nil.
func WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Savepoint runs fn inside a named savepoint of tx. On error the savepoint is
// rolled back and the enclosing transaction stays usable.
func Savepoint(ctx context.Context, tx *sql.Tx, name string, fn func() error) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to open savepoint %s: %w", name, err)
	}
	if err := fn(); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("failed to roll back savepoint %s: %v (original error: %w)", name, rbErr, err)
		}
		tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
		return err
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to release savepoint %s: %w", name, err)
	}
	return nil
}

// IsBusy reports whether err is SQLite lock contention that may succeed on retry
func IsBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// runMigrations creates the necessary tables
func runMigrations() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			user_id TEXT PRIMARY KEY,
			purchased INTEGER NOT NULL DEFAULT 0 CHECK (purchased >= 0),
			promotional INTEGER NOT NULL DEFAULT 0 CHECK (promotional >= 0),
			pending INTEGER NOT NULL DEFAULT 0 CHECK (pending >= 0),
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			amount INTEGER NOT NULL,
			purchased_delta INTEGER NOT NULL DEFAULT 0,
			promotional_delta INTEGER NOT NULL DEFAULT 0,
			pending_delta INTEGER NOT NULL DEFAULT 0,
			balance_before INTEGER NOT NULL,
			balance_after INTEGER NOT NULL,
			idempotency_key TEXT NOT NULL UNIQUE,
			reference_id TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES accounts(user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS seed_pairs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			server_seed TEXT NOT NULL,
			commitment TEXT NOT NULL UNIQUE,
			client_seed TEXT NOT NULL,
			counter INTEGER NOT NULL DEFAULT 0 CHECK (counter >= 0),
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			revealed_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS prizes (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			set_name TEXT NOT NULL DEFAULT '',
			rarity TEXT NOT NULL DEFAULT '',
			image_url TEXT NOT NULL DEFAULT '',
			market_value INTEGER NOT NULL DEFAULT 0 CHECK (market_value >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS packs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			tier TEXT NOT NULL DEFAULT '',
			gem_cost INTEGER NOT NULL CHECK (gem_cost > 0),
			resell_percent INTEGER,
			active_version INTEGER NOT NULL DEFAULT 0,
			catalog_source TEXT NOT NULL DEFAULT 'file',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS pack_entries (
			pack_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			position INTEGER NOT NULL,
			prize_id TEXT NOT NULL,
			weight INTEGER NOT NULL CHECK (weight > 0),
			PRIMARY KEY (pack_id, version, position),
			FOREIGN KEY (pack_id) REFERENCES packs(id),
			FOREIGN KEY (prize_id) REFERENCES prizes(id)
		)`,
		`CREATE TABLE IF NOT EXISTS gem_packages (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			price_minor_units INTEGER NOT NULL,
			base_gems INTEGER NOT NULL,
			bonus_gems INTEGER NOT NULL DEFAULT 0,
			display_order INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			pack_id TEXT NOT NULL,
			prize_id TEXT NOT NULL,
			catalog_version INTEGER NOT NULL,
			seed_pair_id TEXT NOT NULL,
			commitment TEXT NOT NULL,
			client_seed TEXT NOT NULL,
			counter INTEGER NOT NULL,
			draw_value INTEGER NOT NULL,
			roll INTEGER NOT NULL,
			cost INTEGER NOT NULL,
			new_balance INTEGER NOT NULL,
			idempotency_key TEXT NOT NULL,
			debit_tx_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'in_inventory',
			resell_tx_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (user_id, idempotency_key),
			UNIQUE (seed_pair_id, counter),
			FOREIGN KEY (seed_pair_id) REFERENCES seed_pairs(id),
			FOREIGN KEY (pack_id) REFERENCES packs(id),
			FOREIGN KEY (prize_id) REFERENCES prizes(id)
		)`,
	}

	// Create indexes for better query performance
	indexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_seed_pairs_one_active ON seed_pairs(user_id) WHERE active = 1`,
		`CREATE INDEX IF NOT EXISTS idx_seed_pairs_user_id ON seed_pairs(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_user_id ON outcomes(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_created_at ON outcomes(created_at)`,
	}

	for _, stmt := range append(statements, indexes...) {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}

	return nil
}
