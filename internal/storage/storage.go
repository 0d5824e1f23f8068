// Package storage provides persistent storage using SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/klingon-exchange/klingon-swap/internal/txn"
)

// DBFileName is the name of the database file inside the data directory.
const DBFileName = "swaps.db"

// Storage provides persistent storage for the swap coordinator.
//
// Every method accepts a context. When the context carries a transaction
// opened by Atomically, the method runs inside it.
type Storage struct {
	db     *sql.DB
	dbPath string
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFileName)

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Storage) Path() string {
	return s.dbPath
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- Swap records. Times are unix nanoseconds.
	CREATE TABLE IF NOT EXISTS swaps (
		id TEXT PRIMARY KEY,
		initiator TEXT NOT NULL,
		participant TEXT NOT NULL,
		operator TEXT NOT NULL,

		-- Hash-lock
		commitment TEXT NOT NULL,
		scheme TEXT NOT NULL,
		secret TEXT,

		-- Time-lock
		created_at INTEGER NOT NULL,
		timeout_ns INTEGER NOT NULL,
		deadline INTEGER NOT NULL,

		state TEXT NOT NULL DEFAULT 'initiated',
		nonce INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL,
		finalized_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_swaps_state ON swaps(state);
	CREATE INDEX IF NOT EXISTS idx_swaps_deadline ON swaps(state, deadline);
	CREATE INDEX IF NOT EXISTS idx_swaps_initiator ON swaps(initiator);
	CREATE INDEX IF NOT EXISTS idx_swaps_participant ON swaps(participant);

	-- Asset legs, ordered per side
	CREATE TABLE IF NOT EXISTS swap_legs (
		swap_id TEXT NOT NULL,
		side TEXT NOT NULL,
		position INTEGER NOT NULL,
		ledger TEXT NOT NULL,
		asset TEXT NOT NULL,
		quantity INTEGER NOT NULL,

		PRIMARY KEY (swap_id, side, position),
		FOREIGN KEY (swap_id) REFERENCES swaps(id) ON DELETE CASCADE
	);

	-- =========================================================================
	-- Asset ledgers
	-- =========================================================================

	CREATE TABLE IF NOT EXISTS ledger_balances (
		ledger TEXT NOT NULL,
		account TEXT NOT NULL,
		asset TEXT NOT NULL,
		amount INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL,

		PRIMARY KEY (ledger, account, asset)
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_balances_asset ON ledger_balances(ledger, asset);

	CREATE TABLE IF NOT EXISTS ledger_allowances (
		ledger TEXT NOT NULL,
		owner TEXT NOT NULL,
		spender TEXT NOT NULL,
		asset TEXT NOT NULL,
		amount INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL,

		PRIMARY KEY (ledger, owner, spender, asset)
	);

	-- =========================================================================
	-- Audit trail and counters
	-- =========================================================================

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		swap_id TEXT NOT NULL,
		actor TEXT,
		state TEXT,
		payload TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_swap ON audit_log(swap_id, created_at);

	CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL DEFAULT 0
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	return s.runMigrations()
}

// runMigrations runs schema migrations for existing databases.
// Errors are ignored since columns may already exist.
func (s *Storage) runMigrations() error {
	migrations := []string{
		"ALTER TABLE audit_log ADD COLUMN payload TEXT",
	}

	for _, migration := range migrations {
		_, _ = s.db.Exec(migration)
	}

	return nil
}

// =============================================================================
// Transactions
// =============================================================================

type txKey struct{ s *Storage }

type txState struct {
	tx    *sql.Tx
	depth int
}

// querier is the subset of *sql.DB and *sql.Tx the storage methods use.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn returns the transaction carried by ctx, or the database.
func (s *Storage) conn(ctx context.Context) querier {
	if st, ok := ctx.Value(txKey{s}).(*txState); ok {
		return st.tx
	}
	return s.db
}

// InTx reports whether ctx carries a transaction of this storage.
func (s *Storage) InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{s}).(*txState)
	return ok
}

// Atomically runs fn in a transaction. If ctx already carries one, fn runs
// under a savepoint so a failing inner scope only rolls back its own writes.
func (s *Storage) Atomically(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if st, ok := ctx.Value(txKey{s}).(*txState); ok {
		return s.savepoint(ctx, st, fn)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		if ctx.Err() != nil {
			// The single connection is held by another scope.
			return fmt.Errorf("%w: %w", txn.ErrBusy, err)
		}
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	ctx = context.WithValue(ctx, txKey{s}, &txState{tx: tx})

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(ctx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Storage) savepoint(ctx context.Context, st *txState, fn func(ctx context.Context) error) (err error) {
	st.depth++
	name := fmt.Sprintf("sp_%d", st.depth)
	defer func() { st.depth-- }()

	if _, err := st.tx.Exec("SAVEPOINT " + name); err != nil {
		return fmt.Errorf("failed to open savepoint: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_, _ = st.tx.Exec("ROLLBACK TO SAVEPOINT " + name)
			_, _ = st.tx.Exec("RELEASE SAVEPOINT " + name)
			panic(r)
		}
	}()

	if err := fn(ctx); err != nil {
		_, _ = st.tx.Exec("ROLLBACK TO SAVEPOINT " + name)
		_, _ = st.tx.Exec("RELEASE SAVEPOINT " + name)
		return err
	}
	if _, err := st.tx.Exec("RELEASE SAVEPOINT " + name); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

// =============================================================================
// Counters
// =============================================================================

// NextCounter increments the named counter and returns its new value.
func (s *Storage) NextCounter(ctx context.Context, name string) (uint64, error) {
	var value uint64
	err := s.Atomically(ctx, func(ctx context.Context) error {
		q := s.conn(ctx)
		if _, err := q.ExecContext(ctx, `
			INSERT INTO counters (name, value) VALUES (?, 1)
			ON CONFLICT(name) DO UPDATE SET value = value + 1
		`, name); err != nil {
			return err
		}
		return q.QueryRowContext(ctx, "SELECT value FROM counters WHERE name = ?", name).Scan(&value)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to advance counter %s: %w", name, err)
	}
	return value, nil
}

// Counter returns the current value of the named counter.
func (s *Storage) Counter(ctx context.Context, name string) (uint64, error) {
	var value uint64
	err := s.conn(ctx).QueryRowContext(ctx, "SELECT value FROM counters WHERE name = ?", name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter %s: %w", name, err)
	}
	return value, nil
}

// isConstraintError reports whether err is a SQLite constraint violation.
func isConstraintError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

// nullInt64 converts zero to NULL.
func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

// unixNano returns t as unix nanoseconds, or 0 for the zero time.
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// fromUnixNano is the inverse of unixNano.
func fromUnixNano(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v).UTC()
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
