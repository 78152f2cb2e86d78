/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements leave.TxStore, leave.ReminderStore and leave.AuditLog on
  SQLite. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

KEY TABLES:
  leave_requests:  One row per request; version column for optimistic locking
  approval_steps:  One row per (request, round, level)
  leave_balances:  Remaining days per (employee, leave type)
  ledger_entries:  Append-only balance changes, unique idempotency_key
  leave_policies:  Versioned entitlement rules, at most one active per type
  audit_logs:      Immutable audit trail
  reminders:       Last reminder time per scheduler key

OPTIMISTIC LOCKING:
  Every UPDATE carries "AND version = ?". Zero rows affected on an existing
  row means somebody else wrote first: leave.ErrConcurrentModification.

CONCURRENCY:
  Transactions are opened with _txlock=immediate so the write lock is taken
  at BEGIN; concurrent writers queue on _busy_timeout instead of failing
  halfway through. A process-local mutex additionally serializes WithTx.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - leave/store.go: Interface definitions
  - store/memory: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/leave-portal/leave"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	repo
	db *sql.DB
	mu sync.Mutex
}

var (
	_ leave.TxStore       = (*Store)(nil)
	_ leave.ReminderStore = (*Store)(nil)
	_ leave.AuditLog      = (*Store)(nil)
)

// New opens the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := NewWithDB(db)
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewWithDB wraps an open database without migrating it.
func NewWithDB(db *sql.DB) *Store {
	return &Store{repo: repo{q: db}, db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the database schema.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
	-- Leave requests
	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		days TEXT NOT NULL,
		status TEXT NOT NULL,
		round_no INTEGER NOT NULL DEFAULT 1,
		requires_external_clearance BOOLEAN NOT NULL DEFAULT FALSE,
		locked BOOLEAN NOT NULL DEFAULT FALSE,
		payroll_impact BOOLEAN NOT NULL DEFAULT FALSE,
		record_on_approval BOOLEAN NOT NULL DEFAULT FALSE,
		reason TEXT,
		officer_taking_over TEXT,
		handover_notes TEXT,
		submitted_at TEXT,
		decided_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL
	);

	-- Overlap detection (hot path on submit)
	CREATE INDEX IF NOT EXISTS idx_requests_employee_dates
		ON leave_requests(employee_id, start_date, end_date);
	CREATE INDEX IF NOT EXISTS idx_requests_status
		ON leave_requests(status);

	-- Approval steps, all rounds kept for history
	CREATE TABLE IF NOT EXISTS approval_steps (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL REFERENCES leave_requests(id) ON DELETE CASCADE,
		round_no INTEGER NOT NULL,
		level INTEGER NOT NULL,
		approver_role TEXT NOT NULL,
		approver_id TEXT,
		status TEXT NOT NULL,
		delegate_id TEXT,
		delegated_at TEXT,
		activated_at TEXT,
		decided_by TEXT,
		decided_at TEXT,
		comment TEXT,
		version INTEGER NOT NULL,
		UNIQUE(request_id, round_no, level)
	);

	-- Balances
	CREATE TABLE IF NOT EXISTS leave_balances (
		employee_id TEXT NOT NULL,
		leave_type TEXT NOT NULL,
		remaining TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, leave_type)
	);

	-- Ledger (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type TEXT NOT NULL,
		kind TEXT NOT NULL,
		days TEXT NOT NULL,
		request_id TEXT,
		idempotency_key TEXT NOT NULL UNIQUE,
		reason TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_employee
		ON ledger_entries(employee_id);

	-- Policies (versioned)
	CREATE TABLE IF NOT EXISTS leave_policies (
		leave_type TEXT NOT NULL,
		version INTEGER NOT NULL,
		max_days INTEGER NOT NULL,
		carryover_max_days INTEGER NOT NULL DEFAULT 0,
		required_approval_levels INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT FALSE,
		created_by TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (leave_type, version)
	);

	-- CRITICAL: at most one active version per leave type
	CREATE UNIQUE INDEX IF NOT EXISTS idx_policies_one_active
		ON leave_policies(leave_type) WHERE active;

	-- Audit trail
	CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		action TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		employee_id TEXT,
		request_id TEXT,
		details_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_request
		ON audit_logs(request_id) WHERE request_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_audit_logs_employee
		ON audit_logs(employee_id) WHERE employee_id IS NOT NULL;

	-- Scheduler reminder de-duplication
	CREATE TABLE IF NOT EXISTS reminders (
		key TEXT PRIMARY KEY,
		last_sent_at INTEGER NOT NULL
	);
`

// =============================================================================
// TRANSACTIONAL STORE (leave.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store leave.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&repo{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// repo implements leave.Store against either the database or an open
// transaction.
type repo struct {
	q querier
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// expectOneRow maps a version-checked write to the store contract: one row
// written is success; none means the row is missing or stale.
func (r *repo) expectOneRow(ctx context.Context, res sql.Result, table, key string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	var exists int
	err = r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE "+key, args...).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check %s: %w", table, err)
	}
	if exists == 0 {
		return leave.NotFoundError(strings.TrimSuffix(table, "s"), fmt.Sprint(args...))
	}
	return leave.ErrConcurrentModification
}
