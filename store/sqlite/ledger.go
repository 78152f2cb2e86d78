package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-portal/leave"
)

// =============================================================================
// LEDGER STORE (leave.LedgerStore interface)
// =============================================================================

func (r *repo) GetBalance(ctx context.Context, employeeID string, t leave.LeaveType) (leave.LeaveBalance, error) {
	b := leave.LeaveBalance{EmployeeID: employeeID, LeaveType: t, Remaining: decimal.Zero}
	var (
		remaining string
		updated   sql.NullString
	)
	err := r.q.QueryRowContext(ctx,
		`SELECT remaining, version, updated_at FROM leave_balances WHERE employee_id = ? AND leave_type = ?`,
		employeeID, string(t),
	).Scan(&remaining, &b.Version, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return b, nil
	}
	if err != nil {
		return b, fmt.Errorf("failed to load balance: %w", err)
	}
	if b.Remaining, err = decimal.NewFromString(remaining); err != nil {
		return b, fmt.Errorf("balance %s/%s: bad remaining %q: %w", employeeID, t, remaining, err)
	}
	b.UpdatedAt = parseTime(updated)
	return b, nil
}

func (r *repo) SaveBalance(ctx context.Context, b *leave.LeaveBalance) error {
	if b.Version == 0 {
		_, err := r.q.ExecContext(ctx,
			`INSERT INTO leave_balances (employee_id, leave_type, remaining, version, updated_at) VALUES (?, ?, ?, 1, ?)`,
			b.EmployeeID, string(b.LeaveType), b.Remaining.String(), formatTime(b.UpdatedAt).String,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				// Another writer created the row first.
				return leave.ErrConcurrentModification
			}
			return fmt.Errorf("failed to insert balance: %w", err)
		}
		b.Version = 1
		return nil
	}

	res, err := r.q.ExecContext(ctx,
		`UPDATE leave_balances SET remaining = ?, updated_at = ?, version = version + 1
		 WHERE employee_id = ? AND leave_type = ? AND version = ?`,
		b.Remaining.String(), formatTime(b.UpdatedAt).String, b.EmployeeID, string(b.LeaveType), b.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return leave.ErrConcurrentModification
	}
	b.Version++
	return nil
}

func (r *repo) ListBalances(ctx context.Context, employeeID string) ([]leave.LeaveBalance, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT leave_type, remaining, version, updated_at FROM leave_balances WHERE employee_id = ? ORDER BY leave_type`,
		employeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var out []leave.LeaveBalance
	for rows.Next() {
		var (
			b                    leave.LeaveBalance
			leaveType, remaining string
			updated              sql.NullString
		)
		if err := rows.Scan(&leaveType, &remaining, &b.Version, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		b.EmployeeID = employeeID
		b.LeaveType = leave.LeaveType(leaveType)
		if b.Remaining, err = decimal.NewFromString(remaining); err != nil {
			return nil, fmt.Errorf("balance %s/%s: %w", employeeID, leaveType, err)
		}
		b.UpdatedAt = parseTime(updated)
		out = append(out, b)
	}
	return out, rows.Err()
}

const entryColumns = `id, employee_id, leave_type, kind, days, request_id, idempotency_key, reason, created_at`

func (r *repo) AppendEntry(ctx context.Context, e leave.LedgerEntry) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO ledger_entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.EmployeeID,
		string(e.LeaveType),
		string(e.Kind),
		e.Days.String(),
		nullString(e.RequestID),
		e.IdempotencyKey,
		nullString(e.Reason),
		formatTime(e.CreatedAt).String,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return leave.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func (r *repo) GetEntry(ctx context.Context, key string) (leave.LedgerEntry, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE idempotency_key = ?`, key)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.LedgerEntry{}, leave.NotFoundError("ledger entry", key)
	}
	return e, err
}

func (r *repo) ListEntries(ctx context.Context, employeeID string) ([]leave.LedgerEntry, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE employee_id = ? ORDER BY rowid ASC`, employeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var out []leave.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(row scanner) (leave.LedgerEntry, error) {
	var (
		e                     leave.LedgerEntry
		leaveType, kind, days string
		requestID, reason     sql.NullString
		created               sql.NullString
	)
	err := row.Scan(&e.ID, &e.EmployeeID, &leaveType, &kind, &days, &requestID, &e.IdempotencyKey, &reason, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("failed to scan ledger entry: %w", err)
	}
	e.LeaveType = leave.LeaveType(leaveType)
	e.Kind = leave.EntryKind(kind)
	if e.Days, err = decimal.NewFromString(days); err != nil {
		return e, fmt.Errorf("ledger entry %s: %w", e.ID, err)
	}
	e.RequestID = requestID.String
	e.Reason = reason.String
	e.CreatedAt = parseTime(created)
	return e, nil
}
