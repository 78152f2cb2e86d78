package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/leave-portal/leave"
)

// =============================================================================
// POLICY STORE (leave.PolicyStore interface)
// =============================================================================

const policyColumns = `leave_type, version, max_days, carryover_max_days, required_approval_levels, active, created_by, created_at`

func (r *repo) SavePolicy(ctx context.Context, p leave.LeavePolicy) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO leave_policies (`+policyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(p.LeaveType),
		p.Version,
		p.MaxDays,
		p.CarryoverMaxDays,
		p.RequiredApprovalLevels,
		p.Active,
		nullString(p.CreatedBy),
		formatTime(p.CreatedAt).String,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("policy %s v%d: %w", p.LeaveType, p.Version, leave.ErrConcurrentModification)
		}
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

func (r *repo) GetPolicy(ctx context.Context, t leave.LeaveType, version int) (leave.LeavePolicy, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM leave_policies WHERE leave_type = ? AND version = ?`, string(t), version)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return p, leave.NotFoundError("policy", fmt.Sprintf("%s v%d", t, version))
	}
	return p, err
}

func (r *repo) GetActivePolicy(ctx context.Context, t leave.LeaveType) (leave.LeavePolicy, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM leave_policies WHERE leave_type = ? AND active`, string(t))
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return p, leave.NotFoundError("active policy", string(t))
	}
	return p, err
}

// ActivatePolicy deactivates the current version before activating the new
// one; the partial unique index would reject two active rows mid-update.
func (r *repo) ActivatePolicy(ctx context.Context, t leave.LeaveType, version int) error {
	if _, err := r.GetPolicy(ctx, t, version); err != nil {
		return err
	}
	if _, err := r.q.ExecContext(ctx,
		`UPDATE leave_policies SET active = FALSE WHERE leave_type = ? AND active AND version <> ?`,
		string(t), version); err != nil {
		return fmt.Errorf("failed to deactivate policy: %w", err)
	}
	if _, err := r.q.ExecContext(ctx,
		`UPDATE leave_policies SET active = TRUE WHERE leave_type = ? AND version = ?`,
		string(t), version); err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("activate policy %s v%d: %w", t, version, leave.ErrConcurrentModification)
		}
		return fmt.Errorf("failed to activate policy: %w", err)
	}
	return nil
}

func (r *repo) ListPolicies(ctx context.Context, t leave.LeaveType) ([]leave.LeavePolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM leave_policies`
	var args []any
	if t != "" {
		query += ` WHERE leave_type = ?`
		args = append(args, string(t))
	}
	query += ` ORDER BY leave_type ASC, version ASC`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var out []leave.LeavePolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPolicy(row scanner) (leave.LeavePolicy, error) {
	var (
		p                  leave.LeavePolicy
		leaveType          string
		createdBy, created sql.NullString
	)
	err := row.Scan(&leaveType, &p.Version, &p.MaxDays, &p.CarryoverMaxDays, &p.RequiredApprovalLevels,
		&p.Active, &createdBy, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan policy: %w", err)
	}
	p.LeaveType = leave.LeaveType(leaveType)
	p.CreatedBy = createdBy.String
	p.CreatedAt = parseTime(created)
	return p, nil
}
