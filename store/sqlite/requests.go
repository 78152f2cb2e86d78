package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-portal/leave"
)

// =============================================================================
// REQUEST STORE (leave.RequestStore interface)
// =============================================================================

const requestColumns = `id, employee_id, leave_type, start_date, end_date, days, status, round_no,
	requires_external_clearance, locked, payroll_impact, record_on_approval,
	reason, officer_taking_over, handover_notes,
	submitted_at, decided_at, created_at, updated_at, version`

func (r *repo) CreateRequest(ctx context.Context, req *leave.LeaveRequest) error {
	query := `INSERT INTO leave_requests (` + requestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.q.ExecContext(ctx, query,
		req.ID,
		req.EmployeeID,
		string(req.LeaveType),
		req.StartDate.String(),
		req.EndDate.String(),
		req.Days.String(),
		string(req.Status),
		req.Round,
		req.RequiresExternalClearance,
		req.Locked,
		req.PayrollImpact,
		req.RecordOnApproval,
		nullString(req.Reason),
		nullString(req.OfficerTakingOver),
		nullString(req.HandoverNotes),
		formatTime(req.SubmittedAt),
		formatTime(req.DecidedAt),
		formatTime(req.CreatedAt).String,
		formatTime(req.UpdatedAt).String,
		1,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("request %s already exists", req.ID)
		}
		return fmt.Errorf("failed to insert request: %w", err)
	}
	req.Version = 1
	return nil
}

func (r *repo) GetRequest(ctx context.Context, id string) (*leave.LeaveRequest, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM leave_requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, leave.NotFoundError("request", id)
	}
	if err != nil {
		return nil, err
	}
	req.Steps, err = r.ListSteps(ctx, req.ID, req.Round)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *repo) UpdateRequest(ctx context.Context, req *leave.LeaveRequest) error {
	query := `
		UPDATE leave_requests SET
			leave_type = ?, start_date = ?, end_date = ?, days = ?, status = ?, round_no = ?,
			requires_external_clearance = ?, locked = ?, payroll_impact = ?, record_on_approval = ?,
			reason = ?, officer_taking_over = ?, handover_notes = ?,
			submitted_at = ?, decided_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`
	res, err := r.q.ExecContext(ctx, query,
		string(req.LeaveType),
		req.StartDate.String(),
		req.EndDate.String(),
		req.Days.String(),
		string(req.Status),
		req.Round,
		req.RequiresExternalClearance,
		req.Locked,
		req.PayrollImpact,
		req.RecordOnApproval,
		nullString(req.Reason),
		nullString(req.OfficerTakingOver),
		nullString(req.HandoverNotes),
		formatTime(req.SubmittedAt),
		formatTime(req.DecidedAt),
		formatTime(req.UpdatedAt).String,
		req.ID,
		req.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	if err := r.expectOneRow(ctx, res, "leave_requests", "id = ?", req.ID); err != nil {
		return err
	}
	req.Version++
	return nil
}

func (r *repo) DeleteRequest(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM leave_requests WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return leave.NotFoundError("request", id)
	}
	return nil
}

func (r *repo) ListRequests(ctx context.Context, f leave.RequestFilter) ([]leave.LeaveRequest, error) {
	var (
		where []string
		args  []any
	)
	if f.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, f.EmployeeID)
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if !f.OverlapStart.IsZero() && !f.OverlapEnd.IsZero() {
		// ISO dates compare correctly as text.
		where = append(where, "start_date <= ? AND end_date >= ?")
		args = append(args, f.OverlapEnd.String(), f.OverlapStart.String())
	}
	if !f.StartsOnOrBefore.IsZero() {
		where = append(where, "start_date <= ?")
		args = append(args, f.StartsOnOrBefore.String())
	}
	if f.Locked != nil {
		where = append(where, "locked = ?")
		args = append(args, *f.Locked)
	}

	query := `SELECT ` + requestColumns + ` FROM leave_requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_date ASC, created_at ASC, id ASC"

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	var out []leave.LeaveRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Steps are loaded after the cursor is closed; a transaction has one
	// connection.
	for i := range out {
		out[i].Steps, err = r.ListSteps(ctx, out[i].ID, out[i].Round)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scanRequest(row scanner) (leave.LeaveRequest, error) {
	var (
		req                leave.LeaveRequest
		leaveType, status  string
		start, end, days   string
		reason, officer    sql.NullString
		handover           sql.NullString
		submitted, decided sql.NullString
		created, updated   sql.NullString
	)
	err := row.Scan(
		&req.ID, &req.EmployeeID, &leaveType, &start, &end, &days, &status, &req.Round,
		&req.RequiresExternalClearance, &req.Locked, &req.PayrollImpact, &req.RecordOnApproval,
		&reason, &officer, &handover,
		&submitted, &decided, &created, &updated, &req.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return req, err
		}
		return req, fmt.Errorf("failed to scan request: %w", err)
	}

	req.LeaveType = leave.LeaveType(leaveType)
	req.Status = leave.RequestStatus(status)
	if req.StartDate, err = leave.ParseDate(start); err != nil {
		return req, fmt.Errorf("request %s: %w", req.ID, err)
	}
	if req.EndDate, err = leave.ParseDate(end); err != nil {
		return req, fmt.Errorf("request %s: %w", req.ID, err)
	}
	if req.Days, err = decimal.NewFromString(days); err != nil {
		return req, fmt.Errorf("request %s: bad days %q: %w", req.ID, days, err)
	}
	req.Reason = reason.String
	req.OfficerTakingOver = officer.String
	req.HandoverNotes = handover.String
	req.SubmittedAt = parseTime(submitted)
	req.DecidedAt = parseTime(decided)
	req.CreatedAt = parseTime(created)
	req.UpdatedAt = parseTime(updated)
	return req, nil
}

// =============================================================================
// STEP STORE (leave.StepStore interface)
// =============================================================================

const stepColumns = `id, request_id, round_no, level, approver_role, approver_id, status,
	delegate_id, delegated_at, activated_at, decided_by, decided_at, comment, version`

func (r *repo) CreateSteps(ctx context.Context, steps []leave.ApprovalStep) error {
	query := `INSERT INTO approval_steps (` + stepColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for i := range steps {
		st := &steps[i]
		_, err := r.q.ExecContext(ctx, query,
			st.ID,
			st.RequestID,
			st.Round,
			st.Level,
			string(st.ApproverRole),
			nullString(st.ApproverID),
			string(st.Status),
			nullString(st.DelegateID),
			formatTime(st.DelegatedAt),
			formatTime(st.ActivatedAt),
			nullString(st.DecidedBy),
			formatTime(st.DecidedAt),
			nullString(st.Comment),
			1,
		)
		if err != nil {
			if strings.Contains(err.Error(), "FOREIGN KEY") {
				return leave.NotFoundError("request", st.RequestID)
			}
			return fmt.Errorf("failed to insert step %d: %w", st.Level, err)
		}
		st.Version = 1
	}
	return nil
}

func (r *repo) UpdateStep(ctx context.Context, st *leave.ApprovalStep) error {
	query := `
		UPDATE approval_steps SET
			approver_id = ?, status = ?, delegate_id = ?, delegated_at = ?, activated_at = ?,
			decided_by = ?, decided_at = ?, comment = ?, version = version + 1
		WHERE id = ? AND version = ?
	`
	res, err := r.q.ExecContext(ctx, query,
		nullString(st.ApproverID),
		string(st.Status),
		nullString(st.DelegateID),
		formatTime(st.DelegatedAt),
		formatTime(st.ActivatedAt),
		nullString(st.DecidedBy),
		formatTime(st.DecidedAt),
		nullString(st.Comment),
		st.ID,
		st.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update step: %w", err)
	}
	if err := r.expectOneRow(ctx, res, "approval_steps", "id = ?", st.ID); err != nil {
		return err
	}
	st.Version++
	return nil
}

func (r *repo) ListSteps(ctx context.Context, requestID string, round int) ([]leave.ApprovalStep, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM approval_steps WHERE request_id = ? AND round_no = ? ORDER BY level ASC`,
		requestID, round)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var out []leave.ApprovalStep
	for rows.Next() {
		var (
			st                    leave.ApprovalStep
			role, status          string
			approver, delegate    sql.NullString
			delegatedAt, activeAt sql.NullString
			decidedBy, decidedAt  sql.NullString
			comment               sql.NullString
		)
		err := rows.Scan(
			&st.ID, &st.RequestID, &st.Round, &st.Level, &role, &approver, &status,
			&delegate, &delegatedAt, &activeAt, &decidedBy, &decidedAt, &comment, &st.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		st.ApproverRole = leave.ApproverRole(role)
		st.ApproverID = approver.String
		st.Status = leave.StepStatus(status)
		st.DelegateID = delegate.String
		st.DelegatedAt = parseTime(delegatedAt)
		st.ActivatedAt = parseTime(activeAt)
		st.DecidedBy = decidedBy.String
		st.DecidedAt = parseTime(decidedAt)
		st.Comment = comment.String
		out = append(out, st)
	}
	return out, rows.Err()
}
