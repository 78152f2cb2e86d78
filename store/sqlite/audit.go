package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/warp/leave-portal/leave"
)

// =============================================================================
// AUDIT LOG (leave.AuditLog interface)
// =============================================================================

// Record appends an audit entry. It runs outside any workflow transaction so
// a failed audit write never rolls back the audited change.
func (s *Store) Record(ctx context.Context, e leave.AuditEntry) error {
	var details sql.NullString
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		details = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, timestamp, action, actor_id, employee_id, request_id, details_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		formatTime(e.Timestamp).String,
		string(e.Action),
		e.ActorID,
		nullString(e.EmployeeID),
		nullString(e.RequestID),
		details,
	)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

func (s *Store) ListAudit(ctx context.Context, f leave.AuditFilter) ([]leave.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.RequestID != "" {
		where = append(where, "request_id = ?")
		args = append(args, f.RequestID)
	}
	if f.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, f.EmployeeID)
	}
	if len(f.Actions) > 0 {
		marks := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			marks[i] = "?"
			args = append(args, string(a))
		}
		where = append(where, "action IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT id, timestamp, action, actor_id, employee_id, request_id, details_json FROM audit_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []leave.AuditEntry
	for rows.Next() {
		var (
			e                     leave.AuditEntry
			ts, action            string
			employeeID, requestID sql.NullString
			details               sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &action, &e.ActorID, &employeeID, &requestID, &details); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Timestamp = parseTime(sql.NullString{String: ts, Valid: true})
		e.Action = leave.AuditAction(action)
		e.EmployeeID = employeeID.String
		e.RequestID = requestID.String
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("audit entry %s: bad details: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// REMINDERS (leave.ReminderStore interface)
// =============================================================================

// ClaimReminder records now for key unless a claim within window exists.
// The check and the write are one statement, so concurrent scans race
// safely.
func (s *Store) ClaimReminder(ctx context.Context, key string, now time.Time, window time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (key, last_sent_at) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET last_sent_at = excluded.last_sent_at
		WHERE excluded.last_sent_at - reminders.last_sent_at >= ?
	`, key, now.UnixMilli(), window.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("failed to claim reminder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim reminder: %w", err)
	}
	return n == 1, nil
}
