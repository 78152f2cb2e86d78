// Package overlap finds active leave requests that collide with a date range.
//
// Two closed ranges overlap iff existing.start <= new.end && existing.end >= new.start.
// Only pending, approved and recorded requests block new leave; drafts,
// rejected and cancelled requests never do.
package overlap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/warp/leave-portal/leave"
)

type Detector struct {
	store  leave.RequestStore
	logger *zap.Logger
}

func New(store leave.RequestStore, logger ...*zap.Logger) *Detector {
	l := zap.L()
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	}
	return &Detector{store: store, logger: l.Named("overlap")}
}

// FindOverlaps returns the employee's active requests intersecting
// [start, end]. excludeRequestID lets a resubmitted request ignore itself.
func (d *Detector) FindOverlaps(ctx context.Context, employeeID string, start, end leave.Date, excludeRequestID string) ([]leave.LeaveRequest, error) {
	if end.Before(start) {
		return nil, &leave.ValidationError{Field: "end_date", Message: "end date before start date"}
	}

	candidates, err := d.store.ListRequests(ctx, leave.RequestFilter{
		EmployeeID:   employeeID,
		Statuses:     leave.ActiveStatuses,
		OverlapStart: start,
		OverlapEnd:   end,
	})
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}

	var out []leave.LeaveRequest
	for _, r := range candidates {
		if r.ID == excludeRequestID {
			continue
		}
		if leave.RangesOverlap(r.StartDate, r.EndDate, start, end) {
			out = append(out, r)
		}
	}

	if len(out) > 0 {
		d.logger.Debug("overlapping leave found",
			zap.String("employee_id", employeeID),
			zap.String("start", start.String()),
			zap.String("end", end.String()),
			zap.Int("conflicts", len(out)))
	}
	return out, nil
}

// Ensure fails with an OverlapError when FindOverlaps is non-empty.
func (d *Detector) Ensure(ctx context.Context, employeeID string, start, end leave.Date, excludeRequestID string) error {
	conflicts, err := d.FindOverlaps(ctx, employeeID, start, end, excludeRequestID)
	if err != nil {
		return err
	}
	if len(conflicts) == 0 {
		return nil
	}
	ids := make([]string, len(conflicts))
	for i, c := range conflicts {
		ids[i] = c.ID
	}
	return &leave.OverlapError{EmployeeID: employeeID, Conflicting: ids}
}
