package workflow

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/leave-portal/ledger"
	"github.com/warp/leave-portal/leave"
)

// =============================================================================
// CANCEL
// =============================================================================

// Cancel withdraws a pending request or reverses an approved one. The
// requester or HR may cancel. Cancelling an approved request credits the
// debited days back; cancelling an already cancelled request returns it
// unchanged, so the credit happens at most once.
func (s *Service) Cancel(ctx context.Context, requestID, actorID, reason string) (*leave.LeaveRequest, error) {
	var out *leave.LeaveRequest
	err := s.run(ctx, "cancel", func(tx leave.Store, fx *effects) error {
		r, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if r.EmployeeID != actorID && !s.isHR(ctx, actorID) {
			return fmt.Errorf("%w: only the requester or HR may cancel", leave.ErrForbidden)
		}
		if r.Status == leave.StatusCancelled {
			out = r
			return nil
		}
		if r.Locked {
			return &leave.LockedError{RequestID: r.ID}
		}

		previous := r.Status
		if err := leave.TransitionRequest(r, leave.StatusCancelled); err != nil {
			return err
		}
		now := s.now().UTC()

		if previous == leave.StatusApproved {
			res, err := s.ledger.On(tx).Credit(ctx, r.EmployeeID, r.LeaveType, r.Days, r.ID)
			if err != nil {
				return err
			}
			if res.Applied {
				fx.record(s.auditEntry(leave.AuditBalanceCredited, actorID, r, balanceDetails(res, r.Days)))
			}
		}

		// Delegated steps close too; a cancelled request has no open level.
		for i := range r.Steps {
			step := &r.Steps[i]
			if !step.Status.Open() {
				continue
			}
			if err := s.steps.Withdraw(step); err != nil {
				return err
			}
			step.DecidedAt = now
			if err := tx.UpdateStep(ctx, step); err != nil {
				return err
			}
			details := stepDetails(step)
			details["reason"] = "request cancelled"
			fx.record(s.auditEntry(leave.AuditStepSkipped, actorID, r, details))
		}

		r.UpdatedAt = now
		if err := tx.UpdateRequest(ctx, r); err != nil {
			return err
		}
		fx.record(s.auditEntry(leave.AuditRequestCancelled, actorID, r, map[string]any{
			"previous_status": string(previous),
			"reason":          reason,
		}))
		if actorID != r.EmployeeID {
			fx.notify(decided(r, reason))
		}
		out = r
		return nil
	})
	return out, err
}

// =============================================================================
// PAYROLL LOCK
// =============================================================================

// Lock marks an approved or recorded request as final for payroll. Locking
// a locked request is a no-op.
func (s *Service) Lock(ctx context.Context, requestID, actorID string) (*leave.LeaveRequest, error) {
	if !s.isHR(ctx, actorID) {
		return nil, fmt.Errorf("%w: only HR may lock requests", leave.ErrForbidden)
	}
	var out *leave.LeaveRequest
	err := s.run(ctx, "lock", func(tx leave.Store, fx *effects) error {
		r, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := s.lock(ctx, tx, fx, r, actorID, nil); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// LockPayrollPeriod locks every approved or recorded request starting on or
// before periodEnd. It returns how many requests were newly locked.
func (s *Service) LockPayrollPeriod(ctx context.Context, periodEnd leave.Date, actorID string) (int, error) {
	if periodEnd.IsZero() {
		return 0, &leave.ValidationError{Field: "period_end", Message: "required"}
	}
	if !s.isHR(ctx, actorID) {
		return 0, fmt.Errorf("%w: only HR may close a payroll period", leave.ErrForbidden)
	}

	var locked int
	err := s.run(ctx, "lock_payroll_period", func(tx leave.Store, fx *effects) error {
		locked = 0
		unlocked := false
		candidates, err := tx.ListRequests(ctx, leave.RequestFilter{
			Statuses:         []leave.RequestStatus{leave.StatusApproved, leave.StatusRecorded},
			StartsOnOrBefore: periodEnd,
			Locked:           &unlocked,
		})
		if err != nil {
			return err
		}
		details := map[string]any{"period_end": periodEnd.String()}
		for i := range candidates {
			if err := s.lock(ctx, tx, fx, &candidates[i], actorID, details); err != nil {
				return err
			}
			locked++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("payroll period closed", zap.String("period_end", periodEnd.String()), zap.Int("locked", locked))
	return locked, nil
}

func (s *Service) lock(ctx context.Context, tx leave.Store, fx *effects, r *leave.LeaveRequest, actorID string, details map[string]any) error {
	if r.Locked {
		return nil
	}
	if r.Status != leave.StatusApproved && r.Status != leave.StatusRecorded {
		return &leave.TransitionError{Machine: "request", ID: r.ID, From: string(r.Status), To: "locked"}
	}
	r.Locked = true
	r.UpdatedAt = s.now().UTC()
	if err := tx.UpdateRequest(ctx, r); err != nil {
		return err
	}
	fx.record(s.auditEntry(leave.AuditRequestLocked, actorID, r, details))
	return nil
}

func balanceDetails(res ledger.Result, days decimal.Decimal) map[string]any {
	return map[string]any{
		"leave_type": string(res.Entry.LeaveType),
		"days":       days.String(),
		"balance":    res.Balance.String(),
		"key":        res.Entry.IdempotencyKey,
	}
}
