package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-portal/leave"
)

// Decision identifies one approver action on one level of a request.
type Decision struct {
	RequestID string
	Level     int
	ActorID   string
	Comment   string
}

// =============================================================================
// APPROVE
// =============================================================================

// Approve resolves the active level. When it was the last open level the
// request reaches its final status and the ledger is debited in the same
// transaction.
func (s *Service) Approve(ctx context.Context, d Decision) (*leave.LeaveRequest, error) {
	var out *leave.LeaveRequest
	err := s.run(ctx, "approve", func(tx leave.Store, fx *effects) error {
		r, step, err := s.loadActionable(ctx, tx, d, "approve")
		if err != nil {
			return err
		}
		if err := s.steps.Transition(step, leave.StepApproved); err != nil {
			return err
		}
		now := s.now().UTC()
		decide(step, d, now)
		if err := tx.UpdateStep(ctx, step); err != nil {
			return err
		}
		fx.record(s.auditEntry(leave.AuditStepApproved, d.ActorID, r, stepDetails(step)))

		if err := s.advance(ctx, tx, fx, r, d.ActorID, now); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("step approved",
		zap.String("request_id", out.ID),
		zap.Int("level", d.Level),
		zap.String("status", string(out.Status)))
	return out, nil
}

// advance activates the next level, or finalizes the request when no level
// is open. The request row is rewritten either way so that concurrent
// actions on the same request conflict on its version.
func (s *Service) advance(ctx context.Context, tx leave.Store, fx *effects, r *leave.LeaveRequest, actorID string, now time.Time) error {
	r.UpdatedAt = now

	_, done := leave.Outcome(r.Steps)
	if !done {
		next, ok := leave.ActiveStep(r.Steps)
		if ok && next.ActivatedAt.IsZero() {
			next.ActivatedAt = now
			if err := tx.UpdateStep(ctx, next); err != nil {
				return err
			}
			fx.notify(approvalNeeded(r, next))
		}
		return tx.UpdateRequest(ctx, r)
	}

	final := r.FinalStatus()
	if err := leave.TransitionRequest(r, final); err != nil {
		return err
	}
	res, err := s.ledger.On(tx).Debit(ctx, r.EmployeeID, r.LeaveType, r.Days, r.ID)
	if err != nil {
		return err
	}
	r.DecidedAt = now
	if err := tx.UpdateRequest(ctx, r); err != nil {
		return err
	}

	action := leave.AuditRequestApproved
	if final == leave.StatusRecorded {
		action = leave.AuditRequestRecorded
	}
	fx.record(s.auditEntry(action, actorID, r, requestDetails(r)))
	if res.Applied {
		fx.record(s.auditEntry(leave.AuditBalanceDebited, actorID, r, balanceDetails(res, r.Days)))
	}
	fx.notify(decided(r, ""))
	return nil
}

// =============================================================================
// REJECT
// =============================================================================

// Reject rejects the active level. Remaining pending levels are skipped and
// the request becomes rejected.
func (s *Service) Reject(ctx context.Context, d Decision) (*leave.LeaveRequest, error) {
	if s.cfg.RequireRejectComment && strings.TrimSpace(d.Comment) == "" {
		return nil, &leave.ValidationError{Field: "comment", Message: "a reason is required to reject"}
	}

	var out *leave.LeaveRequest
	err := s.run(ctx, "reject", func(tx leave.Store, fx *effects) error {
		r, step, err := s.loadActionable(ctx, tx, d, "reject")
		if err != nil {
			return err
		}
		if err := s.steps.Transition(step, leave.StepRejected); err != nil {
			return err
		}
		now := s.now().UTC()
		decide(step, d, now)
		if err := tx.UpdateStep(ctx, step); err != nil {
			return err
		}
		fx.record(s.auditEntry(leave.AuditStepRejected, d.ActorID, r, stepDetails(step)))

		for i := range r.Steps {
			other := &r.Steps[i]
			if other.ID == step.ID || other.Status != leave.StepPending {
				continue
			}
			if err := s.steps.Transition(other, leave.StepSkipped); err != nil {
				return err
			}
			other.DecidedAt = now
			if err := tx.UpdateStep(ctx, other); err != nil {
				return err
			}
			details := stepDetails(other)
			details["reason"] = "request rejected"
			fx.record(s.auditEntry(leave.AuditStepSkipped, d.ActorID, r, details))
		}

		if err := leave.TransitionRequest(r, leave.StatusRejected); err != nil {
			return err
		}
		r.DecidedAt = now
		r.UpdatedAt = now
		if err := tx.UpdateRequest(ctx, r); err != nil {
			return err
		}
		fx.record(s.auditEntry(leave.AuditRequestRejected, d.ActorID, r, map[string]any{
			"level":   step.Level,
			"comment": d.Comment,
		}))
		fx.notify(decided(r, d.Comment))
		out = r
		return nil
	})
	return out, err
}

// =============================================================================
// DELEGATE
// =============================================================================

// Delegate hands the active level to delegateID, who then decides in the
// approver's place.
func (s *Service) Delegate(ctx context.Context, d Decision, delegateID string) (*leave.LeaveRequest, error) {
	delegateID = strings.TrimSpace(delegateID)
	if delegateID == "" {
		return nil, &leave.ValidationError{Field: "delegate_id", Message: "required"}
	}
	if delegateID == d.ActorID {
		return nil, &leave.ValidationError{Field: "delegate_id", Message: "cannot delegate to yourself"}
	}
	if s.directory != nil {
		if _, err := s.directory.GetEmployee(ctx, delegateID); err != nil {
			if leave.IsNotFound(err) {
				return nil, &leave.ValidationError{Field: "delegate_id", Message: "unknown employee " + delegateID}
			}
			return nil, fmt.Errorf("load delegate: %w", err)
		}
	}

	var out *leave.LeaveRequest
	err := s.run(ctx, "delegate", func(tx leave.Store, fx *effects) error {
		r, step, err := s.loadActionable(ctx, tx, d, "delegate")
		if err != nil {
			return err
		}
		if delegateID == r.EmployeeID {
			return &leave.ValidationError{Field: "delegate_id", Message: "cannot delegate to the requester"}
		}
		if err := s.steps.Transition(step, leave.StepDelegated); err != nil {
			return err
		}
		now := s.now().UTC()
		step.DelegateID = delegateID
		step.DelegatedAt = now
		step.Comment = d.Comment
		if err := tx.UpdateStep(ctx, step); err != nil {
			return err
		}
		r.UpdatedAt = now
		if err := tx.UpdateRequest(ctx, r); err != nil {
			return err
		}
		details := stepDetails(step)
		details["delegate_id"] = delegateID
		fx.record(s.auditEntry(leave.AuditStepDelegated, d.ActorID, r, details))
		fx.notify(delegated(r, step, d.ActorID))
		out = r
		return nil
	})
	return out, err
}

// =============================================================================
// HELPERS
// =============================================================================

// loadActionable loads the request and the step at d.Level and checks that
// the actor may act on it now.
func (s *Service) loadActionable(ctx context.Context, tx leave.Store, d Decision, action string) (*leave.LeaveRequest, *leave.ApprovalStep, error) {
	r, err := tx.GetRequest(ctx, d.RequestID)
	if err != nil {
		return nil, nil, err
	}
	if r.Status != leave.StatusPending {
		return nil, nil, &leave.TransitionError{Machine: "request", ID: r.ID, From: string(r.Status), To: action}
	}
	step, ok := r.Step(d.Level)
	if !ok {
		return nil, nil, leave.NotFoundError("approval step", fmt.Sprintf("%s/%d", r.ID, d.Level))
	}
	if err := leave.CheckOrder(r.ID, r.Steps, d.Level); err != nil {
		return nil, nil, err
	}
	if err := s.authorize(ctx, r, step, d.ActorID); err != nil {
		return nil, nil, err
	}
	return r, step, nil
}

func decide(step *leave.ApprovalStep, d Decision, now time.Time) {
	step.DecidedBy = d.ActorID
	step.DecidedAt = now
	step.Comment = d.Comment
}

func stepDetails(step *leave.ApprovalStep) map[string]any {
	details := map[string]any{
		"level":         step.Level,
		"round":         step.Round,
		"approver_role": string(step.ApproverRole),
		"status":        string(step.Status),
	}
	if step.Comment != "" {
		details["comment"] = step.Comment
	}
	return details
}
