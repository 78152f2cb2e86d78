package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/leave-portal/leave"
	"github.com/warp/leave-portal/overlap"
	"github.com/warp/leave-portal/planner"
)

// =============================================================================
// INPUTS
// =============================================================================

// SubmitInput describes a leave request as entered by the employee.
// A zero Days is filled with the working days between the dates.
type SubmitInput struct {
	EmployeeID                string
	LeaveType                 leave.LeaveType
	StartDate                 leave.Date
	EndDate                   leave.Date
	Days                      decimal.Decimal
	Reason                    string
	OfficerTakingOver         string
	HandoverNotes             string
	RequiresExternalClearance bool
}

func (in SubmitInput) apply(r *leave.LeaveRequest) {
	r.LeaveType = in.LeaveType
	r.StartDate = in.StartDate
	r.EndDate = in.EndDate
	r.Days = in.Days
	if r.Days.IsZero() && !in.StartDate.IsZero() && !in.EndDate.IsZero() {
		r.Days = leave.WorkingDays(in.StartDate, in.EndDate)
	}
	r.Reason = in.Reason
	r.OfficerTakingOver = in.OfficerTakingOver
	r.HandoverNotes = in.HandoverNotes
	r.RequiresExternalClearance = in.RequiresExternalClearance
}

func (s *Service) newRequest(in SubmitInput) *leave.LeaveRequest {
	now := s.now().UTC()
	r := &leave.LeaveRequest{
		ID:         s.newID(),
		EmployeeID: in.EmployeeID,
		Status:     leave.StatusDraft,
		Round:      1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	in.apply(r)
	return r
}

// =============================================================================
// DRAFTS
// =============================================================================

// CreateDraft saves a request without starting approval.
func (s *Service) CreateDraft(ctx context.Context, in SubmitInput) (*leave.LeaveRequest, error) {
	r := s.newRequest(in)
	if err := r.Validate(); err != nil {
		return nil, err
	}
	err := s.run(ctx, "create_draft", func(tx leave.Store, fx *effects) error {
		if err := tx.CreateRequest(ctx, r); err != nil {
			return err
		}
		fx.record(s.auditEntry(leave.AuditDraftCreated, r.EmployeeID, r, requestDetails(r)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// UpdateDraft replaces the editable fields of a draft.
func (s *Service) UpdateDraft(ctx context.Context, id, actorID string, in SubmitInput) (*leave.LeaveRequest, error) {
	var out *leave.LeaveRequest
	err := s.run(ctx, "update_draft", func(tx leave.Store, fx *effects) error {
		r, err := s.loadDraft(ctx, tx, id, actorID)
		if err != nil {
			return err
		}
		in.apply(r)
		if err := r.Validate(); err != nil {
			return err
		}
		r.UpdatedAt = s.now().UTC()
		if err := tx.UpdateRequest(ctx, r); err != nil {
			return err
		}
		fx.record(s.auditEntry(leave.AuditDraftUpdated, actorID, r, requestDetails(r)))
		out = r
		return nil
	})
	return out, err
}

// DeleteDraft removes a draft. Submitted requests are never deleted.
func (s *Service) DeleteDraft(ctx context.Context, id, actorID string) error {
	return s.run(ctx, "delete_draft", func(tx leave.Store, fx *effects) error {
		r, err := s.loadDraft(ctx, tx, id, actorID)
		if err != nil {
			return err
		}
		if err := tx.DeleteRequest(ctx, id); err != nil {
			return err
		}
		fx.record(s.auditEntry(leave.AuditDraftDeleted, actorID, r, nil))
		return nil
	})
}

func (s *Service) loadDraft(ctx context.Context, tx leave.Store, id, actorID string) (*leave.LeaveRequest, error) {
	r, err := tx.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.EmployeeID != actorID {
		return nil, fmt.Errorf("%w: only the requester may edit a draft", leave.ErrForbidden)
	}
	if r.Status != leave.StatusDraft {
		return nil, &leave.TransitionError{Machine: "request", ID: r.ID, From: string(r.Status), To: "edit"}
	}
	return r, nil
}

// =============================================================================
// SUBMISSION
// =============================================================================

// Submit creates a request and starts its approval chain in one step.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*leave.LeaveRequest, error) {
	s.logger.Debug("submit",
		zap.String("employee_id", in.EmployeeID),
		zap.String("leave_type", string(in.LeaveType)),
		zap.String("start", in.StartDate.String()),
		zap.String("end", in.EndDate.String()))

	var out *leave.LeaveRequest
	err := s.run(ctx, "submit", func(tx leave.Store, fx *effects) error {
		r := s.newRequest(in)
		if err := leave.TransitionRequest(r, leave.StatusPending); err != nil {
			return err
		}
		plan, err := s.admit(ctx, tx, r)
		if err != nil {
			return err
		}
		if err := tx.CreateRequest(ctx, r); err != nil {
			return err
		}
		if err := s.startRound(ctx, tx, fx, r, plan); err != nil {
			return err
		}
		// Steps reference the row, so SubmittedAt is written after them.
		if err := tx.UpdateRequest(ctx, r); err != nil {
			return err
		}
		fx.record(s.auditEntry(leave.AuditRequestSubmitted, r.EmployeeID, r, requestDetails(r)))
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("request submitted", zap.String("request_id", out.ID), zap.Int("levels", len(out.Steps)))
	return out, nil
}

// SubmitDraft moves a draft to pending.
func (s *Service) SubmitDraft(ctx context.Context, id, actorID string) (*leave.LeaveRequest, error) {
	var out *leave.LeaveRequest
	err := s.run(ctx, "submit_draft", func(tx leave.Store, fx *effects) error {
		r, err := s.loadDraft(ctx, tx, id, actorID)
		if err != nil {
			return err
		}
		if err := leave.TransitionRequest(r, leave.StatusPending); err != nil {
			return err
		}
		plan, err := s.admit(ctx, tx, r)
		if err != nil {
			return err
		}
		if err := s.startRound(ctx, tx, fx, r, plan); err != nil {
			return err
		}
		if err := tx.UpdateRequest(ctx, r); err != nil {
			return err
		}
		fx.record(s.auditEntry(leave.AuditRequestSubmitted, actorID, r, requestDetails(r)))
		out = r
		return nil
	})
	return out, err
}

// Resubmit sends a rejected request through a fresh round of approval.
// A nil changes keeps the request as it was.
func (s *Service) Resubmit(ctx context.Context, id, actorID string, changes *SubmitInput) (*leave.LeaveRequest, error) {
	var out *leave.LeaveRequest
	err := s.run(ctx, "resubmit", func(tx leave.Store, fx *effects) error {
		r, err := tx.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		if r.EmployeeID != actorID {
			return fmt.Errorf("%w: only the requester may resubmit", leave.ErrForbidden)
		}
		if err := leave.TransitionRequest(r, leave.StatusPending); err != nil {
			return err
		}
		if changes != nil {
			changes.apply(r)
		}
		plan, err := s.admit(ctx, tx, r)
		if err != nil {
			return err
		}
		r.Round++
		r.DecidedAt = time.Time{}
		if err := s.startRound(ctx, tx, fx, r, plan); err != nil {
			return err
		}
		if err := tx.UpdateRequest(ctx, r); err != nil {
			return err
		}
		fx.record(s.auditEntry(leave.AuditRequestResubmit, actorID, r, requestDetails(r)))
		out = r
		return nil
	})
	return out, err
}

// admit validates r and runs the submission checks: org lookup and plan,
// overlap detection, balance pre-check. Runs inside the submission
// transaction so the overlap check and the insert are atomic.
func (s *Service) admit(ctx context.Context, tx leave.Store, r *leave.LeaveRequest) (planner.Plan, error) {
	if err := r.Validate(); err != nil {
		return planner.Plan{}, err
	}

	org, err := s.directory.GetOrgInfo(ctx, r.EmployeeID)
	if err != nil {
		if errors.Is(err, leave.ErrNotFound) {
			return planner.Plan{}, &leave.OrgInfoError{EmployeeID: r.EmployeeID, Reason: err.Error()}
		}
		return planner.Plan{}, err
	}
	org.EmployeeID = r.EmployeeID

	minLevels := 0
	policy, err := tx.GetActivePolicy(ctx, r.LeaveType)
	switch {
	case err == nil:
		minLevels = policy.RequiredApprovalLevels
	case !errors.Is(err, leave.ErrNotFound):
		return planner.Plan{}, fmt.Errorf("load active policy: %w", err)
	}

	plan, err := s.planner.PlanWithPolicy(org, r.LeaveType, r.Days, minLevels)
	if err != nil {
		return planner.Plan{}, err
	}

	if err := overlap.New(tx, s.logger).Ensure(ctx, r.EmployeeID, r.StartDate, r.EndDate, r.ID); err != nil {
		return planner.Plan{}, err
	}

	lg := s.ledger.On(tx)
	suff, err := lg.CheckSufficient(ctx, r.EmployeeID, r.LeaveType, r.Days)
	if err != nil {
		return planner.Plan{}, err
	}
	if !suff.Sufficient {
		return planner.Plan{}, &leave.InsufficientBalanceError{
			EmployeeID: r.EmployeeID,
			LeaveType:  r.LeaveType,
			Available:  suff.CurrentBalance,
			Requested:  r.Days,
		}
	}

	r.PayrollImpact = lg.IsExempt(r.LeaveType)
	r.RecordOnApproval = plan.Outcome == leave.StatusRecorded
	return plan, nil
}

// startRound creates the steps of r's current round and activates level 1.
func (s *Service) startRound(ctx context.Context, tx leave.Store, fx *effects, r *leave.LeaveRequest, plan planner.Plan) error {
	now := s.now().UTC()
	r.SubmittedAt = now
	r.UpdatedAt = now

	steps := make([]leave.ApprovalStep, len(plan.Levels))
	for i, l := range plan.Levels {
		steps[i] = leave.ApprovalStep{
			ID:           s.newID(),
			RequestID:    r.ID,
			Round:        r.Round,
			Level:        l.Level,
			ApproverRole: l.ApproverRole,
			ApproverID:   l.ApproverID,
			Status:       leave.StepPending,
		}
	}
	if len(steps) > 0 {
		steps[0].ActivatedAt = now
	}
	if err := tx.CreateSteps(ctx, steps); err != nil {
		return err
	}
	r.Steps = steps

	if len(steps) > 0 {
		fx.notify(approvalNeeded(r, &r.Steps[0]))
	}
	return nil
}

func requestDetails(r *leave.LeaveRequest) map[string]any {
	return map[string]any{
		"leave_type": string(r.LeaveType),
		"start_date": r.StartDate.String(),
		"end_date":   r.EndDate.String(),
		"days":       r.Days.String(),
		"round":      r.Round,
	}
}
