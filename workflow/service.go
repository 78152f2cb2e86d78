/*
Package workflow orchestrates the leave request lifecycle.

PURPOSE:
  Drives the request and approval-step state machines, and calls the
  overlap detector, the balance ledger and the planner at the right moments.
  Every operation is one store transaction. Audit records and notifications
  are collected while the transaction runs and emitted only after it commits.

LIFECYCLE:
  CreateDraft -> SubmitDraft ─┐
  Submit ─────────────────────┴─> pending ──approve all levels──> approved / recorded
                                     │                              │
                                     ├──reject any level──> rejected ──Resubmit──> pending
                                     └──Cancel──> cancelled <──Cancel (credits ledger)

  approved/recorded ──Lock / LockPayrollPeriod──> locked (immutable)

CONCURRENCY:
  Each step action also rewrites the request row, so two actions on one
  request serialize on the request's Version. A stale write fails with
  leave.ErrConcurrentModification; the operation is retried exactly once
  against freshly read state.

SEE ALSO:
  - leave/machine.go: transition tables
  - ledger/ledger.go: debit on final approval, credit on cancellation
  - planner/planner.go: approval chain
*/
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/leave-portal/audit"
	"github.com/warp/leave-portal/ledger"
	"github.com/warp/leave-portal/leave"
	"github.com/warp/leave-portal/notify"
	"github.com/warp/leave-portal/planner"
)

// Config switches optional workflow behavior.
type Config struct {
	// AllowDelegatedReject lets a delegate reject, not only approve.
	AllowDelegatedReject bool
	// RequireRejectComment makes a reason mandatory on rejection.
	RequireRejectComment bool
}

func DefaultConfig() Config {
	return Config{RequireRejectComment: true}
}

// Deps are the collaborators of the Service. Notifier and Audit may be nil.
type Deps struct {
	Store     leave.TxStore
	Directory leave.OrgDirectory
	Planner   *planner.Planner
	Ledger    *ledger.Ledger
	Notifier  leave.Notifier
	Audit     leave.AuditSink
	Logger    *zap.Logger
}

type Service struct {
	store     leave.TxStore
	directory leave.OrgDirectory
	planner   *planner.Planner
	ledger    *ledger.Ledger
	notifier  leave.Notifier
	audit     leave.AuditSink
	steps     leave.StepMachine
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

func NewService(d Deps, cfg Config) *Service {
	logger := d.Logger
	if logger == nil {
		logger = zap.L()
	}
	lg := d.Ledger
	if lg == nil {
		lg = ledger.New(d.Store)
	}
	pl := d.Planner
	if pl == nil {
		pl = planner.New(planner.DefaultRules())
	}
	return &Service{
		store:     d.Store,
		directory: d.Directory,
		planner:   pl,
		ledger:    lg,
		notifier:  d.Notifier,
		audit:     d.Audit,
		steps:     leave.StepMachine{AllowDelegatedReject: cfg.AllowDelegatedReject},
		cfg:       cfg,
		logger:    logger.Named("workflow.service"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// WithClock replaces the time source. Used by tests and the scheduler.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// =============================================================================
// TRANSACTION RUNNER
// =============================================================================

// effects are emitted after a successful commit.
type effects struct {
	audits []leave.AuditEntry
	notes  []leave.Notification
}

func (fx *effects) record(e leave.AuditEntry)   { fx.audits = append(fx.audits, e) }
func (fx *effects) notify(n leave.Notification) { fx.notes = append(fx.notes, n) }

// run executes fn in a transaction, retrying once on a version conflict.
func (s *Service) run(ctx context.Context, op string, fn func(tx leave.Store, fx *effects) error) error {
	var fx *effects
	attempt := func() error {
		fx = &effects{}
		return s.store.WithTx(ctx, func(tx leave.Store) error {
			return fn(tx, fx)
		})
	}

	err := attempt()
	if leave.IsRetryable(err) {
		s.logger.Warn("concurrent modification, retrying once", zap.String("operation", op))
		err = attempt()
	}
	if err != nil {
		if leave.IsClientError(err) || leave.IsNotFound(err) {
			s.logger.Warn("operation rejected", zap.String("operation", op), zap.Error(err))
		} else {
			s.logger.Error("operation failed", zap.String("operation", op), zap.Error(err))
		}
		return err
	}

	for _, e := range fx.audits {
		audit.Emit(ctx, s.audit, s.logger, e)
	}
	for _, n := range fx.notes {
		notify.Send(ctx, s.notifier, s.logger, n)
	}
	return nil
}

func (s *Service) auditEntry(action leave.AuditAction, actor string, r *leave.LeaveRequest, details map[string]any) leave.AuditEntry {
	return leave.AuditEntry{
		ID:         s.newID(),
		Timestamp:  s.now().UTC(),
		Action:     action,
		ActorID:    actor,
		EmployeeID: r.EmployeeID,
		RequestID:  r.ID,
		Details:    details,
	}
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Service) Get(ctx context.Context, id string) (*leave.LeaveRequest, error) {
	return s.store.GetRequest(ctx, id)
}

func (s *Service) ListByEmployee(ctx context.Context, employeeID string) ([]leave.LeaveRequest, error) {
	return s.store.ListRequests(ctx, leave.RequestFilter{EmployeeID: employeeID})
}

// Balances returns the employee's remaining days per leave type.
func (s *Service) Balances(ctx context.Context, employeeID string) (map[leave.LeaveType]decimal.Decimal, error) {
	return s.ledger.Balances(ctx, employeeID)
}

// PendingApprovals lists pending requests whose active step the actor can decide.
func (s *Service) PendingApprovals(ctx context.Context, actorID string) ([]leave.LeaveRequest, error) {
	pending, err := s.store.ListRequests(ctx, leave.RequestFilter{Statuses: []leave.RequestStatus{leave.StatusPending}})
	if err != nil {
		return nil, err
	}
	var actor leave.Employee
	if s.directory != nil {
		if emp, err := s.directory.GetEmployee(ctx, actorID); err == nil {
			actor = emp
		}
	}

	var out []leave.LeaveRequest
	for _, r := range pending {
		step, ok := leave.ActiveStep(r.Steps)
		if !ok || r.EmployeeID == actorID {
			continue
		}
		if canAct(step, actorID, actor) {
			out = append(out, r)
		}
	}
	return out, nil
}

// =============================================================================
// AUTHORIZATION
// =============================================================================

func canAct(step *leave.ApprovalStep, actorID string, actor leave.Employee) bool {
	if step.Status == leave.StepDelegated {
		return step.DelegateID == actorID
	}
	if step.ApproverID != "" {
		return step.ApproverID == actorID
	}
	return actor.HasRole(step.ApproverRole)
}

// authorize checks that actorID may decide step of r.
func (s *Service) authorize(ctx context.Context, r *leave.LeaveRequest, step *leave.ApprovalStep, actorID string) error {
	if actorID == "" {
		return &leave.ValidationError{Field: "actor_id", Message: "required"}
	}
	if actorID == r.EmployeeID {
		return fmt.Errorf("%w: requesters cannot approve their own leave", leave.ErrNotApprover)
	}
	var actor leave.Employee
	if step.ApproverID == "" && s.directory != nil {
		emp, err := s.directory.GetEmployee(ctx, actorID)
		if err != nil && !leave.IsNotFound(err) {
			return fmt.Errorf("load approver: %w", err)
		}
		actor = emp
	}
	if !canAct(step, actorID, actor) {
		return fmt.Errorf("%w: %s cannot act on level %d (%s)", leave.ErrNotApprover, actorID, step.Level, step.ApproverRole)
	}
	return nil
}

// isHR reports whether actorID holds the HR role.
func (s *Service) isHR(ctx context.Context, actorID string) bool {
	if s.directory == nil {
		return false
	}
	emp, err := s.directory.GetEmployee(ctx, actorID)
	return err == nil && emp.HasRole(leave.RoleHR)
}
