package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-portal/audit"
	"github.com/warp/leave-portal/leave"
)

// =============================================================================
// POLICY SERVICE - Versioned policies behind the statutory gate
// =============================================================================

// MaxApprovalLevels bounds RequiredApprovalLevels (manager, director, HR, HQ).
const MaxApprovalLevels = 4

type Service struct {
	store  leave.TxStore
	gate   *Gate
	audit  leave.AuditSink
	logger *zap.Logger
	now    func() time.Time
}

func NewService(store leave.TxStore, gate *Gate, sink leave.AuditSink, logger ...*zap.Logger) *Service {
	l := zap.L()
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	}
	return &Service{
		store:  store,
		gate:   gate,
		audit:  sink,
		logger: l.Named("policy.service"),
		now:    time.Now,
	}
}

// Gate exposes the statutory gate for read-only validation.
func (s *Service) Gate() *Gate { return s.gate }

type CreateInput struct {
	LeaveType              leave.LeaveType
	MaxDays                int
	CarryoverMaxDays       int
	RequiredApprovalLevels int
	ActorID                string
	Activate               bool
}

// Create stores a new version of the policy for in.LeaveType.
func (s *Service) Create(ctx context.Context, in CreateInput) (leave.LeavePolicy, error) {
	log := s.logger.With(zap.String("leave_type", string(in.LeaveType)), zap.String("actor_id", in.ActorID))
	log.Debug("create policy", zap.Int("max_days", in.MaxDays))

	if err := validateInput(in); err != nil {
		return leave.LeavePolicy{}, err
	}
	if err := s.gateCheck(ctx, in.LeaveType, in.MaxDays, in.ActorID, "create"); err != nil {
		return leave.LeavePolicy{}, err
	}

	var created leave.LeavePolicy
	err := s.store.WithTx(ctx, func(tx leave.Store) error {
		existing, err := tx.ListPolicies(ctx, in.LeaveType)
		if err != nil {
			return err
		}
		version := 1
		for _, p := range existing {
			if p.Version >= version {
				version = p.Version + 1
			}
		}
		created = leave.LeavePolicy{
			LeaveType:              in.LeaveType,
			Version:                version,
			MaxDays:                in.MaxDays,
			CarryoverMaxDays:       in.CarryoverMaxDays,
			RequiredApprovalLevels: in.RequiredApprovalLevels,
			CreatedBy:              in.ActorID,
			CreatedAt:              s.now().UTC(),
		}
		if err := tx.SavePolicy(ctx, created); err != nil {
			return err
		}
		if in.Activate {
			if err := tx.ActivatePolicy(ctx, in.LeaveType, version); err != nil {
				return err
			}
			created.Active = true
		}
		return nil
	})
	if err != nil {
		log.Error("failed to save policy", zap.Error(err))
		return leave.LeavePolicy{}, fmt.Errorf("save policy: %w", err)
	}

	log.Info("policy created", zap.Int("version", created.Version), zap.Bool("active", created.Active))
	audit.Emit(ctx, s.audit, s.logger, leave.AuditEntry{
		Action:  leave.AuditPolicyCreated,
		ActorID: in.ActorID,
		Details: policyDetails(created),
	})
	if created.Active {
		audit.Emit(ctx, s.audit, s.logger, leave.AuditEntry{
			Action:  leave.AuditPolicyActivated,
			ActorID: in.ActorID,
			Details: policyDetails(created),
		})
	}
	return created, nil
}

// Activate makes version the active policy of its type. The gate runs again
// because the statutory table may have changed since the version was created.
func (s *Service) Activate(ctx context.Context, leaveType leave.LeaveType, version int, actorID string) (leave.LeavePolicy, error) {
	log := s.logger.With(zap.String("leave_type", string(leaveType)), zap.Int("version", version))

	p, err := s.store.GetPolicy(ctx, leaveType, version)
	if err != nil {
		return leave.LeavePolicy{}, err
	}
	if err := s.gateCheck(ctx, leaveType, p.MaxDays, actorID, "activate"); err != nil {
		return leave.LeavePolicy{}, err
	}
	if err := s.store.ActivatePolicy(ctx, leaveType, version); err != nil {
		log.Error("failed to activate policy", zap.Error(err))
		return leave.LeavePolicy{}, fmt.Errorf("activate policy: %w", err)
	}
	p.Active = true

	log.Info("policy activated")
	audit.Emit(ctx, s.audit, s.logger, leave.AuditEntry{
		Action:  leave.AuditPolicyActivated,
		ActorID: actorID,
		Details: policyDetails(p),
	})
	return p, nil
}

// Active returns the active policy of leaveType, or ErrNotFound.
func (s *Service) Active(ctx context.Context, leaveType leave.LeaveType) (leave.LeavePolicy, error) {
	return s.store.GetActivePolicy(ctx, leaveType)
}

// List returns all versions; an empty leaveType lists every type.
func (s *Service) List(ctx context.Context, leaveType leave.LeaveType) ([]leave.LeavePolicy, error) {
	return s.store.ListPolicies(ctx, leaveType)
}

// gateCheck runs the statutory gate and records rejections as first-class
// audit events.
func (s *Service) gateCheck(ctx context.Context, leaveType leave.LeaveType, maxDays int, actorID, op string) error {
	err := s.gate.Check(leaveType, maxDays)
	if err == nil {
		return nil
	}
	var sv *leave.StatutoryViolationError
	if errors.As(err, &sv) {
		s.logger.Warn("policy rejected: below statutory minimum",
			zap.String("operation", op),
			zap.String("leave_type", string(leaveType)),
			zap.Int("attempted", sv.Attempted),
			zap.Int("minimum", sv.Minimum),
			zap.String("actor_id", actorID))
		audit.Emit(ctx, s.audit, s.logger, leave.AuditEntry{
			Action:  leave.AuditPolicyRejected,
			ActorID: actorID,
			Details: map[string]any{
				"operation":  op,
				"leave_type": string(leaveType),
				"attempted":  sv.Attempted,
				"minimum":    sv.Minimum,
			},
		})
	}
	return err
}

func validateInput(in CreateInput) error {
	switch {
	case !in.LeaveType.Valid():
		return &leave.ValidationError{Field: "leave_type", Message: "unknown leave type " + string(in.LeaveType)}
	case in.CarryoverMaxDays < 0:
		return &leave.ValidationError{Field: "carryover_max_days", Message: "cannot be negative"}
	case in.RequiredApprovalLevels < 0 || in.RequiredApprovalLevels > MaxApprovalLevels:
		return &leave.ValidationError{Field: "required_approval_levels", Message: fmt.Sprintf("must be between 0 and %d", MaxApprovalLevels)}
	case in.ActorID == "":
		return &leave.ValidationError{Field: "actor_id", Message: "required"}
	}
	return nil
}

func policyDetails(p leave.LeavePolicy) map[string]any {
	return map[string]any{
		"leave_type":               string(p.LeaveType),
		"version":                  p.Version,
		"max_days":                 p.MaxDays,
		"carryover_max_days":       p.CarryoverMaxDays,
		"required_approval_levels": p.RequiredApprovalLevels,
	}
}
