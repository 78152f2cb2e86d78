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
// ENTITLEMENT - Period start grants and period end carryover
// =============================================================================

// GrantEntitlement credits the active policy's MaxDays for year. Running it
// twice for the same (employee, type, year) grants once.
func (s *Service) GrantEntitlement(ctx context.Context, employeeID string, leaveType leave.LeaveType, year int, actorID string) (ledger.Result, error) {
	if err := s.requireHR(ctx, actorID); err != nil {
		return ledger.Result{}, err
	}
	if employeeID == "" {
		return ledger.Result{}, &leave.ValidationError{Field: "employee_id", Message: "required"}
	}
	if year <= 0 {
		return ledger.Result{}, &leave.ValidationError{Field: "year", Message: "must be positive"}
	}

	var res ledger.Result
	err := s.run(ctx, "grant_entitlement", func(tx leave.Store, fx *effects) error {
		p, err := tx.GetActivePolicy(ctx, leaveType)
		if err != nil {
			return err
		}
		res, err = s.ledger.On(tx).GrantEntitlement(ctx, employeeID, p, year)
		if err != nil {
			return err
		}
		if res.Applied {
			fx.record(leave.AuditEntry{
				ID:         s.newID(),
				Timestamp:  s.now().UTC(),
				Action:     leave.AuditBalanceGranted,
				ActorID:    actorID,
				EmployeeID: employeeID,
				Details: map[string]any{
					"leave_type":     string(leaveType),
					"days":           res.Entry.Days.String(),
					"balance":        res.Balance.String(),
					"year":           year,
					"policy_version": p.Version,
				},
			})
		}
		return nil
	})
	if err != nil {
		return ledger.Result{}, err
	}
	s.logger.Info("entitlement granted",
		zap.String("employee_id", employeeID),
		zap.String("leave_type", string(leaveType)),
		zap.Int("year", year),
		zap.Bool("applied", res.Applied))
	return res, nil
}

// Carryover expires whatever exceeds the active policy's carryover cap at
// the end of year.
func (s *Service) Carryover(ctx context.Context, employeeID string, leaveType leave.LeaveType, year int, actorID string) (ledger.ReconcileSummary, error) {
	if err := s.requireHR(ctx, actorID); err != nil {
		return ledger.ReconcileSummary{}, err
	}
	if employeeID == "" {
		return ledger.ReconcileSummary{}, &leave.ValidationError{Field: "employee_id", Message: "required"}
	}

	var summary ledger.ReconcileSummary
	err := s.run(ctx, "carryover", func(tx leave.Store, fx *effects) error {
		p, err := tx.GetActivePolicy(ctx, leaveType)
		if err != nil {
			return err
		}
		summary, err = s.ledger.On(tx).Carryover(ctx, employeeID, leaveType, decimal.NewFromInt(int64(p.CarryoverMaxDays)), year)
		if err != nil {
			return err
		}
		if summary.Applied {
			fx.record(leave.AuditEntry{
				ID:         s.newID(),
				Timestamp:  s.now().UTC(),
				Action:     leave.AuditBalanceExpired,
				ActorID:    actorID,
				EmployeeID: employeeID,
				Details: map[string]any{
					"leave_type":   string(leaveType),
					"expired":      summary.Expired.String(),
					"carried_over": summary.CarriedOver.String(),
					"year":         year,
				},
			})
		}
		return nil
	})
	return summary, err
}

func (s *Service) requireHR(ctx context.Context, actorID string) error {
	if actorID == "" {
		return &leave.ValidationError{Field: "actor_id", Message: "required"}
	}
	if !s.isHR(ctx, actorID) {
		return fmt.Errorf("%w: %s does not hold the hr role", leave.ErrForbidden, actorID)
	}
	return nil
}
