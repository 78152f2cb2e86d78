package ledger

import (
	"context"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-portal/leave"
)

// =============================================================================
// PERIOD-END RECONCILIATION
// =============================================================================
//
// Entitlement is granted up front once per period. At period end, whatever
// remains above the policy's carryover cap expires. Both are keyed by
// (employee, type, period) so a re-run after a crash changes nothing.

// ReconcileSummary reports what a period-end run did for one balance.
type ReconcileSummary struct {
	EmployeeID  string
	LeaveType   leave.LeaveType
	Before      decimal.Decimal
	Expired     decimal.Decimal
	CarriedOver decimal.Decimal
	Applied     bool
}

// GrantEntitlement credits policy.MaxDays for the given year.
func (l *Ledger) GrantEntitlement(ctx context.Context, employeeID string, policy leave.LeavePolicy, year int) (Result, error) {
	key := periodKey("grant", employeeID, policy.LeaveType, strconv.Itoa(year))
	reason := "entitlement " + strconv.Itoa(year) + " (policy v" + strconv.Itoa(policy.Version) + ")"
	return l.Grant(ctx, employeeID, policy.LeaveType, decimal.NewFromInt(int64(policy.MaxDays)), key, reason)
}

// Carryover expires the balance above maxCarry at the end of year.
// Balances at or below the cap are carried over untouched.
func (l *Ledger) Carryover(ctx context.Context, employeeID string, leaveType leave.LeaveType, maxCarry decimal.Decimal, year int) (ReconcileSummary, error) {
	summary := ReconcileSummary{EmployeeID: employeeID, LeaveType: leaveType}

	err := l.atomically(ctx, func(s leave.Store) error {
		bal, err := s.GetBalance(ctx, employeeID, leaveType)
		if err != nil {
			return err
		}
		summary.Before = bal.Remaining
		summary.CarriedOver = bal.Remaining

		excess := bal.Remaining.Sub(maxCarry)
		if !excess.IsPositive() {
			return nil
		}

		res, err := l.apply(ctx, s, leave.LedgerEntry{
			EmployeeID:     employeeID,
			LeaveType:      leaveType,
			Kind:           leave.EntryExpire,
			Days:           excess,
			IdempotencyKey: periodKey("expire", employeeID, leaveType, strconv.Itoa(year)),
			Reason:         "carryover cap " + maxCarry.String(),
		})
		if err != nil {
			return err
		}
		summary.Applied = res.Applied
		if res.Applied {
			summary.Expired = excess
			summary.CarriedOver = res.Balance
		}
		return nil
	})
	return summary, err
}
