/*
ledger.go - Balance ledger for leave entitlements

PURPOSE:
  Owns every change to a LeaveBalance. A change is two writes that always
  travel together: an immutable LedgerEntry and a version-checked update of
  the balance row. The entry's idempotency key makes each change happen at
  most once, however many times the caller retries.

CRITICAL INVARIANTS:
  1. NON-NEGATIVE: a debit never takes a balance below zero, except for
     balance-exempt leave types (unpaid by default).
  2. ONE DEBIT, ONE CREDIT PER REQUEST: keys are debit:<request> and
     credit:<request>. A credit needs a matching debit of the same amount.
  3. NO LOST UPDATES: the balance row carries a Version; a stale write
     fails with ErrConcurrentModification.

IDEMPOTENCY KEYS:
  debit:<requestID>                  approval of a request
  credit:<requestID>                 cancellation of an approved request
  grant:<employee>:<type>:<period>   yearly entitlement
  expire:<employee>:<type>:<period>  carryover cap at period end

TRANSACTIONS:
  When the Ledger is built on a leave.TxStore each operation runs in its own
  transaction. When it is built on the Store handed to a WithTx callback it
  joins that transaction, which is how the workflow debits in the same
  transaction that approves the request.

SEE ALSO:
  - leave/store.go: LedgerStore port
  - workflow/service.go: debits on approval, credits on cancellation
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/leave-portal/leave"
)

// ErrNoMatchingDebit is returned when a credit has no debit to reverse.
var ErrNoMatchingDebit = fmt.Errorf("%w: no matching debit for credit", leave.ErrValidation)

// Result describes the outcome of a debit or credit.
type Result struct {
	// Applied is false when the key had already been applied.
	Applied bool
	Balance decimal.Decimal
	Entry   leave.LedgerEntry
}

// Sufficiency is the answer to CheckSufficient.
type Sufficiency struct {
	Sufficient     bool
	CurrentBalance decimal.Decimal
}

// DefaultExempt lists the leave types that may go negative.
var DefaultExempt = []leave.LeaveType{leave.Unpaid}

type Ledger struct {
	store  leave.Store
	exempt map[leave.LeaveType]bool
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Ledger)

// WithExempt replaces the balance-exempt leave types.
func WithExempt(types ...leave.LeaveType) Option {
	return func(l *Ledger) {
		l.exempt = make(map[leave.LeaveType]bool, len(types))
		for _, t := range types {
			l.exempt[t] = true
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger.Named("ledger") }
}

func New(store leave.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		now:    time.Now,
		logger: zap.L().Named("ledger"),
	}
	WithExempt(DefaultExempt...)(l)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// On returns a copy of the ledger bound to store. Used inside WithTx.
func (l *Ledger) On(store leave.Store) *Ledger {
	c := *l
	c.store = store
	return &c
}

// IsExempt reports whether leaveType skips the non-negative check.
func (l *Ledger) IsExempt(leaveType leave.LeaveType) bool {
	return l.exempt[leaveType]
}

// =============================================================================
// OPERATIONS
// =============================================================================

// CheckSufficient reports whether days can be debited right now.
func (l *Ledger) CheckSufficient(ctx context.Context, employeeID string, leaveType leave.LeaveType, days decimal.Decimal) (Sufficiency, error) {
	bal, err := l.store.GetBalance(ctx, employeeID, leaveType)
	if err != nil {
		return Sufficiency{}, fmt.Errorf("load balance: %w", err)
	}
	return Sufficiency{
		Sufficient:     l.IsExempt(leaveType) || bal.Remaining.GreaterThanOrEqual(days),
		CurrentBalance: bal.Remaining,
	}, nil
}

// Debit consumes days for an approved request.
func (l *Ledger) Debit(ctx context.Context, employeeID string, leaveType leave.LeaveType, days decimal.Decimal, requestID string) (Result, error) {
	if !days.IsPositive() {
		return Result{}, &leave.ValidationError{Field: "days", Message: "debit must be positive"}
	}
	var res Result
	err := l.atomically(ctx, func(s leave.Store) error {
		var err error
		res, err = l.apply(ctx, s, leave.LedgerEntry{
			EmployeeID:     employeeID,
			LeaveType:      leaveType,
			Kind:           leave.EntryDebit,
			Days:           days,
			RequestID:      requestID,
			IdempotencyKey: DebitKey(requestID),
			Reason:         "leave approved",
		})
		return err
	})
	return res, err
}

// Credit returns the days of a previously debited request. A second credit
// for the same request is a no-op.
func (l *Ledger) Credit(ctx context.Context, employeeID string, leaveType leave.LeaveType, days decimal.Decimal, requestID string) (Result, error) {
	var res Result
	err := l.atomically(ctx, func(s leave.Store) error {
		debit, err := s.GetEntry(ctx, DebitKey(requestID))
		if errors.Is(err, leave.ErrNotFound) {
			return fmt.Errorf("request %s: %w", requestID, ErrNoMatchingDebit)
		}
		if err != nil {
			return fmt.Errorf("load debit: %w", err)
		}
		if debit.EmployeeID != employeeID || debit.LeaveType != leaveType || !debit.Days.Equal(days) {
			return &leave.ValidationError{
				Field:   "days",
				Message: fmt.Sprintf("credit of %s %s does not match debit of %s %s", days, leaveType, debit.Days, debit.LeaveType),
			}
		}
		res, err = l.apply(ctx, s, leave.LedgerEntry{
			EmployeeID:     employeeID,
			LeaveType:      leaveType,
			Kind:           leave.EntryCredit,
			Days:           days,
			RequestID:      requestID,
			IdempotencyKey: CreditKey(requestID),
			Reason:         "leave cancelled",
		})
		return err
	})
	return res, err
}

// Grant adds entitlement under an idempotency key chosen by the caller.
func (l *Ledger) Grant(ctx context.Context, employeeID string, leaveType leave.LeaveType, days decimal.Decimal, key, reason string) (Result, error) {
	if !days.IsPositive() {
		return Result{}, &leave.ValidationError{Field: "days", Message: "grant must be positive"}
	}
	var res Result
	err := l.atomically(ctx, func(s leave.Store) error {
		var err error
		res, err = l.apply(ctx, s, leave.LedgerEntry{
			EmployeeID:     employeeID,
			LeaveType:      leaveType,
			Kind:           leave.EntryGrant,
			Days:           days,
			IdempotencyKey: key,
			Reason:         reason,
		})
		return err
	})
	return res, err
}

// Balances returns remaining days per leave type.
func (l *Ledger) Balances(ctx context.Context, employeeID string) (map[leave.LeaveType]decimal.Decimal, error) {
	rows, err := l.store.ListBalances(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	out := make(map[leave.LeaveType]decimal.Decimal, len(rows))
	for _, b := range rows {
		out[b.LeaveType] = b.Remaining
	}
	return out, nil
}

// History returns the employee's ledger entries, oldest first.
func (l *Ledger) History(ctx context.Context, employeeID string) ([]leave.LedgerEntry, error) {
	return l.store.ListEntries(ctx, employeeID)
}

// =============================================================================
// INTERNALS
// =============================================================================

func (l *Ledger) atomically(ctx context.Context, fn func(leave.Store) error) error {
	if tx, ok := l.store.(leave.TxStore); ok {
		return tx.WithTx(ctx, fn)
	}
	return fn(l.store)
}

// apply writes entry and the matching balance change. A key that already
// exists returns the current balance with Applied=false.
func (l *Ledger) apply(ctx context.Context, s leave.Store, entry leave.LedgerEntry) (Result, error) {
	log := l.logger.With(
		zap.String("employee_id", entry.EmployeeID),
		zap.String("leave_type", string(entry.LeaveType)),
		zap.String("key", entry.IdempotencyKey),
	)

	bal, err := s.GetBalance(ctx, entry.EmployeeID, entry.LeaveType)
	if err != nil {
		return Result{}, fmt.Errorf("load balance: %w", err)
	}

	existing, err := s.GetEntry(ctx, entry.IdempotencyKey)
	switch {
	case err == nil:
		log.Debug("ledger entry already applied")
		return Result{Applied: false, Balance: bal.Remaining, Entry: existing}, nil
	case !errors.Is(err, leave.ErrNotFound):
		return Result{}, fmt.Errorf("check idempotency key: %w", err)
	}

	next := bal.Remaining.Add(entry.Signed())
	if entry.Kind == leave.EntryDebit && next.IsNegative() && !l.IsExempt(entry.LeaveType) {
		log.Warn("debit rejected: insufficient balance",
			zap.String("available", bal.Remaining.String()),
			zap.String("requested", entry.Days.String()))
		return Result{}, &leave.InsufficientBalanceError{
			EmployeeID: entry.EmployeeID,
			LeaveType:  entry.LeaveType,
			Available:  bal.Remaining,
			Requested:  entry.Days,
		}
	}

	now := l.now().UTC()
	entry.ID = uuid.NewString()
	entry.CreatedAt = now
	if err := s.AppendEntry(ctx, entry); err != nil {
		if errors.Is(err, leave.ErrDuplicateIdempotencyKey) {
			// Another writer applied the key between our check and insert.
			return Result{}, leave.ErrConcurrentModification
		}
		return Result{}, fmt.Errorf("append ledger entry: %w", err)
	}

	bal.Remaining = next
	bal.UpdatedAt = now
	if err := s.SaveBalance(ctx, &bal); err != nil {
		return Result{}, fmt.Errorf("save balance: %w", err)
	}

	log.Info("ledger entry applied",
		zap.String("kind", string(entry.Kind)),
		zap.String("days", entry.Days.String()),
		zap.String("balance", next.String()))
	return Result{Applied: true, Balance: next, Entry: entry}, nil
}

func DebitKey(requestID string) string  { return "debit:" + requestID }
func CreditKey(requestID string) string { return "credit:" + requestID }

func periodKey(kind string, employeeID string, leaveType leave.LeaveType, period string) string {
	return fmt.Sprintf("%s:%s:%s:%s", kind, employeeID, leaveType, period)
}
