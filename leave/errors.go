/*
errors.go - Error taxonomy for the leave workflow engine

PURPOSE:
  Every failure a caller can observe, in one place. Sentinels are matched
  with errors.Is; the structured types carry the context an HR operator
  needs to understand a rejection and unwrap to their sentinel.

ERROR CATEGORIES:
  1. Client errors - bad input, illegal transitions, business rule violations
  2. Conflict errors - overlapping leave, stale writes, locked requests
  3. Lookup errors - missing requests, steps, org data

RETRY:
  Only ErrConcurrentModification is retryable. The workflow service retries
  such an operation exactly once after re-reading state.

SEE ALSO:
  - machine.go: produces TransitionError and OutOfOrderError
  - ledger/ledger.go: produces InsufficientBalanceError
  - api/handlers.go: maps the taxonomy onto HTTP statuses
*/
package leave

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input (bad dates, non-positive days).
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition is returned when a state machine edge does not exist.
	// No state is mutated.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInsufficientBalance is returned when a debit would leave a negative balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrOverlappingLeave is returned when a new request collides with an
	// active request of the same employee.
	ErrOverlappingLeave = errors.New("overlapping leave")

	// ErrStatutoryMinimumViolation is returned when a policy grants fewer days
	// than the law requires for its leave type.
	ErrStatutoryMinimumViolation = errors.New("statutory minimum violation")

	// ErrConcurrentModification is returned when a version check fails.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrOrgInfoNotFound is returned when the requester's org placement is unknown.
	ErrOrgInfoNotFound = errors.New("org info not found")

	// ErrRequestLocked is returned when a payroll-locked request is modified.
	ErrRequestLocked = errors.New("request locked")

	// ErrOutOfOrderApproval is returned when a level acts before a lower level resolved.
	ErrOutOfOrderApproval = errors.New("out of order approval")

	// ErrNotApprover is returned when the actor may not act on a step.
	ErrNotApprover = errors.New("actor is not the approver for this step")

	// ErrForbidden is returned when the actor may not perform an action on a
	// request (for example cancelling somebody else's leave).
	ErrForbidden = errors.New("action not permitted")

	// ErrNotFound is returned when a referenced entity doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateIdempotencyKey is returned by stores when a ledger entry with
	// the same key exists. The ledger treats it as "already applied".
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// TransitionError describes a rejected state machine edge.
type TransitionError struct {
	Machine string // "request" or "step"
	ID      string
	From    string
	To      string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition for %s: %s -> %s", e.Machine, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	EmployeeID string
	LeaveType  LeaveType
	Available  decimal.Decimal
	Requested  decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance for %s: available %s, requested %s",
		e.LeaveType, e.EmployeeID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// Shortfall is how many days are missing.
func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// OverlapError lists the requests the new range collides with.
type OverlapError struct {
	EmployeeID  string
	Conflicting []string
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("leave for %s overlaps existing requests: %s",
		e.EmployeeID, strings.Join(e.Conflicting, ", "))
}

func (e *OverlapError) Unwrap() error { return ErrOverlappingLeave }

// StatutoryViolationError reports the attempted value and the legal floor.
type StatutoryViolationError struct {
	LeaveType LeaveType
	Attempted int
	Minimum   int
}

func (e *StatutoryViolationError) Error() string {
	return fmt.Sprintf("%s policy grants %d days, statutory minimum is %d",
		e.LeaveType, e.Attempted, e.Minimum)
}

func (e *StatutoryViolationError) Unwrap() error { return ErrStatutoryMinimumViolation }

// OutOfOrderError names the unresolved level blocking the requested one.
type OutOfOrderError struct {
	RequestID string
	Level     int
	Blocking  int
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("request %s: level %d cannot act while level %d is unresolved",
		e.RequestID, e.Level, e.Blocking)
}

func (e *OutOfOrderError) Unwrap() error { return ErrOutOfOrderApproval }

// OrgInfoError explains which org data is missing.
type OrgInfoError struct {
	EmployeeID string
	Reason     string
}

func (e *OrgInfoError) Error() string {
	return fmt.Sprintf("org info not found for %s: %s", e.EmployeeID, e.Reason)
}

func (e *OrgInfoError) Unwrap() error { return ErrOrgInfoNotFound }

// LockedError is returned for modifications of payroll-locked requests.
type LockedError struct {
	RequestID string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("request %s is locked for payroll", e.RequestID)
}

func (e *LockedError) Unwrap() error { return ErrRequestLocked }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the operation may succeed after re-reading state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if err reports a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrOrgInfoNotFound)
}

// IsClientError returns true if the caller supplied something the rules reject.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrOverlappingLeave) ||
		errors.Is(err, ErrStatutoryMinimumViolation) ||
		errors.Is(err, ErrRequestLocked) ||
		errors.Is(err, ErrOutOfOrderApproval) ||
		errors.Is(err, ErrNotApprover) ||
		errors.Is(err, ErrForbidden)
}

// NotFoundError wraps ErrNotFound with the entity kind and id.
func NotFoundError(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}
