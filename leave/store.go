package leave

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Persistence ports
// =============================================================================
//
// Every Update* method performs an optimistic version check: the row is
// written only if its stored Version equals the Version on the argument.
// On success the argument's Version is incremented to match the store. On
// mismatch the store returns ErrConcurrentModification and writes nothing.

// RequestFilter selects requests. Zero fields are ignored.
type RequestFilter struct {
	EmployeeID string
	Statuses   []RequestStatus
	// OverlapStart/OverlapEnd select requests whose range shares a day with
	// [OverlapStart, OverlapEnd].
	OverlapStart Date
	OverlapEnd   Date
	// StartsOnOrBefore selects requests starting no later than this day.
	StartsOnOrBefore Date
	Locked           *bool
}

type RequestStore interface {
	// CreateRequest inserts a request row (steps are created separately).
	CreateRequest(ctx context.Context, r *LeaveRequest) error
	// GetRequest loads a request with the steps of its current round.
	GetRequest(ctx context.Context, id string) (*LeaveRequest, error)
	UpdateRequest(ctx context.Context, r *LeaveRequest) error
	// DeleteRequest hard-deletes a request. Only drafts are ever deleted.
	DeleteRequest(ctx context.Context, id string) error
	// ListRequests returns matches ordered by start date, steps loaded.
	ListRequests(ctx context.Context, filter RequestFilter) ([]LeaveRequest, error)
}

type StepStore interface {
	// CreateSteps inserts steps and sets their Version to 1 in place.
	CreateSteps(ctx context.Context, steps []ApprovalStep) error
	UpdateStep(ctx context.Context, s *ApprovalStep) error
	ListSteps(ctx context.Context, requestID string, round int) ([]ApprovalStep, error)
}

type LedgerStore interface {
	// GetBalance returns a zero balance with Version 0 when no row exists.
	GetBalance(ctx context.Context, employeeID string, leaveType LeaveType) (LeaveBalance, error)
	// SaveBalance inserts when Version is 0, otherwise updates with a version check.
	SaveBalance(ctx context.Context, b *LeaveBalance) error
	ListBalances(ctx context.Context, employeeID string) ([]LeaveBalance, error)
	// AppendEntry returns ErrDuplicateIdempotencyKey if the key exists.
	AppendEntry(ctx context.Context, e LedgerEntry) error
	// GetEntry returns ErrNotFound if no entry has the key.
	GetEntry(ctx context.Context, idempotencyKey string) (LedgerEntry, error)
	ListEntries(ctx context.Context, employeeID string) ([]LedgerEntry, error)
}

type PolicyStore interface {
	SavePolicy(ctx context.Context, p LeavePolicy) error
	GetPolicy(ctx context.Context, leaveType LeaveType, version int) (LeavePolicy, error)
	// GetActivePolicy returns ErrNotFound when no version is active.
	GetActivePolicy(ctx context.Context, leaveType LeaveType) (LeavePolicy, error)
	// ActivatePolicy makes version the only active version of its type.
	ActivatePolicy(ctx context.Context, leaveType LeaveType, version int) error
	ListPolicies(ctx context.Context, leaveType LeaveType) ([]LeavePolicy, error)
}

// ReminderStore de-duplicates reminders across scans and processes.
type ReminderStore interface {
	// ClaimReminder returns true if no reminder for key was claimed within
	// window before now, and records now as the latest claim.
	ClaimReminder(ctx context.Context, key string, now time.Time, window time.Duration) (bool, error)
}

// Store is everything the workflow needs from persistence.
type Store interface {
	RequestStore
	StepStore
	LedgerStore
	PolicyStore
}

// TxStore runs fn atomically. Inside fn, only the Store passed in may be used.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
