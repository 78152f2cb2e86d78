/*
Package leave holds the domain model of the leave workflow engine.

PURPOSE:
  Entities (LeaveRequest, ApprovalStep, LeaveBalance, LedgerEntry,
  LeavePolicy), the two state machines, the error taxonomy, and the ports
  to external collaborators (store, org directory, notifier, audit sink).
  No I/O happens here; every other package depends on this one.

KEY CONCEPTS:
  LeaveRequest:  one employee asking for a date range of one leave type
  ApprovalStep:  one level of the approval chain for one submission round
  LeaveBalance:  remaining days per (employee, leave type)
  LedgerEntry:   immutable record of every balance change, keyed for idempotency
  LeavePolicy:   versioned entitlement rules per leave type

SEE ALSO:
  - machine.go: request and step transition tables
  - store.go: persistence ports
  - workflow/service.go: orchestration of the machines
*/
package leave

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEAVE TYPES
// =============================================================================

type LeaveType string

const (
	Annual         LeaveType = "annual"
	Sick           LeaveType = "sick"
	Unpaid         LeaveType = "unpaid"
	SpecialService LeaveType = "special_service"
	Training       LeaveType = "training"
	Study          LeaveType = "study"
	Maternity      LeaveType = "maternity"
	Paternity      LeaveType = "paternity"
	Compassionate  LeaveType = "compassionate"
)

// LeaveTypes lists every supported type in display order.
var LeaveTypes = []LeaveType{
	Annual, Sick, Unpaid, SpecialService, Training, Study, Maternity, Paternity, Compassionate,
}

func (t LeaveType) Valid() bool {
	for _, lt := range LeaveTypes {
		if lt == t {
			return true
		}
	}
	return false
}

// ParseLeaveType accepts the canonical lower-case names.
func ParseLeaveType(s string) (LeaveType, error) {
	t := LeaveType(s)
	if !t.Valid() {
		return "", &ValidationError{Field: "leave_type", Message: "unknown leave type " + s}
	}
	return t, nil
}

// =============================================================================
// LEAVE REQUEST
// =============================================================================

type LeaveRequest struct {
	ID         string          `json:"id"`
	EmployeeID string          `json:"employee_id"`
	LeaveType  LeaveType       `json:"leave_type"`
	StartDate  Date            `json:"start_date"`
	EndDate    Date            `json:"end_date"`
	Days       decimal.Decimal `json:"days"`
	Status     RequestStatus   `json:"status"`

	// Round increments each time a rejected request is resubmitted.
	// Steps always holds the current round only.
	Round int            `json:"round"`
	Steps []ApprovalStep `json:"steps"`

	RequiresExternalClearance bool `json:"requires_external_clearance"`
	Locked                    bool `json:"locked"`
	PayrollImpact             bool `json:"payroll_impact"`
	RecordOnApproval          bool `json:"record_on_approval"`

	Reason            string `json:"reason,omitempty"`
	OfficerTakingOver string `json:"officer_taking_over,omitempty"`
	HandoverNotes     string `json:"handover_notes,omitempty"`

	SubmittedAt time.Time `json:"submitted_at,omitempty"`
	DecidedAt   time.Time `json:"decided_at,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Version     int       `json:"version"`
}

// Validate checks the structural invariants of a request.
func (r *LeaveRequest) Validate() error {
	switch {
	case r.EmployeeID == "":
		return &ValidationError{Field: "employee_id", Message: "required"}
	case !r.LeaveType.Valid():
		return &ValidationError{Field: "leave_type", Message: "unknown leave type " + string(r.LeaveType)}
	case r.StartDate.IsZero() || r.EndDate.IsZero():
		return &ValidationError{Field: "dates", Message: "start and end date are required"}
	case r.EndDate.Before(r.StartDate):
		return &ValidationError{Field: "end_date", Message: "end date before start date"}
	case !r.Days.IsPositive():
		return &ValidationError{Field: "days", Message: "must be greater than zero"}
	case r.Days.GreaterThan(decimal.NewFromInt(int64(CalendarDays(r.StartDate, r.EndDate)))):
		return &ValidationError{Field: "days", Message: "exceeds the number of days in the range"}
	}
	return nil
}

// Step returns the step at the given level of the current round.
func (r *LeaveRequest) Step(level int) (*ApprovalStep, bool) {
	for i := range r.Steps {
		if r.Steps[i].Level == level {
			return &r.Steps[i], true
		}
	}
	return nil, false
}

// FinalStatus is the status the request reaches when every step resolves.
func (r *LeaveRequest) FinalStatus() RequestStatus {
	if r.RecordOnApproval {
		return StatusRecorded
	}
	return StatusApproved
}

// =============================================================================
// APPROVAL STEP
// =============================================================================

type ApproverRole string

const (
	RoleManager  ApproverRole = "manager"
	RoleDirector ApproverRole = "director"
	RoleHR       ApproverRole = "hr"
	RoleHQ       ApproverRole = "hq"
)

type ApprovalStep struct {
	ID           string       `json:"id"`
	RequestID    string       `json:"request_id"`
	Round        int          `json:"round"`
	Level        int          `json:"level"`
	ApproverRole ApproverRole `json:"approver_role"`
	// ApproverID is empty for role-based levels (any holder of the role may act).
	ApproverID  string     `json:"approver_id,omitempty"`
	Status      StepStatus `json:"status"`
	DelegateID  string     `json:"delegate_id,omitempty"`
	DelegatedAt time.Time  `json:"delegated_at,omitempty"`
	ActivatedAt time.Time  `json:"activated_at,omitempty"`
	DecidedBy   string     `json:"decided_by,omitempty"`
	DecidedAt   time.Time  `json:"decided_at,omitempty"`
	Comment     string     `json:"comment,omitempty"`
	Version     int        `json:"version"`
}

// WaitingSince is when the current holder of the step started waiting.
func (s *ApprovalStep) WaitingSince() time.Time {
	if s.Status == StepDelegated && !s.DelegatedAt.IsZero() {
		return s.DelegatedAt
	}
	return s.ActivatedAt
}

// Recipients are the users who can act on the step right now.
func (s *ApprovalStep) Recipients() []string {
	switch {
	case s.Status == StepDelegated && s.DelegateID != "":
		return []string{s.DelegateID}
	case s.ApproverID != "":
		return []string{s.ApproverID}
	default:
		return []string{RoleRecipient(s.ApproverRole)}
	}
}

// RoleRecipient addresses everyone holding a role. Notifiers expand it.
func RoleRecipient(role ApproverRole) string {
	return "role:" + string(role)
}

// =============================================================================
// BALANCES AND LEDGER
// =============================================================================

// LeaveBalance is the remaining entitlement of one employee for one type.
// A Version of zero means the row has never been written.
type LeaveBalance struct {
	EmployeeID string          `json:"employee_id"`
	LeaveType  LeaveType       `json:"leave_type"`
	Remaining  decimal.Decimal `json:"remaining"`
	Version    int             `json:"version"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type EntryKind string

const (
	EntryDebit  EntryKind = "debit"
	EntryCredit EntryKind = "credit"
	EntryGrant  EntryKind = "grant"
	EntryExpire EntryKind = "expire"
)

// LedgerEntry is an append-only record of a balance change. Days is always
// positive; Kind gives the direction.
type LedgerEntry struct {
	ID             string          `json:"id"`
	EmployeeID     string          `json:"employee_id"`
	LeaveType      LeaveType       `json:"leave_type"`
	Kind           EntryKind       `json:"kind"`
	Days           decimal.Decimal `json:"days"`
	RequestID      string          `json:"request_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	Reason         string          `json:"reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Signed returns the entry's effect on the balance.
func (e LedgerEntry) Signed() decimal.Decimal {
	switch e.Kind {
	case EntryDebit, EntryExpire:
		return e.Days.Neg()
	default:
		return e.Days
	}
}

// =============================================================================
// POLICY
// =============================================================================

// LeavePolicy is one version of the entitlement rules for a leave type.
// At most one version per type is active.
type LeavePolicy struct {
	LeaveType              LeaveType `json:"leave_type"`
	Version                int       `json:"version"`
	MaxDays                int       `json:"max_days"`
	CarryoverMaxDays       int       `json:"carryover_max_days"`
	RequiredApprovalLevels int       `json:"required_approval_levels"`
	Active                 bool      `json:"active"`
	CreatedBy              string    `json:"created_by"`
	CreatedAt              time.Time `json:"created_at"`
}
