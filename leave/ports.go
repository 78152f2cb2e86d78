package leave

import (
	"context"
	"time"
)

// =============================================================================
// ORG DIRECTORY - Who reports to whom (owned by the HR master data system)
// =============================================================================

// OrgInfo places an employee in the unit -> directorate -> department -> HQ
// hierarchy and names the approvers at each tier.
type OrgInfo struct {
	EmployeeID   string `json:"employee_id" yaml:"employee_id"`
	Unit         string `json:"unit" yaml:"unit"`
	ManagerID    string `json:"manager_id" yaml:"manager_id"`
	Directorate  string `json:"directorate" yaml:"directorate"`
	DirectorID   string `json:"director_id" yaml:"director_id"`
	Department   string `json:"department" yaml:"department"`
	HRApproverID string `json:"hr_approver_id" yaml:"hr_approver_id"`
	HQApproverID string `json:"hq_approver_id" yaml:"hq_approver_id"`
	DutyStation  string `json:"duty_station" yaml:"duty_station"`
}

type Employee struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Email       string         `json:"email" yaml:"email"`
	Roles       []ApproverRole `json:"roles" yaml:"roles"`
	DutyStation string         `json:"duty_station" yaml:"duty_station"`
}

func (e Employee) HasRole(role ApproverRole) bool {
	for _, r := range e.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type OrgDirectory interface {
	// GetOrgInfo returns ErrOrgInfoNotFound when the employee has no placement.
	GetOrgInfo(ctx context.Context, employeeID string) (OrgInfo, error)
	// GetEmployee returns ErrNotFound for unknown ids.
	GetEmployee(ctx context.Context, employeeID string) (Employee, error)
	ListByRole(ctx context.Context, role ApproverRole) ([]Employee, error)
}

// =============================================================================
// NOTIFIER - Fire-and-forget delivery; transport is someone else's problem
// =============================================================================

type NotificationKind string

const (
	NotifyApprovalNeeded NotificationKind = "approval_needed"
	NotifyReminder       NotificationKind = "reminder"
	NotifyHRReminder     NotificationKind = "hr_reminder"
	NotifyEscalated      NotificationKind = "escalated"
	NotifyDecision       NotificationKind = "decision"
	NotifyDelegated      NotificationKind = "delegated"
)

type Notification struct {
	Kind       NotificationKind
	Recipients []string // user ids or RoleRecipient addresses
	RequestID  string
	Subject    string
	Body       string
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditAction string

const (
	AuditDraftCreated     AuditAction = "draft_created"
	AuditDraftUpdated     AuditAction = "draft_updated"
	AuditDraftDeleted     AuditAction = "draft_deleted"
	AuditRequestSubmitted AuditAction = "request_submitted"
	AuditRequestResubmit  AuditAction = "request_resubmitted"
	AuditStepApproved     AuditAction = "step_approved"
	AuditStepRejected     AuditAction = "step_rejected"
	AuditStepDelegated    AuditAction = "step_delegated"
	AuditStepSkipped      AuditAction = "step_skipped"
	AuditRequestApproved  AuditAction = "request_approved"
	AuditRequestRecorded  AuditAction = "request_recorded"
	AuditRequestRejected  AuditAction = "request_rejected"
	AuditRequestCancelled AuditAction = "request_cancelled"
	AuditRequestLocked    AuditAction = "request_locked"
	AuditBalanceDebited   AuditAction = "balance_debited"
	AuditBalanceCredited  AuditAction = "balance_credited"
	AuditBalanceGranted   AuditAction = "balance_granted"
	AuditBalanceExpired   AuditAction = "balance_expired"
	AuditPolicyCreated    AuditAction = "policy_created"
	AuditPolicyActivated  AuditAction = "policy_activated"
	AuditPolicyRejected   AuditAction = "policy_rejected"
	AuditReminderSent     AuditAction = "reminder_sent"
)

// AuditEntry records who did what when.
type AuditEntry struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Action     AuditAction    `json:"action"`
	ActorID    string         `json:"actor_id"`
	EmployeeID string         `json:"employee_id,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// AuditSink receives audit records. Failures never roll back the action
// being audited.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}

type AuditFilter struct {
	RequestID  string
	EmployeeID string
	Actions    []AuditAction
	Limit      int
}

// AuditLog is an AuditSink that can be queried back.
type AuditLog interface {
	AuditSink
	ListAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}
