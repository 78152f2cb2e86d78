/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Request bodies carry
  `validate` tags checked by go-playground/validator before anything reaches
  the workflow; the workflow still enforces its own invariants.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Response wrappers that are not plain domain types

  Domain types (leave.LeaveRequest, leave.LeavePolicy, leave.AuditEntry)
  already carry JSON tags and are returned as they are.

SEE ALSO:
  - handlers.go: Uses these types
  - leave/types.go: Domain JSON shapes
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/warp/leave-portal/leave"
	"github.com/warp/leave-portal/workflow"
)

// =============================================================================
// REQUESTS
// =============================================================================

// SubmitRequest creates or edits a leave request for the calling employee.
type SubmitRequest struct {
	LeaveType                 string           `json:"leave_type" validate:"required,oneof=annual sick unpaid special_service training study maternity paternity compassionate"`
	StartDate                 string           `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate                   string           `json:"end_date" validate:"required,datetime=2006-01-02"`
	Days                      *decimal.Decimal `json:"days,omitempty"`
	Reason                    string           `json:"reason" validate:"max=1000"`
	OfficerTakingOver         string           `json:"officer_taking_over" validate:"max=200"`
	HandoverNotes             string           `json:"handover_notes" validate:"max=2000"`
	RequiresExternalClearance bool             `json:"requires_external_clearance"`
}

func (s SubmitRequest) toInput(employeeID string) (workflow.SubmitInput, error) {
	start, err := leave.ParseDate(s.StartDate)
	if err != nil {
		return workflow.SubmitInput{}, err
	}
	end, err := leave.ParseDate(s.EndDate)
	if err != nil {
		return workflow.SubmitInput{}, err
	}
	in := workflow.SubmitInput{
		EmployeeID:                employeeID,
		LeaveType:                 leave.LeaveType(s.LeaveType),
		StartDate:                 start,
		EndDate:                   end,
		Reason:                    s.Reason,
		OfficerTakingOver:         s.OfficerTakingOver,
		HandoverNotes:             s.HandoverNotes,
		RequiresExternalClearance: s.RequiresExternalClearance,
	}
	if s.Days != nil {
		in.Days = *s.Days
	}
	return in, nil
}

// DecisionRequest approves or rejects one level.
type DecisionRequest struct {
	Level   int    `json:"level" validate:"required,min=1,max=4"`
	Comment string `json:"comment" validate:"max=1000"`
}

type DelegateRequest struct {
	Level      int    `json:"level" validate:"required,min=1,max=4"`
	DelegateID string `json:"delegate_id" validate:"required"`
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// ResubmitRequest optionally edits a rejected request before it re-enters
// the chain. A nil Changes resubmits as is.
type ResubmitRequest struct {
	Changes *SubmitRequest `json:"changes,omitempty"`
}

type PayrollCloseRequest struct {
	PeriodEnd string `json:"period_end" validate:"required,datetime=2006-01-02"`
}

type CreatePolicyRequest struct {
	LeaveType              string `json:"leave_type" validate:"required,oneof=annual sick unpaid special_service training study maternity paternity compassionate"`
	MaxDays                int    `json:"max_days" validate:"min=0"`
	CarryoverMaxDays       int    `json:"carryover_max_days" validate:"min=0"`
	RequiredApprovalLevels int    `json:"required_approval_levels" validate:"min=0,max=4"`
	Activate               bool   `json:"activate"`
}

type ValidatePolicyRequest struct {
	LeaveType string `json:"leave_type" validate:"required,oneof=annual sick unpaid special_service training study maternity paternity compassionate"`
	MaxDays   int    `json:"max_days" validate:"min=0"`
}

// EntitlementRequest drives both the period start grant and the period end
// carryover.
type EntitlementRequest struct {
	EmployeeID string `json:"employee_id" validate:"required"`
	LeaveType  string `json:"leave_type" validate:"required,oneof=annual sick unpaid special_service training study maternity paternity compassionate"`
	Year       int    `json:"year" validate:"required,min=2000,max=2100"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type BalancesResponse struct {
	EmployeeID string                     `json:"employee_id"`
	Balances   map[string]decimal.Decimal `json:"balances"`
}

type PayrollCloseResponse struct {
	PeriodEnd string `json:"period_end"`
	Locked    int    `json:"locked"`
}

type GrantResponse struct {
	EmployeeID string          `json:"employee_id"`
	LeaveType  string          `json:"leave_type"`
	Applied    bool            `json:"applied"`
	Balance    decimal.Decimal `json:"balance"`
}

type CarryoverResponse struct {
	EmployeeID  string          `json:"employee_id"`
	LeaveType   string          `json:"leave_type"`
	Applied     bool            `json:"applied"`
	Before      decimal.Decimal `json:"before"`
	Expired     decimal.Decimal `json:"expired"`
	CarriedOver decimal.Decimal `json:"carried_over"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Details string         `json:"details,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}
