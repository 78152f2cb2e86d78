/*
gate.go - Statutory-minimum gate for leave policies

PURPOSE:
  A leave policy may be generous but never less than the law allows. The
  gate compares a policy's MaxDays against the statutory minimum for its
  leave type. It is a pure function of its inputs and the StatutoryTable,
  and it runs when a policy is created or activated, never when a policy is
  read.

STATUTORY TABLE:
  Jurisdiction specific, so it is configuration (see config/profile.go).
  Types without an entry have a minimum of zero.

EXAMPLE:
  gate := policy.NewGate(policy.StatutoryTable{leave.Annual: 15})
  gate.Validate(leave.Annual, 10) // {Valid: false, StatutoryMinimum: 15}
  gate.Validate(leave.Annual, 20) // {Valid: true,  StatutoryMinimum: 15}
*/
package policy

import (
	"fmt"

	"github.com/warp/leave-portal/leave"
)

// StatutoryTable maps a leave type to the legal minimum of days per year.
type StatutoryTable map[leave.LeaveType]int

// DefaultStatutoryTable is used when no jurisdiction profile is configured.
func DefaultStatutoryTable() StatutoryTable {
	return StatutoryTable{
		leave.Annual:    15,
		leave.Sick:      10,
		leave.Maternity: 90,
		leave.Paternity: 10,
	}
}

// Result is the outcome of Validate.
type Result struct {
	Valid            bool     `json:"valid"`
	StatutoryMinimum int      `json:"statutory_minimum"`
	Errors           []string `json:"errors,omitempty"`
}

type Gate struct {
	table StatutoryTable
}

func NewGate(table StatutoryTable) *Gate {
	copied := make(StatutoryTable, len(table))
	for k, v := range table {
		copied[k] = v
	}
	return &Gate{table: copied}
}

// Minimum returns the statutory minimum for leaveType (zero if none).
func (g *Gate) Minimum(leaveType leave.LeaveType) int {
	return g.table[leaveType]
}

// Validate checks maxDays against the statutory minimum.
func (g *Gate) Validate(leaveType leave.LeaveType, maxDays int) Result {
	res := Result{Valid: true, StatutoryMinimum: g.table[leaveType]}
	if !leaveType.Valid() {
		res.Valid = false
		res.Errors = append(res.Errors, fmt.Sprintf("unknown leave type %q", leaveType))
	}
	if maxDays < 0 {
		res.Valid = false
		res.Errors = append(res.Errors, "max days cannot be negative")
	}
	if maxDays < res.StatutoryMinimum {
		res.Valid = false
		res.Errors = append(res.Errors,
			fmt.Sprintf("%s max days %d is below the statutory minimum of %d", leaveType, maxDays, res.StatutoryMinimum))
	}
	return res
}

// Check is Validate as an error. Statutory failures unwrap to
// leave.ErrStatutoryMinimumViolation, malformed input to leave.ErrValidation.
func (g *Gate) Check(leaveType leave.LeaveType, maxDays int) error {
	res := g.Validate(leaveType, maxDays)
	if res.Valid {
		return nil
	}
	if !leaveType.Valid() || maxDays < 0 {
		return &leave.ValidationError{Field: "max_days", Message: res.Errors[0]}
	}
	return &leave.StatutoryViolationError{LeaveType: leaveType, Attempted: maxDays, Minimum: res.StatutoryMinimum}
}
