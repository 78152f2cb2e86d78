/*
Package planner builds the approval chain for a leave request.

PURPOSE:
  Given where the requester sits in the org (unit -> directorate ->
  department -> HQ), the leave type and the number of days, produce the
  ordered list of approval levels and whether the request ends approved or
  recorded. Plan is deterministic and performs no I/O.

RULES (defaults in DefaultRules):
  1. Base chain: manager (unit head) then HR.
  2. More than ExtendedLeaveDays, or a DirectorTypes leave type, inserts the
     directorate's director between manager and HR.
  3. More than HQLeaveDays appends HQ after HR.
  4. RecordedTypes (special service) go to HQ alone and end recorded.
  5. The policy floor (RequiredApprovalLevels) extends the chain up the
     hierarchy until it is long enough.
  6. A level whose named approver is the requester is dropped; nobody
     approves their own leave. Levels are then numbered 1..n.

EXAMPLE:
  5 days of annual leave, unit "Registry" -> [1: manager, 2: hr]

SEE ALSO:
  - workflow/service.go: turns a Plan into ApprovalSteps
*/
package planner

import (
	"github.com/shopspring/decimal"

	"github.com/warp/leave-portal/leave"
)

// LevelSpec is one planned approval level.
type LevelSpec struct {
	Level        int
	ApproverRole leave.ApproverRole
	ApproverID   string
}

// Plan is the output of the planner.
type Plan struct {
	Levels  []LevelSpec
	Outcome leave.RequestStatus // approved or recorded
}

type Rules struct {
	ExtendedLeaveDays int
	HQLeaveDays       int
	DirectorTypes     []leave.LeaveType
	RecordedTypes     []leave.LeaveType
}

func DefaultRules() Rules {
	return Rules{
		ExtendedLeaveDays: 10,
		HQLeaveDays:       30,
		DirectorTypes:     []leave.LeaveType{leave.Study, leave.Training},
		RecordedTypes:     []leave.LeaveType{leave.SpecialService},
	}
}

type Planner struct {
	rules Rules
}

func New(rules Rules) *Planner {
	return &Planner{rules: rules}
}

// Plan builds the chain without a policy floor.
func (p *Planner) Plan(org leave.OrgInfo, leaveType leave.LeaveType, days decimal.Decimal) (Plan, error) {
	return p.PlanWithPolicy(org, leaveType, days, 0)
}

// PlanWithPolicy builds the chain and extends it to at least minLevels.
func (p *Planner) PlanWithPolicy(org leave.OrgInfo, leaveType leave.LeaveType, days decimal.Decimal, minLevels int) (Plan, error) {
	if org.Unit == "" && org.Department == "" {
		return Plan{}, &leave.OrgInfoError{EmployeeID: org.EmployeeID, Reason: "no unit or department on record"}
	}
	if !leaveType.Valid() {
		return Plan{}, &leave.ValidationError{Field: "leave_type", Message: "unknown leave type " + string(leaveType)}
	}

	manager := LevelSpec{ApproverRole: leave.RoleManager, ApproverID: org.ManagerID}
	director := LevelSpec{ApproverRole: leave.RoleDirector, ApproverID: org.DirectorID}
	hr := LevelSpec{ApproverRole: leave.RoleHR, ApproverID: org.HRApproverID}
	hq := LevelSpec{ApproverRole: leave.RoleHQ, ApproverID: org.HQApproverID}

	if contains(p.rules.RecordedTypes, leaveType) {
		return Plan{
			Levels:  number(dropSelf([]LevelSpec{hq}, org.EmployeeID, hq)),
			Outcome: leave.StatusRecorded,
		}, nil
	}

	withDirector := contains(p.rules.DirectorTypes, leaveType) ||
		days.GreaterThan(decimal.NewFromInt(int64(p.rules.ExtendedLeaveDays)))
	withHQ := p.rules.HQLeaveDays > 0 &&
		days.GreaterThan(decimal.NewFromInt(int64(p.rules.HQLeaveDays)))

	// The full hierarchy in order; include marks which tiers are in the chain.
	tiers := []LevelSpec{manager, director, hr, hq}
	include := []bool{true, withDirector, true, withHQ}

	// Policy floor: pull in the next tiers up the hierarchy. Tiers the
	// requester would approve are dropped below and do not count.
	self := make([]bool, len(tiers))
	for i, t := range tiers {
		self[i] = t.ApproverID != "" && t.ApproverID == org.EmployeeID
	}
	for effective(include, self) < minLevels {
		added := false
		for _, i := range []int{1, 3} {
			if !include[i] {
				include[i] = true
				added = true
				break
			}
		}
		if !added {
			break
		}
	}

	var chain []LevelSpec
	for i, t := range tiers {
		if include[i] {
			chain = append(chain, t)
		}
	}
	return Plan{
		Levels:  number(dropSelf(chain, org.EmployeeID, hq)),
		Outcome: leave.StatusApproved,
	}, nil
}

// dropSelf removes levels named for the requester. If nothing remains, the
// fallback level (HQ, role based) is used so the request still has an approver.
func dropSelf(chain []LevelSpec, employeeID string, fallback LevelSpec) []LevelSpec {
	out := chain[:0:0]
	for _, l := range chain {
		if l.ApproverID != "" && l.ApproverID == employeeID {
			continue
		}
		out = append(out, l)
	}
	if len(out) == 0 {
		fallback.ApproverID = ""
		out = append(out, fallback)
	}
	return out
}

func number(chain []LevelSpec) []LevelSpec {
	for i := range chain {
		chain[i].Level = i + 1
	}
	return chain
}

func contains(types []leave.LeaveType, t leave.LeaveType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func effective(include, self []bool) int {
	n := 0
	for i := range include {
		if include[i] && !self[i] {
			n++
		}
	}
	return n
}
