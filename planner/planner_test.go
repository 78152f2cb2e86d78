package planner

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-portal/leave"
)

func org() leave.OrgInfo {
	return leave.OrgInfo{
		EmployeeID:   "emp-1",
		Unit:         "Registry",
		ManagerID:    "mgr-1",
		Directorate:  "Corporate Services",
		DirectorID:   "dir-1",
		Department:   "Administration",
		HRApproverID: "hr-1",
	}
}

func roles(p Plan) []leave.ApproverRole {
	out := make([]leave.ApproverRole, len(p.Levels))
	for i, l := range p.Levels {
		out[i] = l.ApproverRole
	}
	return out
}

func TestPlan_FiveDayAnnualIsManagerThenHR(t *testing.T) {
	p, err := New(DefaultRules()).Plan(org(), leave.Annual, decimal.NewFromInt(5))
	require.NoError(t, err)

	require.Len(t, p.Levels, 2)
	assert.Equal(t, LevelSpec{Level: 1, ApproverRole: leave.RoleManager, ApproverID: "mgr-1"}, p.Levels[0])
	assert.Equal(t, LevelSpec{Level: 2, ApproverRole: leave.RoleHR, ApproverID: "hr-1"}, p.Levels[1])
	assert.Equal(t, leave.StatusApproved, p.Outcome)
}

func TestPlan_Rules(t *testing.T) {
	tests := []struct {
		name      string
		leaveType leave.LeaveType
		days      int64
		want      []leave.ApproverRole
		outcome   leave.RequestStatus
	}{
		{"extended leave adds director", leave.Annual, 11, []leave.ApproverRole{leave.RoleManager, leave.RoleDirector, leave.RoleHR}, leave.StatusApproved},
		{"ten days is not extended", leave.Annual, 10, []leave.ApproverRole{leave.RoleManager, leave.RoleHR}, leave.StatusApproved},
		{"study needs director", leave.Study, 2, []leave.ApproverRole{leave.RoleManager, leave.RoleDirector, leave.RoleHR}, leave.StatusApproved},
		{"long leave goes to HQ", leave.Maternity, 90, []leave.ApproverRole{leave.RoleManager, leave.RoleDirector, leave.RoleHR, leave.RoleHQ}, leave.StatusApproved},
		{"special service is recorded by HQ", leave.SpecialService, 3, []leave.ApproverRole{leave.RoleHQ}, leave.StatusRecorded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(DefaultRules()).Plan(org(), tt.leaveType, decimal.NewFromInt(tt.days))
			require.NoError(t, err)
			assert.Equal(t, tt.want, roles(p))
			assert.Equal(t, tt.outcome, p.Outcome)
			for i, l := range p.Levels {
				assert.Equal(t, i+1, l.Level, "levels are contiguous from 1")
			}
		})
	}
}

func TestPlan_PolicyFloorExtendsChain(t *testing.T) {
	p, err := New(DefaultRules()).PlanWithPolicy(org(), leave.Sick, decimal.NewFromInt(2), 3)
	require.NoError(t, err)
	assert.Equal(t, []leave.ApproverRole{leave.RoleManager, leave.RoleDirector, leave.RoleHR}, roles(p))

	p, err = New(DefaultRules()).PlanWithPolicy(org(), leave.Sick, decimal.NewFromInt(2), 4)
	require.NoError(t, err)
	assert.Len(t, p.Levels, 4)
}

func TestPlan_NoSelfApproval(t *testing.T) {
	// GIVEN: the requester heads their own unit
	o := org()
	o.EmployeeID = "mgr-1"

	p, err := New(DefaultRules()).Plan(o, leave.Annual, decimal.NewFromInt(5))
	require.NoError(t, err)

	// THEN: the manager level is dropped and HR becomes level 1
	require.Len(t, p.Levels, 1)
	assert.Equal(t, leave.RoleHR, p.Levels[0].ApproverRole)
	assert.Equal(t, 1, p.Levels[0].Level)
}

func TestPlan_PolicyFloorCountsAfterSelfDrop(t *testing.T) {
	// GIVEN: the requester is their own HR approver and the policy wants 3 levels
	o := org()
	o.EmployeeID = "hr-1"
	o.HQApproverID = "hq-1"

	p, err := New(DefaultRules()).PlanWithPolicy(o, leave.Annual, decimal.NewFromInt(5), 3)
	require.NoError(t, err)

	// THEN: the HR level is dropped and the chain reaches up to HQ instead
	assert.Equal(t, []leave.ApproverRole{leave.RoleManager, leave.RoleDirector, leave.RoleHQ}, roles(p))
	for _, l := range p.Levels {
		assert.NotEqual(t, "hr-1", l.ApproverID)
	}
}

func TestPlan_RoleBasedLevelsKeepEmptyApprover(t *testing.T) {
	o := org()
	o.HRApproverID = ""

	p, err := New(DefaultRules()).Plan(o, leave.Annual, decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.Equal(t, "", p.Levels[1].ApproverID)
	assert.Equal(t, leave.RoleHR, p.Levels[1].ApproverRole)
}

func TestPlan_MissingOrgInfo(t *testing.T) {
	_, err := New(DefaultRules()).Plan(leave.OrgInfo{EmployeeID: "ghost"}, leave.Annual, decimal.NewFromInt(5))

	require.ErrorIs(t, err, leave.ErrOrgInfoNotFound)
}

func TestPlan_Deterministic(t *testing.T) {
	pl := New(DefaultRules())
	a, err := pl.Plan(org(), leave.Annual, decimal.NewFromInt(12))
	require.NoError(t, err)
	b, err := pl.Plan(org(), leave.Annual, decimal.NewFromInt(12))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
