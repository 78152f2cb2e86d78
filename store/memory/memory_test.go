package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-portal/leave"
)

func newRequest(id, employee, start, end string, status leave.RequestStatus) *leave.LeaveRequest {
	return &leave.LeaveRequest{
		ID:         id,
		EmployeeID: employee,
		LeaveType:  leave.Annual,
		StartDate:  leave.MustParseDate(start),
		EndDate:    leave.MustParseDate(end),
		Days:       decimal.NewFromInt(1),
		Status:     status,
		Round:      1,
	}
}

func TestMemory_UpdateRequestVersionCheck(t *testing.T) {
	ctx := context.Background()
	m := New()

	r := newRequest("r1", "emp-1", "2024-02-01", "2024-02-05", leave.StatusPending)
	require.NoError(t, m.CreateRequest(ctx, r))
	assert.Equal(t, 1, r.Version)

	// Two readers load the same version.
	a, err := m.GetRequest(ctx, "r1")
	require.NoError(t, err)
	b, err := m.GetRequest(ctx, "r1")
	require.NoError(t, err)

	a.Status = leave.StatusApproved
	require.NoError(t, m.UpdateRequest(ctx, a))
	assert.Equal(t, 2, a.Version)

	// The second writer is stale.
	b.Status = leave.StatusRejected
	assert.ErrorIs(t, m.UpdateRequest(ctx, b), leave.ErrConcurrentModification)

	got, err := m.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, got.Status)
}

func TestMemory_WithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	m := New()
	boom := errors.New("boom")

	err := m.WithTx(ctx, func(s leave.Store) error {
		require.NoError(t, s.CreateRequest(ctx, newRequest("r1", "emp-1", "2024-02-01", "2024-02-02", leave.StatusPending)))
		bal := leave.LeaveBalance{EmployeeID: "emp-1", LeaveType: leave.Annual, Remaining: decimal.NewFromInt(5)}
		require.NoError(t, s.SaveBalance(ctx, &bal))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = m.GetRequest(ctx, "r1")
	assert.ErrorIs(t, err, leave.ErrNotFound)
	bal, err := m.GetBalance(ctx, "emp-1", leave.Annual)
	require.NoError(t, err)
	assert.Equal(t, 0, bal.Version)
	assert.True(t, bal.Remaining.IsZero())
}

func TestMemory_ListRequestsOverlapFilter(t *testing.T) {
	ctx := context.Background()
	m := New()
	require.NoError(t, m.CreateRequest(ctx, newRequest("r1", "emp-1", "2024-02-01", "2024-02-05", leave.StatusPending)))
	require.NoError(t, m.CreateRequest(ctx, newRequest("r2", "emp-1", "2024-03-01", "2024-03-02", leave.StatusPending)))
	require.NoError(t, m.CreateRequest(ctx, newRequest("r3", "emp-2", "2024-02-01", "2024-02-05", leave.StatusPending)))

	got, err := m.ListRequests(ctx, leave.RequestFilter{
		EmployeeID:   "emp-1",
		Statuses:     leave.ActiveStatuses,
		OverlapStart: leave.MustParseDate("2024-02-03"),
		OverlapEnd:   leave.MustParseDate("2024-02-08"),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].ID)
}

func TestMemory_StepsByRound(t *testing.T) {
	ctx := context.Background()
	m := New()
	r := newRequest("r1", "emp-1", "2024-02-01", "2024-02-05", leave.StatusPending)
	require.NoError(t, m.CreateRequest(ctx, r))
	require.NoError(t, m.CreateSteps(ctx, []leave.ApprovalStep{
		{ID: "s1", RequestID: "r1", Round: 1, Level: 2, Status: leave.StepPending},
		{ID: "s0", RequestID: "r1", Round: 1, Level: 1, Status: leave.StepPending},
		{ID: "s2", RequestID: "r1", Round: 2, Level: 1, Status: leave.StepPending},
	}))

	got, err := m.GetRequest(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, 1, got.Steps[0].Level)
	assert.Equal(t, "s0", got.Steps[0].ID)

	step := got.Steps[0]
	step.Status = leave.StepApproved
	require.NoError(t, m.UpdateStep(ctx, &step))
	stale := got.Steps[0]
	stale.Status = leave.StepRejected
	assert.ErrorIs(t, m.UpdateStep(ctx, &stale), leave.ErrConcurrentModification)
}

func TestMemory_LedgerEntriesUniqueKey(t *testing.T) {
	ctx := context.Background()
	m := New()
	e := leave.LedgerEntry{ID: "e1", EmployeeID: "emp-1", LeaveType: leave.Annual,
		Kind: leave.EntryDebit, Days: decimal.NewFromInt(2), IdempotencyKey: "debit:r1"}

	require.NoError(t, m.AppendEntry(ctx, e))
	assert.ErrorIs(t, m.AppendEntry(ctx, e), leave.ErrDuplicateIdempotencyKey)

	got, err := m.GetEntry(ctx, "debit:r1")
	require.NoError(t, err)
	assert.Equal(t, "e1", got.ID)

	_, err = m.GetEntry(ctx, "credit:r1")
	assert.ErrorIs(t, err, leave.ErrNotFound)
}

func TestMemory_ActivatePolicyIsExclusive(t *testing.T) {
	ctx := context.Background()
	m := New()
	require.NoError(t, m.SavePolicy(ctx, leave.LeavePolicy{LeaveType: leave.Annual, Version: 1, MaxDays: 20, Active: true}))
	require.NoError(t, m.SavePolicy(ctx, leave.LeavePolicy{LeaveType: leave.Annual, Version: 2, MaxDays: 25}))

	require.NoError(t, m.ActivatePolicy(ctx, leave.Annual, 2))

	active, err := m.GetActivePolicy(ctx, leave.Annual)
	require.NoError(t, err)
	assert.Equal(t, 2, active.Version)
	v1, err := m.GetPolicy(ctx, leave.Annual, 1)
	require.NoError(t, err)
	assert.False(t, v1.Active)
}

func TestMemory_ClaimReminderWindow(t *testing.T) {
	ctx := context.Background()
	m := New()
	t0 := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

	ok, err := m.ClaimReminder(ctx, "step:r1:1:1", t0, 12*time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = m.ClaimReminder(ctx, "step:r1:1:1", t0.Add(6*time.Hour), 12*time.Hour)
	assert.False(t, ok)

	ok, _ = m.ClaimReminder(ctx, "step:r1:1:1", t0.Add(12*time.Hour), 12*time.Hour)
	assert.True(t, ok)
}
