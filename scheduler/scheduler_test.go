package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/leave-portal/leave"
	"github.com/warp/leave-portal/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var t0 = time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu    sync.Mutex
	notes []leave.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n leave.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notes)
}

func seedPending(t *testing.T, store *memory.Memory, id string, levels int) {
	t.Helper()
	ctx := context.Background()
	r := &leave.LeaveRequest{
		ID:          id,
		EmployeeID:  "emp-1",
		LeaveType:   leave.Annual,
		StartDate:   leave.MustParseDate("2024-02-05"),
		EndDate:     leave.MustParseDate("2024-02-09"),
		Days:        decimal.NewFromInt(5),
		Status:      leave.StatusPending,
		Round:       1,
		SubmittedAt: t0,
		CreatedAt:   t0,
	}
	require.NoError(t, store.CreateRequest(ctx, r))

	approvers := []string{"mgr-1", "hr-1", "hq-1"}
	roles := []leave.ApproverRole{leave.RoleManager, leave.RoleHR, leave.RoleHQ}
	steps := make([]leave.ApprovalStep, levels)
	for i := range steps {
		steps[i] = leave.ApprovalStep{
			ID:           fmt.Sprintf("%s-step-%d", id, i+1),
			RequestID:    id,
			Round:        1,
			Level:        i + 1,
			ApproverRole: roles[i],
			ApproverID:   approvers[i],
			Status:       leave.StepPending,
		}
	}
	steps[0].ActivatedAt = t0
	require.NoError(t, store.CreateSteps(ctx, steps))
}

func newScheduler(t *testing.T, cfg Config) (*Scheduler, *memory.Memory, *recordingNotifier) {
	t.Helper()
	store := memory.New()
	notes := &recordingNotifier{}
	return New(store, store, notes, store, cfg, zaptest.NewLogger(t)), store, notes
}

func kinds(events []ReminderEvent) []EventKind {
	out := make([]EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

// =============================================================================
// REMINDERS
// =============================================================================

func TestScan_NoReminderBeforeThreshold(t *testing.T) {
	s, store, notes := newScheduler(t, DefaultConfig())
	seedPending(t, store, "req-1", 2)

	events, err := s.Scan(context.Background(), t0.Add(23*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Zero(t, notes.count())
}

func TestScan_ReminderIsDeduplicated(t *testing.T) {
	// GIVEN: a level waiting 25 hours
	// WHEN: scans run at +25h, +30h and +38h
	// THEN: one reminder per 12 hour window

	s, store, notes := newScheduler(t, DefaultConfig())
	seedPending(t, store, "req-1", 2)
	ctx := context.Background()

	events, err := s.Scan(ctx, t0.Add(25*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventReminder, events[0].Kind)
	assert.Equal(t, 1, events[0].Level)
	assert.Equal(t, []string{"mgr-1"}, events[0].Recipients)

	events, err = s.Scan(ctx, t0.Add(30*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, events, "second scan within the window sends nothing")

	events, err = s.Scan(ctx, t0.Add(38*time.Hour))
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, 2, notes.count())

	entries, err := store.ListAudit(ctx, leave.AuditFilter{RequestID: "req-1", Actions: []leave.AuditAction{leave.AuditReminderSent}})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, SystemActor, entries[0].ActorID)
}

func TestScan_ConcurrentScansSendOneReminder(t *testing.T) {
	s, store, notes := newScheduler(t, DefaultConfig())
	seedPending(t, store, "req-1", 2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Scan(context.Background(), t0.Add(25*time.Hour))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, notes.count())
}

func TestScan_HRReminder(t *testing.T) {
	s, store, notes := newScheduler(t, DefaultConfig())
	seedPending(t, store, "req-1", 2)

	events, err := s.Scan(context.Background(), t0.Add(73*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []EventKind{EventReminder, EventHRReminder}, kinds(events))
	assert.Equal(t, []string{"role:hr"}, events[1].Recipients)

	notes.mu.Lock()
	defer notes.mu.Unlock()
	assert.Equal(t, leave.NotifyHRReminder, notes.notes[1].Kind)
}

func TestScan_DelegatedStepRemindsDelegate(t *testing.T) {
	s, store, _ := newScheduler(t, DefaultConfig())
	seedPending(t, store, "req-1", 2)
	ctx := context.Background()

	r, err := store.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	step := &r.Steps[0]
	step.Status = leave.StepDelegated
	step.DelegateID = "dep-1"
	step.DelegatedAt = t0.Add(20 * time.Hour)
	require.NoError(t, store.UpdateStep(ctx, step))

	events, err := s.Scan(ctx, t0.Add(30*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, events, "delegate has waited only 10 hours")

	events, err = s.Scan(ctx, t0.Add(45*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"dep-1"}, events[0].Recipients)
}

func TestScan_IgnoresDecidedRequests(t *testing.T) {
	s, store, notes := newScheduler(t, DefaultConfig())
	seedPending(t, store, "req-1", 2)
	ctx := context.Background()

	r, err := store.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	r.Status = leave.StatusCancelled
	require.NoError(t, store.UpdateRequest(ctx, r))

	events, err := s.Scan(ctx, t0.Add(100*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Zero(t, notes.count())
}

// =============================================================================
// ESCALATION
// =============================================================================

func escalatingConfig() Config {
	cfg := DefaultConfig()
	cfg.EscalateAfter = 48 * time.Hour
	cfg.HRReminderAfter = 0
	return cfg
}

func TestConfig_EscalationEnabled(t *testing.T) {
	tests := []struct {
		name     string
		reminder time.Duration
		escalate time.Duration
		want     bool
	}{
		{"not configured", 24 * time.Hour, 0, false},
		{"equal to reminder", 24 * time.Hour, 24 * time.Hour, false},
		{"shorter than reminder", 24 * time.Hour, 12 * time.Hour, false},
		{"after reminder", 24 * time.Hour, 48 * time.Hour, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{ReminderAfter: tt.reminder, EscalateAfter: tt.escalate}
			assert.Equal(t, tt.want, cfg.EscalationEnabled())
		})
	}
}

func TestScan_NoEscalationByDefault(t *testing.T) {
	s, store, _ := newScheduler(t, DefaultConfig())
	seedPending(t, store, "req-1", 2)

	_, err := s.Scan(context.Background(), t0.Add(200*time.Hour))
	require.NoError(t, err)

	r, err := store.GetRequest(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, leave.StepPending, r.Steps[0].Status)
}

func TestScan_EscalatesStaleLevel(t *testing.T) {
	// GIVEN: escalation after 48h and a 2-level request
	// WHEN: level 1 has waited 49h
	// THEN: level 1 is skipped, level 2 is activated, reminder audited first

	s, store, notes := newScheduler(t, escalatingConfig())
	seedPending(t, store, "req-1", 2)
	ctx := context.Background()
	now := t0.Add(49 * time.Hour)

	events, err := s.Scan(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []EventKind{EventReminder, EventEscalated}, kinds(events))
	assert.Equal(t, 2, events[1].Level)
	assert.Equal(t, []string{"hr-1"}, events[1].Recipients)

	r, err := store.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, leave.StepSkipped, r.Steps[0].Status)
	assert.Equal(t, SystemActor, r.Steps[0].DecidedBy)
	assert.Equal(t, leave.StepPending, r.Steps[1].Status)
	assert.True(t, now.Equal(r.Steps[1].ActivatedAt))
	assert.Equal(t, leave.StatusPending, r.Status)

	entries, err := store.ListAudit(ctx, leave.AuditFilter{RequestID: "req-1"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, leave.AuditReminderSent, entries[0].Action)
	assert.Equal(t, leave.AuditStepSkipped, entries[1].Action)

	assert.Equal(t, 2, notes.count())
}

func TestScan_NeverSkipsFinalLevel(t *testing.T) {
	s, store, _ := newScheduler(t, escalatingConfig())
	seedPending(t, store, "req-1", 1)

	events, err := s.Scan(context.Background(), t0.Add(200*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []EventKind{EventReminder}, kinds(events))

	r, err := store.GetRequest(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, leave.StepPending, r.Steps[0].Status)
}

func TestScan_DoesNotEscalateDelegatedStep(t *testing.T) {
	s, store, _ := newScheduler(t, escalatingConfig())
	seedPending(t, store, "req-1", 2)
	ctx := context.Background()

	r, err := store.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	r.Steps[0].Status = leave.StepDelegated
	r.Steps[0].DelegateID = "dep-1"
	r.Steps[0].DelegatedAt = t0
	require.NoError(t, store.UpdateStep(ctx, &r.Steps[0]))

	_, err = s.Scan(ctx, t0.Add(200*time.Hour))
	require.NoError(t, err)

	r, err = store.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, leave.StepDelegated, r.Steps[0].Status)
}

func TestEscalate_RechecksStepInTransaction(t *testing.T) {
	// GIVEN: a scan decided to escalate level 1
	// WHEN: the manager approved before the escalation transaction ran
	// THEN: escalation does nothing

	s, store, _ := newScheduler(t, escalatingConfig())
	seedPending(t, store, "req-1", 2)
	ctx := context.Background()

	r, err := store.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	r.Steps[0].Status = leave.StepApproved
	r.Steps[0].DecidedBy = "mgr-1"
	require.NoError(t, store.UpdateStep(ctx, &r.Steps[0]))

	_, escalated, err := s.escalate(ctx, "req-1", 1, t0.Add(49*time.Hour))
	require.NoError(t, err)
	assert.False(t, escalated)

	r, err = store.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, leave.StepApproved, r.Steps[0].Status)
	assert.True(t, r.Steps[1].ActivatedAt.IsZero())
}

// =============================================================================
// BACKGROUND LOOP
// =============================================================================

func TestStartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	s, store, notes := newScheduler(t, cfg)
	seedPending(t, store, "req-1", 2)
	s.WithClock(func() time.Time { return t0.Add(25 * time.Hour) })

	s.Start()
	s.Start() // second start is a no-op
	assert.Eventually(t, func() bool { return notes.count() == 1 }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	assert.Equal(t, 1, notes.count(), "deduplicated across ticks")
}

func TestStart_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	s, _, _ := newScheduler(t, cfg)
	s.Start()
	s.Stop()
}

func TestRunNow(t *testing.T) {
	s, store, _ := newScheduler(t, DefaultConfig())
	seedPending(t, store, "req-1", 2)
	s.WithClock(func() time.Time { return t0.Add(25 * time.Hour) })

	events, err := s.RunNow(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
