/*
Package memory provides an in-memory implementation of the leave store.

PURPOSE:
  Backs tests and local development. Implements leave.TxStore,
  leave.ReminderStore and leave.AuditLog with the same semantics as the
  SQLite store, including version checks and unique idempotency keys.

TRANSACTIONS:
  WithTx holds the write lock for the whole callback and works on the live
  state. A snapshot is taken first and restored if the callback fails, so a
  failed transaction leaves no trace.

  Inside the callback only the Store argument may be used; calling the
  Memory itself would deadlock.

SEE ALSO:
  - store/sqlite: persistent implementation
  - leave/store.go: interface definitions
*/
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/leave-portal/leave"
)

type balanceKey struct {
	EmployeeID string
	LeaveType  leave.LeaveType
}

type Memory struct {
	mu sync.RWMutex
	st *state
}

func New() *Memory {
	return &Memory{st: newState()}
}

var (
	_ leave.TxStore       = (*Memory)(nil)
	_ leave.ReminderStore = (*Memory)(nil)
	_ leave.AuditLog      = (*Memory)(nil)
)

// WithTx executes fn atomically with snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(leave.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(m.st); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// =============================================================================
// LOCKING WRAPPERS
// =============================================================================

func (m *Memory) CreateRequest(ctx context.Context, r *leave.LeaveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.CreateRequest(ctx, r)
}

func (m *Memory) GetRequest(ctx context.Context, id string) (*leave.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetRequest(ctx, id)
}

func (m *Memory) UpdateRequest(ctx context.Context, r *leave.LeaveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateRequest(ctx, r)
}

func (m *Memory) DeleteRequest(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteRequest(ctx, id)
}

func (m *Memory) ListRequests(ctx context.Context, f leave.RequestFilter) ([]leave.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListRequests(ctx, f)
}

func (m *Memory) CreateSteps(ctx context.Context, steps []leave.ApprovalStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.CreateSteps(ctx, steps)
}

func (m *Memory) UpdateStep(ctx context.Context, s *leave.ApprovalStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateStep(ctx, s)
}

func (m *Memory) ListSteps(ctx context.Context, requestID string, round int) ([]leave.ApprovalStep, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListSteps(ctx, requestID, round)
}

func (m *Memory) GetBalance(ctx context.Context, employeeID string, t leave.LeaveType) (leave.LeaveBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetBalance(ctx, employeeID, t)
}

func (m *Memory) SaveBalance(ctx context.Context, b *leave.LeaveBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveBalance(ctx, b)
}

func (m *Memory) ListBalances(ctx context.Context, employeeID string) ([]leave.LeaveBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListBalances(ctx, employeeID)
}

func (m *Memory) AppendEntry(ctx context.Context, e leave.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendEntry(ctx, e)
}

func (m *Memory) GetEntry(ctx context.Context, key string) (leave.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetEntry(ctx, key)
}

func (m *Memory) ListEntries(ctx context.Context, employeeID string) ([]leave.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListEntries(ctx, employeeID)
}

func (m *Memory) SavePolicy(ctx context.Context, p leave.LeavePolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SavePolicy(ctx, p)
}

func (m *Memory) GetPolicy(ctx context.Context, t leave.LeaveType, version int) (leave.LeavePolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetPolicy(ctx, t, version)
}

func (m *Memory) GetActivePolicy(ctx context.Context, t leave.LeaveType) (leave.LeavePolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetActivePolicy(ctx, t)
}

func (m *Memory) ActivatePolicy(ctx context.Context, t leave.LeaveType, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ActivatePolicy(ctx, t, version)
}

func (m *Memory) ListPolicies(ctx context.Context, t leave.LeaveType) ([]leave.LeavePolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListPolicies(ctx, t)
}

// Record appends an audit entry. Audit entries survive rollbacks of
// unrelated transactions because they are written outside WithTx.
func (m *Memory) Record(_ context.Context, e leave.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.audit = append(m.st.audit, e)
	return nil
}

func (m *Memory) ListAudit(_ context.Context, f leave.AuditFilter) ([]leave.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []leave.AuditEntry
	for _, e := range m.st.audit {
		if f.RequestID != "" && e.RequestID != f.RequestID {
			continue
		}
		if f.EmployeeID != "" && e.EmployeeID != f.EmployeeID {
			continue
		}
		if len(f.Actions) > 0 && !containsAction(f.Actions, e.Action) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// ClaimReminder implements leave.ReminderStore.
func (m *Memory) ClaimReminder(_ context.Context, key string, now time.Time, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.st.reminders[key]; ok && now.Sub(last) < window {
		return false, nil
	}
	m.st.reminders[key] = now
	return true, nil
}

func containsAction(actions []leave.AuditAction, a leave.AuditAction) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}

func sortRequests(rs []leave.LeaveRequest) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].StartDate.Equal(rs[j].StartDate) {
			return rs[i].StartDate.Before(rs[j].StartDate)
		}
		return rs[i].ID < rs[j].ID
	})
}
