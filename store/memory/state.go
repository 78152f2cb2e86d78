package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/warp/leave-portal/leave"
)

// state holds the data and implements leave.Store without locking. Memory
// guards it; WithTx hands it directly to the callback.
type state struct {
	requests  map[string]leave.LeaveRequest
	steps     map[string][]leave.ApprovalStep
	balances  map[balanceKey]leave.LeaveBalance
	entries   []leave.LedgerEntry
	entryKeys map[string]int
	policies  map[leave.LeaveType][]leave.LeavePolicy
	audit     []leave.AuditEntry
	reminders map[string]time.Time
}

func newState() *state {
	return &state{
		requests:  make(map[string]leave.LeaveRequest),
		steps:     make(map[string][]leave.ApprovalStep),
		balances:  make(map[balanceKey]leave.LeaveBalance),
		entryKeys: make(map[string]int),
		policies:  make(map[leave.LeaveType][]leave.LeavePolicy),
		reminders: make(map[string]time.Time),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.requests {
		c.requests[k] = v
	}
	for k, v := range s.steps {
		c.steps[k] = append([]leave.ApprovalStep(nil), v...)
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	c.entries = append([]leave.LedgerEntry(nil), s.entries...)
	for k, v := range s.entryKeys {
		c.entryKeys[k] = v
	}
	for k, v := range s.policies {
		c.policies[k] = append([]leave.LeavePolicy(nil), v...)
	}
	c.audit = append([]leave.AuditEntry(nil), s.audit...)
	for k, v := range s.reminders {
		c.reminders[k] = v
	}
	return c
}

// =============================================================================
// REQUESTS
// =============================================================================

func (s *state) CreateRequest(_ context.Context, r *leave.LeaveRequest) error {
	if _, ok := s.requests[r.ID]; ok {
		return fmt.Errorf("request %s already exists", r.ID)
	}
	r.Version = 1
	stored := *r
	stored.Steps = nil
	s.requests[r.ID] = stored
	return nil
}

func (s *state) GetRequest(_ context.Context, id string) (*leave.LeaveRequest, error) {
	r, ok := s.requests[id]
	if !ok {
		return nil, leave.NotFoundError("request", id)
	}
	r.Steps = s.roundSteps(id, r.Round)
	return &r, nil
}

func (s *state) UpdateRequest(_ context.Context, r *leave.LeaveRequest) error {
	stored, ok := s.requests[r.ID]
	if !ok {
		return leave.NotFoundError("request", r.ID)
	}
	if stored.Version != r.Version {
		return leave.ErrConcurrentModification
	}
	r.Version++
	next := *r
	next.Steps = nil
	s.requests[r.ID] = next
	return nil
}

func (s *state) DeleteRequest(_ context.Context, id string) error {
	if _, ok := s.requests[id]; !ok {
		return leave.NotFoundError("request", id)
	}
	delete(s.requests, id)
	delete(s.steps, id)
	return nil
}

func (s *state) ListRequests(_ context.Context, f leave.RequestFilter) ([]leave.LeaveRequest, error) {
	var out []leave.LeaveRequest
	for _, r := range s.requests {
		if !matches(r, f) {
			continue
		}
		r.Steps = s.roundSteps(r.ID, r.Round)
		out = append(out, r)
	}
	sortRequests(out)
	return out, nil
}

func matches(r leave.LeaveRequest, f leave.RequestFilter) bool {
	if f.EmployeeID != "" && r.EmployeeID != f.EmployeeID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if r.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.OverlapStart.IsZero() && !f.OverlapEnd.IsZero() &&
		!leave.RangesOverlap(r.StartDate, r.EndDate, f.OverlapStart, f.OverlapEnd) {
		return false
	}
	if !f.StartsOnOrBefore.IsZero() && r.StartDate.After(f.StartsOnOrBefore) {
		return false
	}
	if f.Locked != nil && r.Locked != *f.Locked {
		return false
	}
	return true
}

// =============================================================================
// STEPS
// =============================================================================

func (s *state) CreateSteps(_ context.Context, steps []leave.ApprovalStep) error {
	for i := range steps {
		if _, ok := s.requests[steps[i].RequestID]; !ok {
			return leave.NotFoundError("request", steps[i].RequestID)
		}
		steps[i].Version = 1
		s.steps[steps[i].RequestID] = append(s.steps[steps[i].RequestID], steps[i])
	}
	return nil
}

func (s *state) UpdateStep(_ context.Context, st *leave.ApprovalStep) error {
	list := s.steps[st.RequestID]
	for i := range list {
		if list[i].ID != st.ID {
			continue
		}
		if list[i].Version != st.Version {
			return leave.ErrConcurrentModification
		}
		st.Version++
		list[i] = *st
		return nil
	}
	return leave.NotFoundError("step", st.ID)
}

func (s *state) ListSteps(_ context.Context, requestID string, round int) ([]leave.ApprovalStep, error) {
	return s.roundSteps(requestID, round), nil
}

func (s *state) roundSteps(requestID string, round int) []leave.ApprovalStep {
	var out []leave.ApprovalStep
	for _, st := range s.steps[requestID] {
		if st.Round == round {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}

// =============================================================================
// LEDGER
// =============================================================================

func (s *state) GetBalance(_ context.Context, employeeID string, t leave.LeaveType) (leave.LeaveBalance, error) {
	if b, ok := s.balances[balanceKey{employeeID, t}]; ok {
		return b, nil
	}
	return leave.LeaveBalance{EmployeeID: employeeID, LeaveType: t}, nil
}

func (s *state) SaveBalance(_ context.Context, b *leave.LeaveBalance) error {
	k := balanceKey{b.EmployeeID, b.LeaveType}
	stored, exists := s.balances[k]
	switch {
	case b.Version == 0 && exists:
		return leave.ErrConcurrentModification
	case b.Version != 0 && (!exists || stored.Version != b.Version):
		return leave.ErrConcurrentModification
	}
	b.Version++
	s.balances[k] = *b
	return nil
}

func (s *state) ListBalances(_ context.Context, employeeID string) ([]leave.LeaveBalance, error) {
	var out []leave.LeaveBalance
	for k, b := range s.balances {
		if k.EmployeeID == employeeID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LeaveType < out[j].LeaveType })
	return out, nil
}

func (s *state) AppendEntry(_ context.Context, e leave.LedgerEntry) error {
	if _, ok := s.entryKeys[e.IdempotencyKey]; ok {
		return leave.ErrDuplicateIdempotencyKey
	}
	s.entryKeys[e.IdempotencyKey] = len(s.entries)
	s.entries = append(s.entries, e)
	return nil
}

func (s *state) GetEntry(_ context.Context, key string) (leave.LedgerEntry, error) {
	i, ok := s.entryKeys[key]
	if !ok {
		return leave.LedgerEntry{}, leave.NotFoundError("ledger entry", key)
	}
	return s.entries[i], nil
}

func (s *state) ListEntries(_ context.Context, employeeID string) ([]leave.LedgerEntry, error) {
	var out []leave.LedgerEntry
	for _, e := range s.entries {
		if e.EmployeeID == employeeID {
			out = append(out, e)
		}
	}
	return out, nil
}

// =============================================================================
// POLICIES
// =============================================================================

func (s *state) SavePolicy(_ context.Context, p leave.LeavePolicy) error {
	for _, existing := range s.policies[p.LeaveType] {
		if existing.Version == p.Version {
			return fmt.Errorf("policy %s v%d: %w", p.LeaveType, p.Version, leave.ErrConcurrentModification)
		}
	}
	s.policies[p.LeaveType] = append(s.policies[p.LeaveType], p)
	return nil
}

func (s *state) GetPolicy(_ context.Context, t leave.LeaveType, version int) (leave.LeavePolicy, error) {
	for _, p := range s.policies[t] {
		if p.Version == version {
			return p, nil
		}
	}
	return leave.LeavePolicy{}, leave.NotFoundError("policy", fmt.Sprintf("%s v%d", t, version))
}

func (s *state) GetActivePolicy(_ context.Context, t leave.LeaveType) (leave.LeavePolicy, error) {
	for _, p := range s.policies[t] {
		if p.Active {
			return p, nil
		}
	}
	return leave.LeavePolicy{}, leave.NotFoundError("active policy", string(t))
}

func (s *state) ActivatePolicy(_ context.Context, t leave.LeaveType, version int) error {
	list := s.policies[t]
	found := false
	for i := range list {
		if list[i].Version == version {
			found = true
		}
	}
	if !found {
		return leave.NotFoundError("policy", fmt.Sprintf("%s v%d", t, version))
	}
	for i := range list {
		list[i].Active = list[i].Version == version
	}
	return nil
}

func (s *state) ListPolicies(_ context.Context, t leave.LeaveType) ([]leave.LeavePolicy, error) {
	var out []leave.LeavePolicy
	for lt, list := range s.policies {
		if t != "" && lt != t {
			continue
		}
		out = append(out, list...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LeaveType != out[j].LeaveType {
			return out[i].LeaveType < out[j].LeaveType
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}
