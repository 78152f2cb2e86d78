/*
handlers_test.go - HTTP tests for the leave portal API

Tests for:
- Full submit/approve/cancel round trip over HTTP
- Error taxonomy to status mapping
- Actor, role and rate limit middleware
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/leave-portal/directory"
	"github.com/warp/leave-portal/ledger"
	"github.com/warp/leave-portal/leave"
	"github.com/warp/leave-portal/policy"
	"github.com/warp/leave-portal/scheduler"
	"github.com/warp/leave-portal/store/memory"
	"github.com/warp/leave-portal/workflow"
)

const orgYAML = `
employees:
  - id: emp-1
    name: Ama Mensah
  - id: mgr-1
    name: Yaw Owusu
    roles: [manager]
  - id: hr-1
    name: Kofi Boateng
    roles: [hr]
placements:
  - employee_id: emp-1
    unit: Registry
    manager_id: mgr-1
    department: Administration
    hr_approver_id: hr-1
`

type testServer struct {
	router http.Handler
	store  *memory.Memory
}

func newTestServer(t *testing.T, opts RouterOptions) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := memory.New()
	dir, err := directory.Parse([]byte(orgYAML))
	require.NoError(t, err)

	_, err = ledger.New(store).Grant(context.Background(), "emp-1", leave.Annual, decimal.NewFromInt(20), "seed:emp-1", "opening balance")
	require.NoError(t, err)

	clock := func() time.Time { return time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC) }
	wf := workflow.NewService(workflow.Deps{
		Store:     store,
		Directory: dir,
		Audit:     store,
		Logger:    logger,
	}, workflow.DefaultConfig()).WithClock(clock)
	sched := scheduler.New(store, store, nil, store, scheduler.DefaultConfig(), logger).WithClock(clock)

	h := NewHandler(Deps{
		Workflow:  wf,
		Policies:  policy.NewService(store, policy.NewGate(policy.DefaultStatutoryTable()), store, logger),
		Scheduler: sched,
		Audit:     store,
		Directory: dir,
		Logger:    logger,
	})
	opts.Logger = logger
	return &testServer{router: NewRouter(h, opts), store: store}
}

func (s *testServer) do(t *testing.T, method, path, actor string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func annualBody(start, end string) SubmitRequest {
	return SubmitRequest{LeaveType: "annual", StartDate: start, EndDate: end}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestAPI_SubmitApproveCancel(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	// GIVEN: a 5-day annual request
	rec := s.do(t, http.MethodPost, "/api/requests", "emp-1", annualBody("2024-02-05", "2024-02-09"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[leave.LeaveRequest](t, rec)
	assert.Equal(t, leave.StatusPending, created.Status)
	require.Len(t, created.Steps, 2)

	// WHEN: manager and HR approve in order
	rec = s.do(t, http.MethodPost, "/api/requests/"+created.ID+"/approve", "mgr-1", DecisionRequest{Level: 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodPost, "/api/requests/"+created.ID+"/approve", "hr-1", DecisionRequest{Level: 2, Comment: "enjoy"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: the request is approved and the balance debited
	approved := decodeBody[leave.LeaveRequest](t, rec)
	assert.Equal(t, leave.StatusApproved, approved.Status)

	rec = s.do(t, http.MethodGet, "/api/employees/emp-1/balances", "emp-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balances := decodeBody[BalancesResponse](t, rec)
	assert.True(t, balances.Balances["annual"].Equal(decimal.NewFromInt(15)))

	// AND: cancelling with an empty body credits it back
	rec = s.do(t, http.MethodPost, "/api/requests/"+created.ID+"/cancel", "emp-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, leave.StatusCancelled, decodeBody[leave.LeaveRequest](t, rec).Status)

	rec = s.do(t, http.MethodGet, "/api/employees/emp-1/balances", "emp-1", nil)
	assert.True(t, decodeBody[BalancesResponse](t, rec).Balances["annual"].Equal(decimal.NewFromInt(20)))

	rec = s.do(t, http.MethodGet, "/api/audit?request_id="+created.ID+"&action=request_cancelled", "hr-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]leave.AuditEntry](t, rec), 1)
}

func TestAPI_DraftFlow(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	rec := s.do(t, http.MethodPost, "/api/drafts", "emp-1", annualBody("2024-03-04", "2024-03-05"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	draft := decodeBody[leave.LeaveRequest](t, rec)
	assert.Equal(t, leave.StatusDraft, draft.Status)

	rec = s.do(t, http.MethodPut, "/api/drafts/"+draft.ID, "emp-1", annualBody("2024-03-04", "2024-03-06"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[leave.LeaveRequest](t, rec).Days.Equal(decimal.NewFromInt(3)))

	rec = s.do(t, http.MethodPost, "/api/drafts/"+draft.ID+"/submit", "emp-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, leave.StatusPending, decodeBody[leave.LeaveRequest](t, rec).Status)

	rec = s.do(t, http.MethodGet, "/api/approvals/pending", "mgr-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]leave.LeaveRequest](t, rec), 1)

	rec = s.do(t, http.MethodDelete, "/api/drafts/"+draft.ID, "emp-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "submitted drafts cannot be deleted")
}

func TestAPI_RejectAndResubmit(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	rec := s.do(t, http.MethodPost, "/api/requests", "emp-1", annualBody("2024-02-05", "2024-02-09"))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeBody[leave.LeaveRequest](t, rec).ID

	rec = s.do(t, http.MethodPost, "/api/requests/"+id+"/reject", "mgr-1", DecisionRequest{Level: 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "comment is required")

	rec = s.do(t, http.MethodPost, "/api/requests/"+id+"/reject", "mgr-1", DecisionRequest{Level: 1, Comment: "peak season"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, leave.StatusRejected, decodeBody[leave.LeaveRequest](t, rec).Status)

	changes := annualBody("2024-02-12", "2024-02-13")
	rec = s.do(t, http.MethodPost, "/api/requests/"+id+"/resubmit", "emp-1", ResubmitRequest{Changes: &changes})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resubmitted := decodeBody[leave.LeaveRequest](t, rec)
	assert.Equal(t, 2, resubmitted.Round)
	assert.Equal(t, "2024-02-12", resubmitted.StartDate.String())
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestAPI_ErrorStatuses(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	rec := s.do(t, http.MethodPost, "/api/requests", "emp-1", annualBody("2024-02-05", "2024-02-09"))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeBody[leave.LeaveRequest](t, rec).ID

	tests := []struct {
		name   string
		method string
		path   string
		actor  string
		body   any
		status int
		code   string
	}{
		{"overlap", http.MethodPost, "/api/requests", "emp-1", annualBody("2024-02-08", "2024-02-12"), http.StatusConflict, "overlapping_leave"},
		{"insufficient balance", http.MethodPost, "/api/requests", "emp-1", annualBody("2024-04-01", "2024-05-10"), http.StatusUnprocessableEntity, "insufficient_balance"},
		{"no org placement", http.MethodPost, "/api/requests", "mgr-1", annualBody("2024-04-01", "2024-04-02"), http.StatusUnprocessableEntity, "org_info_not_found"},
		{"end before start", http.MethodPost, "/api/requests", "emp-1", annualBody("2024-04-05", "2024-04-01"), http.StatusBadRequest, "validation"},
		{"out of order", http.MethodPost, "/api/requests/" + id + "/approve", "hr-1", DecisionRequest{Level: 2}, http.StatusConflict, "out_of_order_approval"},
		{"not approver", http.MethodPost, "/api/requests/" + id + "/approve", "hr-1", DecisionRequest{Level: 1}, http.StatusForbidden, "not_approver"},
		{"unknown request", http.MethodGet, "/api/requests/nope", "emp-1", nil, http.StatusNotFound, "not_found"},
		{"unknown step", http.MethodPost, "/api/requests/" + id + "/approve", "mgr-1", DecisionRequest{Level: 4}, http.StatusNotFound, "not_found"},
		{"bad leave type", http.MethodPost, "/api/requests", "emp-1", SubmitRequest{LeaveType: "holiday", StartDate: "2024-04-01", EndDate: "2024-04-01"}, http.StatusBadRequest, "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.actor, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Code)
		})
	}
}

func TestAPI_InsufficientBalanceDetails(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	rec := s.do(t, http.MethodPost, "/api/requests", "emp-1", annualBody("2024-04-01", "2024-04-30"))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "20", resp.Fields["available"])
	assert.Equal(t, "22", resp.Fields["requested"])
	assert.Equal(t, "2", resp.Fields["shortfall"])
}

func TestAPI_ValidationFieldsUseJSONNames(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	rec := s.do(t, http.MethodPost, "/api/requests", "emp-1", SubmitRequest{LeaveType: "annual", StartDate: "05/02/2024"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "datetime", resp.Fields["start_date"])
	assert.Equal(t, "required", resp.Fields["end_date"])
}

func TestAPI_RejectsUnknownFields(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	rec := s.do(t, http.MethodPost, "/api/requests/x/approve", "mgr-1", `{"level": 1, "approved": true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// POLICIES AND HR ROUTES
// =============================================================================

func TestAPI_PolicyLifecycle(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	rec := s.do(t, http.MethodPost, "/api/policies/validate", "emp-1", ValidatePolicyRequest{LeaveType: "annual", MaxDays: 10})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[policy.Result](t, rec)
	assert.False(t, res.Valid)
	assert.Equal(t, 15, res.StatutoryMinimum)

	rec = s.do(t, http.MethodPost, "/api/policies", "emp-1", CreatePolicyRequest{LeaveType: "annual", MaxDays: 20})
	assert.Equal(t, http.StatusForbidden, rec.Code, "HR only")

	rec = s.do(t, http.MethodPost, "/api/policies", "hr-1", CreatePolicyRequest{LeaveType: "annual", MaxDays: 10})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, float64(15), decodeBody[ErrorResponse](t, rec).Fields["minimum"])

	rec = s.do(t, http.MethodPost, "/api/policies", "hr-1", CreatePolicyRequest{LeaveType: "annual", MaxDays: 22, CarryoverMaxDays: 5})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[leave.LeavePolicy](t, rec)
	assert.Equal(t, 1, created.Version)
	assert.False(t, created.Active)

	rec = s.do(t, http.MethodGet, "/api/policies/annual/active", "emp-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/policies/annual/1/activate", "hr-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/policies/annual/active", "emp-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 22, decodeBody[leave.LeavePolicy](t, rec).MaxDays)

	rec = s.do(t, http.MethodPost, "/api/admin/entitlements/grant", "hr-1", EntitlementRequest{EmployeeID: "emp-1", LeaveType: "annual", Year: 2024})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	grant := decodeBody[GrantResponse](t, rec)
	assert.True(t, grant.Applied)
	assert.True(t, grant.Balance.Equal(decimal.NewFromInt(42)))

	rec = s.do(t, http.MethodPost, "/api/admin/entitlements/carryover", "hr-1", EntitlementRequest{EmployeeID: "emp-1", LeaveType: "annual", Year: 2024})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	carry := decodeBody[CarryoverResponse](t, rec)
	assert.True(t, carry.Expired.Equal(decimal.NewFromInt(37)))
}

func TestAPI_PayrollCloseLocksApproved(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	rec := s.do(t, http.MethodPost, "/api/requests", "emp-1", annualBody("2024-02-05", "2024-02-06"))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeBody[leave.LeaveRequest](t, rec).ID
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/requests/"+id+"/approve", "mgr-1", DecisionRequest{Level: 1}).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/requests/"+id+"/approve", "hr-1", DecisionRequest{Level: 2}).Code)

	rec = s.do(t, http.MethodPost, "/api/payroll/close", "mgr-1", PayrollCloseRequest{PeriodEnd: "2024-02-29"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/payroll/close", "hr-1", PayrollCloseRequest{PeriodEnd: "2024-02-29"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decodeBody[PayrollCloseResponse](t, rec).Locked)

	rec = s.do(t, http.MethodPost, "/api/requests/"+id+"/cancel", "emp-1", CancelRequest{Reason: "too late"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "request_locked", decodeBody[ErrorResponse](t, rec).Code)
}

func TestAPI_SchedulerScan(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	rec := s.do(t, http.MethodPost, "/api/admin/scheduler/scan", "hr-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestAPI_BalancesAreSelfOrHR(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/employees/emp-1/balances", "mgr-1", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/employees/emp-1/balances", "hr-1", nil).Code)
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func TestAPI_RequiresActor(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	rec := s.do(t, http.MethodGet, "/api/approvals/pending", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_RateLimitPerIP(t *testing.T) {
	s := newTestServer(t, RouterOptions{RateLimit: 1, RateBurst: 2})

	codes := make([]int, 3)
	for i := range codes {
		codes[i] = s.do(t, http.MethodGet, "/healthz", "", nil).Code
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
