/*
handlers.go - HTTP API handlers for the leave portal

PURPOSE:
  Exposes the leave workflow via REST API. Handles HTTP request/response,
  JSON serialization and input validation, and delegates to the workflow,
  policy and scheduler services.

ENDPOINTS:
  Requests:
    POST   /api/requests                  Submit a request for the caller
    GET    /api/requests/{id}             Request with current-round steps
    POST   /api/requests/{id}/approve     Approve one level
    POST   /api/requests/{id}/reject      Reject one level (comment required)
    POST   /api/requests/{id}/delegate    Hand a level to another approver
    POST   /api/requests/{id}/cancel      Cancel (credits the ledger if approved)
    POST   /api/requests/{id}/resubmit    Start a new round after rejection
    POST   /api/requests/{id}/lock        Lock for payroll (HR)

  Drafts:
    POST   /api/drafts                    Save a draft
    PUT    /api/drafts/{id}               Edit a draft
    DELETE /api/drafts/{id}               Discard a draft
    POST   /api/drafts/{id}/submit        Submit a draft

  Employees:
    GET    /api/employees/{id}/requests   Request history
    GET    /api/employees/{id}/balances   Remaining days per leave type
    GET    /api/approvals/pending         Requests waiting on the caller

  Policies:
    GET    /api/policies                  All versions (?leave_type=)
    GET    /api/policies/{type}/active    Active version
    POST   /api/policies                  New version (HR)
    POST   /api/policies/{type}/{version}/activate
    POST   /api/policies/validate         Statutory check without saving

  Payroll and admin (HR):
    POST   /api/payroll/close             Lock every decided request in a period
    POST   /api/admin/entitlements/grant
    POST   /api/admin/entitlements/carryover
    POST   /api/admin/scheduler/scan      Run the reminder scan now
    GET    /api/audit                     Audit trail (?request_id=&employee_id=&action=&limit=)

ERROR HANDLING:
  Errors are returned as JSON with a status derived from the error taxonomy:
  - 400: Validation errors, invalid input
  - 401: Missing actor header
  - 403: Not the approver, not permitted
  - 404: Request, step or policy not found
  - 409: Invalid transition, overlap, stale write, locked, out of order
  - 422: Insufficient balance, statutory minimum, missing org placement
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - leave/errors.go: Error taxonomy
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/leave-portal/leave"
	"github.com/warp/leave-portal/policy"
	"github.com/warp/leave-portal/scheduler"
	"github.com/warp/leave-portal/workflow"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Deps are the services behind the API. Scheduler may be nil.
type Deps struct {
	Workflow  *workflow.Service
	Policies  *policy.Service
	Scheduler *scheduler.Scheduler
	Audit     leave.AuditLog
	Directory leave.OrgDirectory
	Logger    *zap.Logger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	workflow  *workflow.Service
	policies  *policy.Service
	scheduler *scheduler.Scheduler
	audit     leave.AuditLog
	directory leave.OrgDirectory
	validate  *validator.Validate
	logger    *zap.Logger
}

func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.L()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		workflow:  d.Workflow,
		policies:  d.Policies,
		scheduler: d.Scheduler,
		audit:     d.Audit,
		directory: d.Directory,
		validate:  v,
		logger:    logger.Named("api"),
	}
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// SubmitRequest submits a new request for the caller.
// POST /api/requests
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	in, err := req.toInput(actorID(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	out, err := h.workflow.Submit(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// GetRequest returns one request.
// GET /api/requests/{id}
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	out, err := h.workflow.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ApproveRequest approves one level.
// POST /api/requests/{id}/approve
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	out, err := h.workflow.Approve(r.Context(), workflow.Decision{
		RequestID: chi.URLParam(r, "id"),
		Level:     req.Level,
		ActorID:   actorID(r),
		Comment:   req.Comment,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// RejectRequest rejects one level.
// POST /api/requests/{id}/reject
func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	out, err := h.workflow.Reject(r.Context(), workflow.Decision{
		RequestID: chi.URLParam(r, "id"),
		Level:     req.Level,
		ActorID:   actorID(r),
		Comment:   req.Comment,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// DelegateRequest hands a level to another approver.
// POST /api/requests/{id}/delegate
func (h *Handler) DelegateRequest(w http.ResponseWriter, r *http.Request) {
	var req DelegateRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	out, err := h.workflow.Delegate(r.Context(), workflow.Decision{
		RequestID: chi.URLParam(r, "id"),
		Level:     req.Level,
		ActorID:   actorID(r),
	}, req.DelegateID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// CancelRequest cancels a pending or approved request.
// POST /api/requests/{id}/cancel
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	out, err := h.workflow.Cancel(r.Context(), chi.URLParam(r, "id"), actorID(r), req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ResubmitRequest starts a new approval round for a rejected request.
// POST /api/requests/{id}/resubmit
func (h *Handler) ResubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req ResubmitRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	var changes *workflow.SubmitInput
	if req.Changes != nil {
		in, err := req.Changes.toInput(actorID(r))
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		changes = &in
	}
	out, err := h.workflow.Resubmit(r.Context(), chi.URLParam(r, "id"), actorID(r), changes)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// LockRequest locks a decided request for payroll.
// POST /api/requests/{id}/lock
func (h *Handler) LockRequest(w http.ResponseWriter, r *http.Request) {
	out, err := h.workflow.Lock(r.Context(), chi.URLParam(r, "id"), actorID(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// DRAFT HANDLERS
// =============================================================================

// CreateDraft saves a draft for the caller.
// POST /api/drafts
func (h *Handler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	in, err := req.toInput(actorID(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	out, err := h.workflow.CreateDraft(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// UpdateDraft replaces the fields of a draft.
// PUT /api/drafts/{id}
func (h *Handler) UpdateDraft(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	in, err := req.toInput(actorID(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	out, err := h.workflow.UpdateDraft(r.Context(), chi.URLParam(r, "id"), actorID(r), in)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// DeleteDraft discards a draft.
// DELETE /api/drafts/{id}
func (h *Handler) DeleteDraft(w http.ResponseWriter, r *http.Request) {
	if err := h.workflow.DeleteDraft(r.Context(), chi.URLParam(r, "id"), actorID(r)); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitDraft submits a saved draft.
// POST /api/drafts/{id}/submit
func (h *Handler) SubmitDraft(w http.ResponseWriter, r *http.Request) {
	out, err := h.workflow.SubmitDraft(r.Context(), chi.URLParam(r, "id"), actorID(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployeeRequests returns the employee's requests.
// GET /api/employees/{id}/requests
func (h *Handler) ListEmployeeRequests(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.selfOrHR(r, id) {
		writeError(w, http.StatusForbidden, "only the employee or HR may view these requests", nil)
		return
	}
	out, err := h.workflow.ListByEmployee(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if out == nil {
		out = []leave.LeaveRequest{}
	}
	writeJSON(w, http.StatusOK, out)
}

// GetBalances returns remaining days per leave type.
// GET /api/employees/{id}/balances
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.selfOrHR(r, id) {
		writeError(w, http.StatusForbidden, "only the employee or HR may view balances", nil)
		return
	}
	balances, err := h.workflow.Balances(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	resp := BalancesResponse{EmployeeID: id, Balances: make(map[string]decimal.Decimal, len(balances))}
	for t, d := range balances {
		resp.Balances[string(t)] = d
	}
	writeJSON(w, http.StatusOK, resp)
}

// PendingApprovals lists requests whose active step the caller can decide.
// GET /api/approvals/pending
func (h *Handler) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	out, err := h.workflow.PendingApprovals(r.Context(), actorID(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if out == nil {
		out = []leave.LeaveRequest{}
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// ListPolicies returns every policy version.
// GET /api/policies
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	var t leave.LeaveType
	if q := r.URL.Query().Get("leave_type"); q != "" {
		parsed, err := leave.ParseLeaveType(q)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		t = parsed
	}
	out, err := h.policies.List(r.Context(), t)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if out == nil {
		out = []leave.LeavePolicy{}
	}
	writeJSON(w, http.StatusOK, out)
}

// GetActivePolicy returns the active version of a leave type.
// GET /api/policies/{type}/active
func (h *Handler) GetActivePolicy(w http.ResponseWriter, r *http.Request) {
	t, err := leave.ParseLeaveType(chi.URLParam(r, "type"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	p, err := h.policies.Active(r.Context(), t)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// CreatePolicy stores a new policy version.
// POST /api/policies
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req CreatePolicyRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	p, err := h.policies.Create(r.Context(), policy.CreateInput{
		LeaveType:              leave.LeaveType(req.LeaveType),
		MaxDays:                req.MaxDays,
		CarryoverMaxDays:       req.CarryoverMaxDays,
		RequiredApprovalLevels: req.RequiredApprovalLevels,
		ActorID:                actorID(r),
		Activate:               req.Activate,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ActivatePolicy makes a stored version the active one.
// POST /api/policies/{type}/{version}/activate
func (h *Handler) ActivatePolicy(w http.ResponseWriter, r *http.Request) {
	t, err := leave.ParseLeaveType(chi.URLParam(r, "type"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version <= 0 {
		writeError(w, http.StatusBadRequest, "version must be a positive integer", err)
		return
	}
	p, err := h.policies.Activate(r.Context(), t, version, actorID(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ValidatePolicy runs the statutory gate without saving anything.
// POST /api/policies/validate
func (h *Handler) ValidatePolicy(w http.ResponseWriter, r *http.Request) {
	var req ValidatePolicyRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	writeJSON(w, http.StatusOK, h.policies.Gate().Validate(leave.LeaveType(req.LeaveType), req.MaxDays))
}

// =============================================================================
// PAYROLL AND ADMIN HANDLERS
// =============================================================================

// ClosePayrollPeriod locks every decided request starting on or before the
// period end.
// POST /api/payroll/close
func (h *Handler) ClosePayrollPeriod(w http.ResponseWriter, r *http.Request) {
	var req PayrollCloseRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	end, err := leave.ParseDate(req.PeriodEnd)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	n, err := h.workflow.LockPayrollPeriod(r.Context(), end, actorID(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PayrollCloseResponse{PeriodEnd: end.String(), Locked: n})
}

// GrantEntitlement credits the active policy's days for a year.
// POST /api/admin/entitlements/grant
func (h *Handler) GrantEntitlement(w http.ResponseWriter, r *http.Request) {
	var req EntitlementRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	res, err := h.workflow.GrantEntitlement(r.Context(), req.EmployeeID, leave.LeaveType(req.LeaveType), req.Year, actorID(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, GrantResponse{
		EmployeeID: req.EmployeeID,
		LeaveType:  req.LeaveType,
		Applied:    res.Applied,
		Balance:    res.Balance,
	})
}

// Carryover expires days above the carryover cap at period end.
// POST /api/admin/entitlements/carryover
func (h *Handler) Carryover(w http.ResponseWriter, r *http.Request) {
	var req EntitlementRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	s, err := h.workflow.Carryover(r.Context(), req.EmployeeID, leave.LeaveType(req.LeaveType), req.Year, actorID(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CarryoverResponse{
		EmployeeID:  req.EmployeeID,
		LeaveType:   req.LeaveType,
		Applied:     s.Applied,
		Before:      s.Before,
		Expired:     s.Expired,
		CarriedOver: s.CarriedOver,
	})
}

// RunScan triggers an immediate reminder/escalation scan.
// POST /api/admin/scheduler/scan
func (h *Handler) RunScan(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not configured", nil)
		return
	}
	events, err := h.scheduler.RunNow(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if events == nil {
		events = []scheduler.ReminderEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// ListAudit returns audit entries, oldest first.
// GET /api/audit
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := leave.AuditFilter{
		RequestID:  q.Get("request_id"),
		EmployeeID: q.Get("employee_id"),
	}
	for _, a := range q["action"] {
		f.Actions = append(f.Actions, leave.AuditAction(a))
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", err)
			return
		}
		f.Limit = n
	}
	out, err := h.audit.ListAudit(r.Context(), f)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if out == nil {
		out = []leave.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, out)
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body into dst and validates it. An empty body is
// accepted when optional is set.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			writeError(w, http.StatusBadRequest, "invalid request body", err)
			return false
		}
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]any, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:  "validation failed",
				Code:   "validation",
				Fields: fields,
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

func (h *Handler) selfOrHR(r *http.Request, employeeID string) bool {
	actor := actorID(r)
	if actor == employeeID {
		return true
	}
	emp, err := h.directory.GetEmployee(r.Context(), actor)
	return err == nil && emp.HasRole(leave.RoleHR)
}

// statusFor maps the error taxonomy onto HTTP. Order matters: OrgInfoError
// also counts as a lookup failure.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, leave.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, leave.ErrOrgInfoNotFound):
		return http.StatusUnprocessableEntity, "org_info_not_found"
	case errors.Is(err, leave.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, leave.ErrStatutoryMinimumViolation):
		return http.StatusUnprocessableEntity, "statutory_minimum_violation"
	case errors.Is(err, leave.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, leave.ErrNotApprover):
		return http.StatusForbidden, "not_approver"
	case errors.Is(err, leave.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, leave.ErrOverlappingLeave):
		return http.StatusConflict, "overlapping_leave"
	case errors.Is(err, leave.ErrRequestLocked):
		return http.StatusConflict, "request_locked"
	case errors.Is(err, leave.ErrOutOfOrderApproval):
		return http.StatusConflict, "out_of_order_approval"
	case errors.Is(err, leave.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, leave.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeDomainError writes err with the status of its category. Internal
// errors are logged and their text is not sent to the client.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("internal error", zap.Error(err))
		writeJSON(w, status, ErrorResponse{Error: "internal error", Code: code})
		return
	}
	resp := ErrorResponse{Error: err.Error(), Code: code}

	var (
		ib *leave.InsufficientBalanceError
		ov *leave.OverlapError
		sv *leave.StatutoryViolationError
		ve *leave.ValidationError
	)
	switch {
	case errors.As(err, &ib):
		resp.Fields = map[string]any{
			"available": ib.Available.String(),
			"requested": ib.Requested.String(),
			"shortfall": ib.Shortfall().String(),
		}
	case errors.As(err, &ov):
		resp.Fields = map[string]any{"conflicting": ov.Conflicting}
	case errors.As(err, &sv):
		resp.Fields = map[string]any{"attempted": sv.Attempted, "minimum": sv.Minimum}
	case errors.As(err, &ve) && ve.Field != "":
		resp.Fields = map[string]any{ve.Field: ve.Message}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
