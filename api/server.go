/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from X-Forwarded-For behind the gateway
  3. Logger:     zap request log
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the portal frontend
  6. RateLimit:  Per-IP token bucket

AUTHENTICATION:
  The SSO gateway authenticates users and forwards X-Employee-ID. Every
  /api route requires it; HR-only routes also check the directory role.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Actor, logging and rate limit middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/warp/leave-portal/leave"
)

// RouterOptions configure the cross-cutting middleware.
type RouterOptions struct {
	AllowedOrigins []string
	// RateLimit is requests per second per client IP; zero disables it.
	RateLimit float64
	RateBurst int
	Logger    *zap.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = zap.L()
	}
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		AllowCredentials: true,
	}))
	r.Use(RateLimitByIP(rate.Limit(opts.RateLimit), opts.RateBurst))

	r.Get("/healthz", h.Health)

	hrOnly := RequireRole(h.directory, leave.RoleHR)

	r.Route("/api", func(r chi.Router) {
		r.Use(RequireActor)

		// Request routes
		r.Route("/requests", func(r chi.Router) {
			r.Post("/", h.SubmitRequest)
			r.Get("/{id}", h.GetRequest)
			r.Post("/{id}/approve", h.ApproveRequest)
			r.Post("/{id}/reject", h.RejectRequest)
			r.Post("/{id}/delegate", h.DelegateRequest)
			r.Post("/{id}/cancel", h.CancelRequest)
			r.Post("/{id}/resubmit", h.ResubmitRequest)
			r.With(hrOnly).Post("/{id}/lock", h.LockRequest)
		})

		// Draft routes
		r.Route("/drafts", func(r chi.Router) {
			r.Post("/", h.CreateDraft)
			r.Put("/{id}", h.UpdateDraft)
			r.Delete("/{id}", h.DeleteDraft)
			r.Post("/{id}/submit", h.SubmitDraft)
		})

		// Employee routes
		r.Route("/employees/{id}", func(r chi.Router) {
			r.Get("/requests", h.ListEmployeeRequests)
			r.Get("/balances", h.GetBalances)
		})
		r.Get("/approvals/pending", h.PendingApprovals)

		// Policy routes
		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Post("/validate", h.ValidatePolicy)
			r.Get("/{type}/active", h.GetActivePolicy)
			r.With(hrOnly).Post("/", h.CreatePolicy)
			r.With(hrOnly).Post("/{type}/{version}/activate", h.ActivatePolicy)
		})

		// HR routes
		r.Group(func(r chi.Router) {
			r.Use(hrOnly)
			r.Post("/payroll/close", h.ClosePayrollPeriod)
			r.Post("/admin/entitlements/grant", h.GrantEntitlement)
			r.Post("/admin/entitlements/carryover", h.Carryover)
			r.Post("/admin/scheduler/scan", h.RunScan)
			r.Get("/audit", h.ListAudit)
		})
	})

	return r
}
