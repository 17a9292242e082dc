/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Logger:     Structured access log (zap)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Prometheus counters and latency per route
  6. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /health               Liveness (public)
  /metrics              Prometheus scrape (public)
  /api/accounts/*       Accounts (token required, mutations admin only)
  /api/requests/*       Requests (token required, decisions admin only)
  /api/admin/*          Reconciliation (admin)
  /api/scenarios/*      Demo scenarios (admin, development only)

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Authenticate and RequireAdmin
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	CORSOrigins []string
	// Development mounts the scenario routes.
	Development bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, auth *Authenticator, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Authenticate)

		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/{id}", h.GetAccount)

			r.Group(func(r chi.Router) {
				r.Use(RequireAdmin)
				r.Get("/", h.ListAccounts)
				r.Post("/", h.OpenAccount)
				r.Post("/{id}/freeze", h.FreezeAccount)
				r.Post("/{id}/unfreeze", h.UnfreezeAccount)
				r.Post("/{id}/close", h.CloseAccount)
				r.Post("/{id}/adjustments", h.AdjustBalance)
			})
		})

		// Request routes
		r.Route("/requests", func(r chi.Router) {
			r.Post("/", h.CreateRequest)
			r.Get("/", h.ListRequests)
			r.Get("/{id}", h.GetRequest)

			r.Group(func(r chi.Router) {
				r.Use(RequireAdmin)
				r.Get("/pending", h.ListPendingRequests)
				r.Post("/{id}/approve", h.ApproveRequest)
				r.Post("/{id}/reject", h.RejectRequest)
				r.Post("/{id}/refund", h.RefundRequest)
			})
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Get("/reconciliation", h.GetReconciliation)
			r.Post("/reconciliation", h.RunReconciliation)
		})

		// Scenario routes
		if opts.Development {
			r.Route("/scenarios", func(r chi.Router) {
				r.Use(RequireAdmin)
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	return r
}

// requestLogger writes one access log line per request.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote", r.RemoteAddr))
		})
	}
}
