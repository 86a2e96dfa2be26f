/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zap request log + prometheus request metrics
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the admin dashboard

ROUTE GROUPS:
  /api/employees/*      Employee directory
  /api/rates/*          Tax brackets, social-security rates, import/export
  /api/settings         Payroll settings
  /api/payroll/*        Payroll records and transitions
  /api/scenarios/*      Demo scenarios
  /metrics              Prometheus exposition

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - metrics.go: Request logging and metrics middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions tunes the router.
type RouterOptions struct {
	CORSOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Logger, h.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
	}))

	r.Handle("/metrics", h.Metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Employee routes
		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}", h.GetEmployee)
		})

		// Rate routes
		r.Route("/rates", func(r chi.Router) {
			r.Get("/brackets", h.ListBrackets)
			r.Post("/brackets", h.CreateBracket)
			r.Put("/brackets/{id}", h.UpdateBracket)
			r.Delete("/brackets/{id}", h.DeleteBracket)

			r.Get("/social-security", h.ListSocialSecurityRates)
			r.Post("/social-security", h.CreateSocialSecurityRate)
			r.Put("/social-security/{id}", h.UpdateSocialSecurityRate)
			r.Delete("/social-security/{id}", h.DeleteSocialSecurityRate)

			r.Post("/import", h.ImportRates)
			r.Get("/export", h.ExportRates)
			r.Get("/resolve", h.ResolveRates)
		})

		// Settings routes
		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)

		// Payroll routes
		r.Route("/payroll", func(r chi.Router) {
			r.Get("/", h.ListPayroll)
			r.Post("/", h.CreatePayroll)
			r.Post("/transition", h.BulkTransition)
			r.Post("/payrun", h.RunPayRun)
			r.Get("/{id}", h.GetPayroll)
			r.Put("/{id}", h.UpdatePayroll)
			r.Delete("/{id}", h.DeletePayroll)
			r.Post("/{id}/recalculate", h.RecalculatePayroll)
			r.Post("/{id}/approve", h.ApprovePayroll)
			r.Post("/{id}/pay", h.PayPayroll)
			r.Post("/{id}/cancel", h.CancelPayroll)
			r.Get("/{id}/history", h.PayrollHistory)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
