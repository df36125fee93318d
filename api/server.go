/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for admin tooling

ROUTE GROUPS:
  /api/calculator/*   Charge and fee estimation
  /api/demands/*      Ledger search, ad-hoc amounts, adjustment refresh
  /api/bulk/*         Bulk cycle trigger and status
  /api/masters        Rule-table loading
  /api/subjects       Connection registry
  /api/readings       Meter readings

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Calculator routes
		r.Route("/calculator", func(r chi.Router) {
			r.Post("/charges", h.CalculateCharges)
			r.Post("/fees", h.CalculateFees)
			r.Post("/reconnection", h.CalculateReconnection)
			r.Post("/ownership", h.CalculateOwnershipChange)
		})

		// Demand routes
		r.Route("/demands", func(r chi.Router) {
			r.Get("/", h.SearchDemands)
			r.Post("/adhoc", h.ApplyAdhoc)
			r.Post("/refresh", h.RefreshAdjustments)
		})

		// Bulk routes
		r.Route("/bulk", func(r chi.Router) {
			r.Post("/", h.TriggerBulk)
			r.Get("/{id}", h.BulkStatus)
		})

		// Master and base data routes
		r.Post("/masters", h.LoadMasters)
		r.Post("/subjects", h.RegisterSubject)
		r.Post("/readings", h.RecordReading)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Billing Reconciliation Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Billing Reconciliation Engine API</h1>
<h2>API Endpoints</h2>
<ul>
<li>POST /api/calculator/charges - Compute and persist a period bill</li>
<li>GET /api/demands?tenantId=&amp;consumerCodes= - Search the ledger</li>
<li>POST /api/demands/refresh - Re-apply time-based adjustments</li>
<li>POST /api/bulk - Trigger a bulk generation cycle</li>
</ul>
</body>
</html>`))
	})

	return r
}
