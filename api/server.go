/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Embedded-admin frontend origins

OBSERVABILITY:
  /healthz returns liveness; /metrics exposes the Prometheus registry
  the ledger collectors were registered on.

SECURITY NOTE:
  Authentication happens upstream; handlers only read X-Staff-ID.

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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions carries optional router wiring.
type RouterOptions struct {
	// Registry, when set, is exposed at /metrics.
	Registry *prometheus.Registry
	// AllowedOrigins for CORS; empty disables CORS headers.
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Staff-ID"},
			AllowCredentials: true,
		}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/credits", func(r chi.Router) {
			r.Post("/", h.IssueCredit)
			r.Get("/code/{code}", h.GetCreditByCode)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetCredit)
				r.Get("/transactions", h.GetTransactions)
				r.Get("/balance-at", h.GetBalanceAt)
				r.Get("/verify", h.VerifyCredit)
				r.Post("/redeem", h.RedeemCredit)
				r.Post("/adjust", h.AdjustCredit)
				r.Post("/cancel", h.CancelCredit)
				r.Post("/extend", h.ExtendCredit)
			})
		})

		r.Route("/customers/{id}", func(r chi.Router) {
			r.Get("/credits", h.ListCustomerCredits)
			r.Get("/summary", h.GetCustomerSummary)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/transactions", h.AggregateTransactions)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.RunSweep)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	if opts.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))
	}

	return r
}
