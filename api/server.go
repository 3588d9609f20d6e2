/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zerolog request logging (method, path, status, duration)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/accounts/*         Account reads, manual movements, enable/disable
  /api/transfers          Transfers
  /api/sales/*            Sales
  /api/purchase-orders/*  Purchase orders
  /api/clients/*          Client payments
  /api/parties/*          Client/distributor records
  /api/movements          Movement log by reference
  /api/audit              Replay audit (POST) and scheduler status
  /api/scenarios/*        Demo scenarios
  /metrics                Prometheus
  /healthz                Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
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
	"github.com/rs/zerolog"
	"github.com/warp/chronos-ledger/internal/logger"
)

// RouterConfig carries the router's external settings.
type RouterConfig struct {
	AllowedOrigins []string
	// Metrics serves /metrics. Defaults to the global Prometheus registry.
	Metrics http.Handler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: !wildcard(origins),
	}))

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", metrics)

	r.Route("/api", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Get("/{id}", h.GetAccount)
			r.Get("/{id}/movements", h.GetAccountMovements)
			r.Post("/{id}/income", h.RecordIncome)
			r.Post("/{id}/expense", h.RecordExpense)
			r.Post("/{id}/active", h.SetAccountActive)
		})

		r.Post("/transfers", h.CreateTransfer)
		r.Get("/movements", h.ListMovements)

		r.Route("/sales", func(r chi.Router) {
			r.Post("/", h.CreateSale)
			r.Post("/preview", h.PreviewSale)
			r.Get("/{id}", h.GetSale)
			r.Post("/{id}/payments", h.PaySale)
			r.Delete("/{id}", h.DeleteSale)
		})

		r.Route("/purchase-orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/{id}", h.GetOrder)
			r.Post("/{id}/payments", h.PayOrder)
			r.Post("/{id}/cancel", h.CancelOrder)
			r.Delete("/{id}", h.DeleteOrder)
		})

		r.Post("/clients/{id}/payments", h.PayClient)
		r.Get("/parties/{id}", h.GetParty)
		r.Put("/parties/{id}", h.RegisterParty)

		r.Post("/audit", h.RunAudit)
		r.Get("/audit/status", h.GetAuditStatus)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// requestLogger logs one line per request with the chi request id.
func requestLogger(base zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			l := logger.WithRequestID(base, middleware.GetReqID(r.Context()))

			next.ServeHTTP(ww, r.WithContext(l.WithContext(r.Context())))

			ev := l.Info()
			if ww.Status() >= http.StatusInternalServerError {
				ev = l.Error()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}

// wildcard reports whether origins admits any origin. Credentials are
// never sent to a wildcard.
func wildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
