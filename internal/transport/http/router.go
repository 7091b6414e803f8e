package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"reconcile/internal/platform/metrics"
	"reconcile/internal/platform/middleware"
	"reconcile/pkg/platform/httputil"
)

// Module mounts its endpoints under /api.
type Module interface {
	Register(r chi.Router)
}

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config carries the shared collaborators of the router.
type Config struct {
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
	HealthChecks   map[string]HealthCheck
}

// NewRouter wires the middleware chain, the operational endpoints, and every
// module under /api.
func NewRouter(cfg Config, modules ...Module) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Logger(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(middleware.Latency(cfg.Metrics))
	}

	r.Get("/healthz", healthHandler(cfg.HealthChecks))
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Timeout(cfg.RequestTimeout))
		api.Use(middleware.ContentTypeJSON)
		for _, m := range modules {
			m.Register(api)
		}
	})
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		for name, check := range checks {
			if resp.Checks == nil {
				resp.Checks = make(map[string]string, len(checks))
			}
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
