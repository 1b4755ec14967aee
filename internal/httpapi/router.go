package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is anything the health endpoint should check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps wires the router.
type RouterDeps struct {
	Controller *Controller

	// Checks run on /healthz, keyed by component name.
	Checks map[string]Pinger
}

// NewRouter builds the HTTP surface:
//
//	POST|GET /{provider}/start
//	GET      /{provider}/oauth_callback
//	GET      /providers
//	GET      /healthz
//	GET      /metrics
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(requestID, recoverer, instrument)

	r.Post("/{provider}/start", deps.Controller.Start)
	r.Get("/{provider}/start", deps.Controller.Start)
	r.Get("/{provider}/oauth_callback", deps.Controller.Callback)

	r.Get("/providers", deps.Controller.Providers)
	r.Get("/healthz", healthHandler(deps.Checks))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

func healthHandler(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		out := map[string]string{"status": "ok"}
		for name, p := range checks {
			if err := p.Ping(r.Context()); err != nil {
				status = http.StatusServiceUnavailable
				out["status"] = "degraded"
				out[name] = err.Error()
			} else {
				out[name] = "ok"
			}
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(out)
	}
}
