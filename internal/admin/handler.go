package admin

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/newt-tracker/offline/internal/offline"
	"go.uber.org/zap"
)

// Prefix is the path space reserved for the service itself; everything
// outside it is proxied to the origin.
const Prefix = "/_newt/"

const (
	HealthPath  = Prefix + "healthz"
	ReadyPath   = Prefix + "readyz"
	MetricsPath = Prefix + "metrics"
	StatusPath  = Prefix + "status"
)

type StatusSource interface {
	Status(ctx context.Context) (offline.Status, error)
}

// Handler serves a read-only JSON view of the offline cache.
type Handler struct {
	Source StatusSource
	Log    *zap.Logger
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st, err := h.Source.Status(r.Context())
	if err != nil {
		if h.Log != nil {
			h.Log.Warn("status lookup failed", zap.Error(err))
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(st)
}

// Ready answers 200 only once the worker intercepts fetches.
func Ready(state func() offline.State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !state().Intercepting() {
			http.Error(w, state().String(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
