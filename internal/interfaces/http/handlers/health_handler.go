package handlers

import (
	"context"
	"net/http"
	"time"
)

// DependencyCheck probes one backing service.
type DependencyCheck func(ctx context.Context) error

// HealthHandler serves liveness and readiness probes.  Liveness always
// succeeds while the process runs; readiness fails when any registered
// dependency check fails.
type HealthHandler struct {
	checks  map[string]DependencyCheck
	timeout time.Duration
}

// NewHealthHandler builds the handler over named dependency checks.
func NewHealthHandler(checks map[string]DependencyCheck) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 5 * time.Second}
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	body := map[string]interface{}{"checks": results}
	if status == http.StatusOK {
		body["status"] = "ready"
	} else {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}
