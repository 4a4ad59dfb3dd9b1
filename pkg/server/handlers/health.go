package handlers

import (
	"context"
	"net/http"
	"time"
)

// ReadyCheck is one named dependency probe for the readiness endpoint.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler serves GET /health and GET /ready.
type HealthHandler struct {
	checks []ReadyCheck
}

// NewHealthHandler creates the health endpoint handler with the given
// readiness probes.
func NewHealthHandler(checks []ReadyCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Health reports liveness.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// Ready reports readiness by probing each dependency with a short deadline.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	ready := true
	for _, check := range h.checks {
		if err := check.Check(ctx); err != nil {
			results[check.Name] = err.Error()
			ready = false
			continue
		}
		results[check.Name] = "ok"
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": results})
}
