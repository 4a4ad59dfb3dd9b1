package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"mercator-hq/triton/pkg/trace"
)

// TrustHandler serves the read-only trust surface over the ledger. All
// payloads pass through the ledger's redaction profile on read.
type TrustHandler struct {
	ledger *trace.Ledger
}

// NewTrustHandler creates the trust endpoint handler group.
func NewTrustHandler(ledger *trace.Ledger) *TrustHandler {
	return &TrustHandler{ledger: ledger}
}

// Events serves GET /v1/trust/events: recent steps across traces, newest
// first. Query params: limit, step_type (repeatable).
func (h *TrustHandler) Events(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 500 {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"status": "error",
				"error":  "malformed_request",
				"detail": "limit must be an integer between 1 and 500",
			})
			return
		}
		limit = n
	}
	stepTypes := r.URL.Query()["step_type"]

	steps, err := h.ledger.RecentSteps(r.Context(), limit, stepTypes)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status": "error",
			"error":  "trace_backend_error",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": steps, "count": len(steps)})
}

// Trace serves GET /v1/trust/trace/{id}: the full chained trace.
func (h *TrustHandler) Trace(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("id")
	tr, err := h.ledger.GetTrace(r.Context(), traceID)
	if err != nil {
		writeTraceError(w, err)
		return
	}
	steps, err := h.ledger.ReadSteps(r.Context(), traceID)
	if err != nil {
		writeTraceError(w, err)
		return
	}
	w.Header().Set(TraceIDHeader, traceID)
	writeJSON(w, http.StatusOK, map[string]any{
		"trace": tr,
		"steps": steps,
	})
}

// Verify serves GET /v1/trust/verify/{id}: recompute the chain hash and
// optionally compare against ?expected=.
func (h *TrustHandler) Verify(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("id")
	expected := r.URL.Query().Get("expected")

	report, err := h.ledger.VerifyChain(r.Context(), traceID, expected)
	if err != nil {
		writeTraceError(w, err)
		return
	}
	w.Header().Set(TraceIDHeader, traceID)
	body := map[string]any{
		"trace_id":   report.TraceID,
		"chain_hash": report.ChainHash,
		"step_count": report.StepCount,
		"reason":     report.Reason,
	}
	if expected != "" {
		body["ok"] = report.Verified
	}
	writeJSON(w, http.StatusOK, body)
}

func writeTraceError(w http.ResponseWriter, err error) {
	var nf *trace.NotFoundError
	if errors.As(err, &nf) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"status": "error",
			"error":  "trace_not_found",
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"status": "error",
		"error":  "trace_backend_error",
	})
}
