// Package handlers implements the HTTP endpoints of the control plane. Each
// handler decodes and validates the request, drives the orchestrator or the
// ledger, and writes the response with the disclosure headers.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"mercator-hq/triton/pkg/orchestrator"
	"mercator-hq/triton/pkg/trace"
)

// TraceIDHeader carries the trace id so clients can correlate responses
// with ledger entries.
const TraceIDHeader = "X-Trace-ID"

// statusFor maps error codes to HTTP statuses. Unknown codes are treated as
// internal failures.
func statusFor(code string) int {
	switch code {
	case orchestrator.CodeMalformedRequest, "model_rejected":
		return http.StatusBadRequest
	case orchestrator.CodePolicyDenied, orchestrator.CodeApprovalRequired, orchestrator.CodeIntentDenied:
		return http.StatusForbidden
	case orchestrator.CodeToolNotFound:
		return http.StatusNotFound
	case orchestrator.CodeNoMatch:
		return http.StatusUnprocessableEntity
	case "network_disabled", "circuit_open", "sandbox_unavailable":
		return http.StatusServiceUnavailable
	case "timeout", orchestrator.CodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	case "network", "protocol":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeRequestError writes a classified failure. Messages are scrubbed so
// secret-shaped substrings never cross the HTTP boundary.
func writeRequestError(w http.ResponseWriter, err error, extra map[string]any) {
	var rerr *orchestrator.RequestError
	if !errors.As(err, &rerr) {
		rerr = &orchestrator.RequestError{Code: "internal_error", Detail: "unexpected failure"}
	}
	body := map[string]any{
		"status": "error",
		"error":  rerr.Code,
	}
	if rerr.Reason != "" {
		body["reason"] = rerr.Reason
	}
	if rerr.Detail != "" {
		detail, _ := trace.ScrubString(rerr.Detail)
		body["detail"] = detail
	}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, statusFor(rerr.Code), body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"status": "error",
			"error":  orchestrator.CodeMalformedRequest,
		})
		return false
	}
	return true
}
