package handlers

import (
	"net/http"

	"mercator-hq/triton/pkg/orchestrator"
)

// ApproveHandler serves POST /v1/tools/approve.
type ApproveHandler struct {
	orch *orchestrator.Orchestrator
}

// NewApproveHandler creates the approval-issue endpoint handler.
func NewApproveHandler(orch *orchestrator.Orchestrator) *ApproveHandler {
	return &ApproveHandler{orch: orch}
}

type approveRequestBody struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

func (h *ApproveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body approveRequestBody
	if !decodeJSON(w, r, &body) {
		return
	}

	granted, err := h.orch.HandleApprove(r.Context(), orchestrator.ApproveRequest{
		Tool: body.Name,
		Args: body.Args,
	})
	if err != nil {
		writeRequestError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"approval_id": granted.ID,
		"tool":        granted.ToolName,
		"args_hash":   granted.ArgsHash,
		"created_at":  granted.CreatedAt,
		"expires_at":  granted.ExpiresAt,
		"status":      granted.Status,
	})
}

// ExecuteHandler serves POST /v1/tools/execute.
type ExecuteHandler struct {
	orch *orchestrator.Orchestrator
}

// NewExecuteHandler creates the explicit execution endpoint handler.
func NewExecuteHandler(orch *orchestrator.Orchestrator) *ExecuteHandler {
	return &ExecuteHandler{orch: orch}
}

type executeRequestBody struct {
	Name       string         `json:"name"`
	Args       map[string]any `json:"args,omitempty"`
	ApprovalID string         `json:"approval_id,omitempty"`
}

func (h *ExecuteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body executeRequestBody
	if !decodeJSON(w, r, &body) {
		return
	}

	res, err := h.orch.HandleExecute(r.Context(), orchestrator.ExecuteRequest{
		Tool:       body.Name,
		Args:       body.Args,
		ApprovalID: body.ApprovalID,
	})
	if res.TraceID != "" {
		w.Header().Set(TraceIDHeader, res.TraceID)
	}
	if err != nil {
		extra := map[string]any{"tool": body.Name, "trace_id": res.TraceID}
		if rerr, ok := err.(*orchestrator.RequestError); ok && rerr.Code == orchestrator.CodeApprovalRequired {
			extra["approval_reason"] = rerr.Reason
		}
		writeRequestError(w, err, extra)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
