package handlers

import (
	"net/http"

	"mercator-hq/triton/pkg/orchestrator"
)

// ChatHandler serves POST /v1/chat/completions.
type ChatHandler struct {
	orch *orchestrator.Orchestrator
}

// NewChatHandler creates the chat endpoint handler.
func NewChatHandler(orch *orchestrator.Orchestrator) *ChatHandler {
	return &ChatHandler{orch: orch}
}

type chatRequestBody struct {
	Message    string         `json:"message"`
	ApprovalID string         `json:"approval_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body chatRequestBody
	if !decodeJSON(w, r, &body) {
		return
	}

	res, err := h.orch.HandleChat(r.Context(), orchestrator.ChatRequest{
		Message:    body.Message,
		ApprovalID: body.ApprovalID,
		Metadata:   body.Metadata,
	})
	if res.TraceID != "" {
		w.Header().Set(TraceIDHeader, res.TraceID)
	}
	if err != nil {
		writeRequestError(w, err, map[string]any{"trace_id": res.TraceID})
		return
	}
	if res.Status == orchestrator.StatusHITLPending {
		writeJSON(w, http.StatusAccepted, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
