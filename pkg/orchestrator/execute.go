package orchestrator

import (
	"context"

	"mercator-hq/triton/pkg/approval"
	"mercator-hq/triton/pkg/trace"
)

// ApproveRequest asks for a single-use approval of one exact tool call.
type ApproveRequest struct {
	Tool string         `json:"name"`
	Args map[string]any `json:"args"`
}

// HandleApprove issues an approval bound to the tool and the canonical hash
// of the arguments.
func (o *Orchestrator) HandleApprove(ctx context.Context, req ApproveRequest) (approval.Approval, error) {
	if req.Tool == "" {
		return approval.Approval{}, requestErr(CodeMalformedRequest, "", "tool name is required")
	}
	if _, ok := o.registry.Lookup(req.Tool); !ok {
		return approval.Approval{}, requestErr(CodeToolNotFound, "", "unknown tool "+req.Tool)
	}

	granted, err := o.approvals.Issue(ctx, req.Tool, req.Args, o.config.ApprovalTTL)
	if err != nil {
		return approval.Approval{}, requestErr(CodeApprovalBackend, "", "failed to issue approval")
	}
	if o.metrics != nil {
		o.metrics.Approvals.RecordIssued()
	}
	return granted, nil
}

// ExecuteRequest is the explicit tool-execution path's input.
type ExecuteRequest struct {
	Tool       string         `json:"name"`
	Args       map[string]any `json:"args"`
	ApprovalID string         `json:"approval_id,omitempty"`
}

// ExecuteResult is the outcome of an explicit tool execution.
type ExecuteResult struct {
	TraceID     string `json:"trace_id"`
	Status      string `json:"status"`
	Tool        string `json:"tool"`
	Value       any    `json:"value,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
	SandboxUsed bool   `json:"sandbox_used,omitempty"`
	LatencyMS   int64  `json:"latency_ms"`
}

// HandleExecute runs one tool with the policy and approval gates but without
// intent routing.
func (o *Orchestrator) HandleExecute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	if req.Tool == "" {
		return ExecuteResult{}, requestErr(CodeMalformedRequest, "", "tool name is required")
	}
	ctx, cancel := context.WithTimeout(ctx, o.config.RequestTimeout)
	defer cancel()

	tr, err := o.ledger.OpenTrace(ctx, map[string]any{"source": "execute", "tool": req.Tool})
	if err != nil {
		return ExecuteResult{}, requestErr(CodeTraceBackend, "", "failed to open trace")
	}
	res := ExecuteResult{TraceID: tr.ID, Status: StatusOK, Tool: req.Tool}

	if _, err := o.ledger.AppendStep(ctx, tr.ID, trace.StepRequestReceived, map[string]any{
		"tool":         req.Tool,
		"arg_count":    len(req.Args),
		"has_approval": req.ApprovalID != "",
	}); err != nil {
		return o.finishExecute(ctx, res, requestErr(CodeTraceBackend, "", "failed to record request"))
	}

	result, rerr := o.guardedExecute(ctx, tr.ID, req.Tool, req.Args, req.ApprovalID)
	if rerr != nil {
		return o.finishExecute(ctx, res, rerr)
	}
	res.Value = result.Value
	res.Truncated = result.Truncated
	res.SandboxUsed = result.SandboxUsed
	res.LatencyMS = result.LatencyMS
	return o.finishExecute(ctx, res, nil)
}

func (o *Orchestrator) finishExecute(ctx context.Context, res ExecuteResult, rerr *RequestError) (ExecuteResult, error) {
	chat := ChatResult{TraceID: res.TraceID, Status: res.Status}
	chat, err := o.finish(ctx, chat, rerr)
	res.Status = chat.Status
	if err != nil {
		return res, err
	}
	return res, nil
}
