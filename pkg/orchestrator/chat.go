package orchestrator

import (
	"context"
	"errors"
	"strconv"

	"mercator-hq/triton/pkg/intent"
	"mercator-hq/triton/pkg/provider"
	"mercator-hq/triton/pkg/tools"
	"mercator-hq/triton/pkg/trace"
)

// ChatRequest is one validated chat request handed in by the HTTP layer.
type ChatRequest struct {
	Message    string         `json:"message"`
	ApprovalID string         `json:"approval_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ChatResult is the orchestrator's answer to a chat request.
type ChatResult struct {
	TraceID       string `json:"trace_id"`
	Status        string `json:"status"`
	Tool          string `json:"tool,omitempty"`
	TierUsed      int    `json:"tier_used"`
	DecisionID    string `json:"decision_id,omitempty"`
	Content       string `json:"content,omitempty"`
	Value         any    `json:"value,omitempty"`
	Truncated     bool   `json:"truncated,omitempty"`
	SandboxUsed   bool   `json:"sandbox_used,omitempty"`
	Provider      string `json:"provider,omitempty"`
	Model         string `json:"model,omitempty"`
	HITLRequestID string `json:"hitl_request_id,omitempty"`
	Message       string `json:"message,omitempty"`
}

// HandleChat drives one chat request end to end: trace open, intent routing,
// policy and approval gates, dispatch, trace close.
func (o *Orchestrator) HandleChat(ctx context.Context, req ChatRequest) (ChatResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.config.RequestTimeout)
	defer cancel()

	meta := map[string]any{"source": "chat"}
	for k, v := range req.Metadata {
		meta[k] = v
	}
	tr, err := o.ledger.OpenTrace(ctx, meta)
	if err != nil {
		return ChatResult{}, requestErr(CodeTraceBackend, "", "failed to open trace")
	}
	res := ChatResult{TraceID: tr.ID, Status: StatusOK}

	// Metadata only; message bodies never enter the ledger here.
	if _, err := o.ledger.AppendStep(ctx, tr.ID, trace.StepRequestReceived, map[string]any{
		"input_chars":  len(req.Message),
		"has_approval": req.ApprovalID != "",
	}); err != nil {
		return o.finish(ctx, res, requestErr(CodeTraceBackend, "", "failed to record request"))
	}

	tool, params, rerr := o.routeChat(ctx, tr.ID, req.Message, &res)
	if rerr != nil {
		return o.finish(ctx, res, rerr)
	}
	if res.Status == StatusHITLPending {
		return o.finish(ctx, res, nil)
	}

	if tool == "" {
		rerr = o.generate(ctx, tr.ID, req.Message, &res)
		return o.finish(ctx, res, rerr)
	}

	result, rerr := o.guardedExecute(ctx, tr.ID, tool, params, req.ApprovalID)
	res.Tool = tool
	if rerr != nil {
		return o.finish(ctx, res, rerr)
	}
	res.Value = result.Value
	if s, ok := result.Value.(string); ok {
		res.Content = s
	}
	res.Truncated = result.Truncated
	res.SandboxUsed = result.SandboxUsed
	return o.finish(ctx, res, nil)
}

// routeChat resolves the tool for a chat request. An empty tool with no
// error means the generative path. HITL deferrals set res.Status and return
// no tool.
func (o *Orchestrator) routeChat(ctx context.Context, traceID, message string, res *ChatResult) (string, map[string]any, *RequestError) {
	if o.router == nil {
		t, p := o.legacyRoute(message)
		return t, p, nil
	}

	d := o.router.Route(ctx, message, traceID)
	if d.DenyReason == intent.ReasonDisabled {
		t, p := o.legacyRoute(message)
		return t, p, nil
	}
	res.DecisionID = d.DecisionID
	res.TierUsed = d.TierUsed
	if o.metrics != nil {
		o.metrics.Intent.RecordDecision(
			strconv.Itoa(d.TierUsed),
			orFirst(d.DenyReason, d.Tool(), "no_match"),
			d.Evidence["cache_hit"] == true,
			d.RequiresHITL,
		)
	}

	if o.router.Shadow() {
		t, p := o.legacyRoute(message)
		if t != d.Tool() {
			o.logger.InfoContext(ctx, "shadow decision diverged from legacy route",
				"trace_id", traceID,
				"legacy_tool", t,
				"shadow_tool", d.Tool(),
				"decision_id", d.DecisionID,
			)
			if o.metrics != nil {
				o.metrics.Intent.RecordShadowDivergence()
			}
		}
		return t, p, nil
	}

	if d.RequiresHITL {
		res.Status = StatusHITLPending
		res.HITLRequestID, _ = d.Evidence["hitl_request_id"].(string)
		res.Message, _ = d.Evidence["hitl_message"].(string)
		return "", nil, nil
	}
	if d.Denied() {
		return "", nil, requestErr(CodeIntentDenied, d.DenyReason, "request blocked by intent router")
	}
	return d.Tool(), d.ToolParams, nil
}

func (o *Orchestrator) legacyRoute(message string) (string, map[string]any) {
	if o.legacy == nil {
		return "", nil
	}
	rd := o.legacy.Route(message)
	return rd.Tool, rd.Params
}

// generate serves the generative path through the provider client and
// records a provider_call step.
func (o *Orchestrator) generate(ctx context.Context, traceID, message string, res *ChatResult) *RequestError {
	if o.provider == nil {
		return requestErr(CodeNoMatch, "", "no tool matched and no provider is configured")
	}

	resp, err := o.provider.Generate(ctx, []provider.Message{{Role: "user", Content: message}})
	payload := map[string]any{"provider": provider.ProviderName}
	var rerr *RequestError
	if err != nil {
		var perr *provider.Error
		kind := CodeProviderError
		if errors.As(err, &perr) {
			kind = perr.Kind
		}
		payload["status"] = StatusError
		payload["error_kind"] = kind
		rerr = requestErr(kind, "", "provider call failed")
	} else {
		payload["status"] = StatusOK
		payload["model"] = resp.Model
		payload["latency_ms"] = resp.LatencyMS
		payload["attempts"] = resp.Attempts
		payload["truncated"] = resp.Truncated
		payload["output_chars"] = len(resp.Content)
		res.Content = resp.Content
		res.Provider = resp.Provider
		res.Model = resp.Model
		res.Truncated = resp.Truncated
	}
	if o.metrics != nil {
		outcome := StatusOK
		if rerr != nil {
			outcome = rerr.Code
		}
		o.metrics.Provider.RecordCall(provider.ProviderName, outcome, float64(resp.LatencyMS)/1000)
		o.metrics.Provider.SetBreakerState(provider.ProviderName, o.provider.Breaker().State())
	}
	if _, err := o.ledger.AppendStep(ctx, traceID, trace.StepProviderCall, payload); err != nil {
		return requestErr(CodeTraceBackend, "", "failed to record provider call")
	}
	return rerr
}

// guardedExecute runs the policy gate, the approval gate, and the executor.
// Rejections carry the stage reason in the returned error.
func (o *Orchestrator) guardedExecute(ctx context.Context, traceID, tool string, params map[string]any, approvalID string) (tools.Result, *RequestError) {
	spec, ok := o.registry.Lookup(tool)
	if !ok {
		return tools.Result{}, requestErr(CodeToolNotFound, "", "unknown tool "+tool)
	}

	decision := o.engine.Check(tool, params, spec.Safe)
	if _, err := o.ledger.AppendStep(ctx, traceID, trace.StepPolicyCheck, map[string]any{
		"tool":        tool,
		"allowed":     decision.Allowed,
		"reason":      decision.Reason,
		"rule":        decision.Rule,
		"rule_index":  decision.RuleIndex,
		"policy_hash": decision.PolicyHash,
	}); err != nil {
		return tools.Result{}, requestErr(CodeTraceBackend, "", "failed to record policy check")
	}
	if !decision.Allowed {
		return tools.Result{}, requestErr(CodePolicyDenied, decision.Reason, "tool blocked by policy")
	}

	if !spec.Safe && o.config.ApprovalsEnforced {
		check, err := o.approvals.ValidateAndConsume(ctx, approvalID, tool, params)
		if err != nil {
			return tools.Result{}, requestErr(CodeApprovalBackend, "", "approval validation failed")
		}
		if o.metrics != nil {
			o.metrics.Approvals.RecordValidation(check.Reason)
		}
		if _, err := o.ledger.AppendStep(ctx, traceID, trace.StepApprovalCheck, map[string]any{
			"tool":        tool,
			"ok":          check.OK,
			"reason":      check.Reason,
			"approval_id": approvalID,
		}); err != nil {
			return tools.Result{}, requestErr(CodeTraceBackend, "", "failed to record approval check")
		}
		if !check.OK {
			return tools.Result{}, requestErr(CodeApprovalRequired, check.Reason, "tool requires a valid approval")
		}
	}

	result := o.executor.Execute(ctx, tool, params, traceID)
	if result.Status == tools.StatusError {
		return result, requestErr(result.ErrorCode, "", result.Error)
	}
	return result, nil
}

// finish emits the terminal trace step, closes the trace, and folds the
// error into the result. Terminal writes survive request cancellation.
func (o *Orchestrator) finish(ctx context.Context, res ChatResult, rerr *RequestError) (ChatResult, error) {
	if ctxErr := classifyCtxErr(ctx); ctxErr != nil {
		rerr = ctxErr
	}

	wctx := context.WithoutCancel(ctx)
	stepType := trace.StepResponseSent
	closeStatus := trace.StatusClosed
	payload := map[string]any{"status": res.Status}
	if rerr != nil {
		res.Status = StatusError
		payload["status"] = StatusError
		payload["error"] = rerr.Code
		if rerr.Reason != "" {
			payload["reason"] = rerr.Reason
		}
		closeStatus = trace.StatusFailed
		if rerr.Code == CodeCancelled || rerr.Code == CodeDeadlineExceeded {
			stepType = trace.StepCancelled
		}
	}

	if _, err := o.ledger.AppendStep(wctx, res.TraceID, stepType, payload); err != nil {
		o.logger.ErrorContext(wctx, "failed to record terminal step",
			"trace_id", res.TraceID,
			"error", err,
		)
		if rerr == nil {
			rerr = requestErr(CodeTraceBackend, "", "failed to record response")
			res.Status = StatusError
			closeStatus = trace.StatusFailed
		}
	}
	if err := o.ledger.CloseTrace(wctx, res.TraceID, closeStatus); err != nil {
		o.logger.ErrorContext(wctx, "failed to close trace",
			"trace_id", res.TraceID,
			"error", err,
		)
	}
	if rerr != nil {
		return res, rerr
	}
	return res, nil
}

func orFirst(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
