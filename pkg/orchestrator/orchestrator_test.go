package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"mercator-hq/triton/pkg/approval"
	"mercator-hq/triton/pkg/intent"
	"mercator-hq/triton/pkg/policy"
	"mercator-hq/triton/pkg/tools"
	"mercator-hq/triton/pkg/trace"
	"mercator-hq/triton/pkg/trace/storage"
)

const allowAllPolicy = `
rules:
  - match: ".*"
    action: allow
    reason: allow_all
`

const denyEchoPolicy = `
rules:
  - match: "^echo$"
    action: deny
    reason: echo_blocked
  - match: ".*"
    action: allow
    reason: allow_all
`

// passingSandbox accepts every run and reports a canned result.
type passingSandbox struct{}

func (passingSandbox) Available() bool { return true }

func (passingSandbox) Run(_ context.Context, _ []string, _ map[string]any) (tools.SandboxResult, error) {
	return tools.SandboxResult{Status: "ok", Stdout: `{"result": 1}`}, nil
}

type harness struct {
	orch   *Orchestrator
	ledger *trace.Ledger
	store  *storage.MemoryStorage
}

func newHarness(t *testing.T, policyDoc string, routerEnabled, shadow bool) *harness {
	t.Helper()
	dir := t.TempDir()

	policyPath := filepath.Join(dir, "tool_policy.yaml")
	if err := os.WriteFile(policyPath, []byte(policyDoc), 0o644); err != nil {
		t.Fatalf("failed to write policy: %v", err)
	}
	engine, err := policy.NewEngine(policy.EngineConfig{Enforce: true, Path: policyPath})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	store := storage.NewMemoryStorage()
	ledger := trace.NewLedger(store, trace.DefaultLedgerConfig())

	approvals, err := approval.NewStore(approval.StoreConfig{Path: filepath.Join(dir, "approvals.db")})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { approvals.Close() })

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry); err != nil {
		t.Fatalf("RegisterBuiltins failed: %v", err)
	}
	executor := tools.NewExecutor(registry, passingSandbox{}, ledger, tools.ExecutorConfig{SandboxRequired: true})

	rules := intent.NewRuleRouter()
	for _, rule := range intent.DefaultRules() {
		rules.Add(rule)
	}
	var router *intent.Router
	if routerEnabled {
		router = intent.NewRouter(intent.RouterConfig{Enabled: true, Shadow: shadow}, rules, nil, nil, nil, engine, ledger)
	}

	orch := New(Config{ApprovalsEnforced: true}, Deps{
		Ledger:    ledger,
		Router:    router,
		Legacy:    rules,
		Engine:    engine,
		Approvals: approvals,
		Registry:  registry,
		Executor:  executor,
	})
	return &harness{orch: orch, ledger: ledger, store: store}
}

func (h *harness) stepTypes(t *testing.T, traceID string) []string {
	t.Helper()
	steps, err := h.ledger.ReadSteps(context.Background(), traceID)
	if err != nil {
		t.Fatalf("ReadSteps failed: %v", err)
	}
	types := make([]string, len(steps))
	for i, s := range steps {
		types[i] = s.StepType
	}
	return types
}

func reqErr(t *testing.T, err error) *RequestError {
	t.Helper()
	var rerr *RequestError
	if !errors.As(err, &rerr) {
		t.Fatalf("error is not a RequestError: %v", err)
	}
	return rerr
}

func TestHandleChatRuleHit(t *testing.T) {
	h := newHarness(t, allowAllPolicy, true, false)

	res, err := h.orch.HandleChat(context.Background(), ChatRequest{Message: "echo hello world"})
	if err != nil {
		t.Fatalf("HandleChat failed: %v", err)
	}
	if res.Tool != "echo" || res.TierUsed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Content != "Echo: hello world" {
		t.Errorf("content = %q", res.Content)
	}

	got := h.stepTypes(t, res.TraceID)
	want := []string{
		trace.StepRequestReceived,
		trace.StepIntentRouter,
		trace.StepPolicyCheck,
		trace.StepToolExecute,
		trace.StepResponseSent,
	}
	if len(got) != len(want) {
		t.Fatalf("step types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step %d = %q, want %q", i, got[i], want[i])
		}
	}

	tr, err := h.ledger.GetTrace(context.Background(), res.TraceID)
	if err != nil {
		t.Fatalf("GetTrace failed: %v", err)
	}
	if tr.Status != trace.StatusClosed {
		t.Errorf("trace status = %q", tr.Status)
	}
}

func TestHandleChatPolicyDenied(t *testing.T) {
	h := newHarness(t, denyEchoPolicy, true, false)

	res, err := h.orch.HandleChat(context.Background(), ChatRequest{Message: "echo hello"})
	rerr := reqErr(t, err)
	if rerr.Code != CodePolicyDenied || rerr.Reason != "echo_blocked" {
		t.Fatalf("unexpected error: %+v", rerr)
	}

	tr, err := h.ledger.GetTrace(context.Background(), res.TraceID)
	if err != nil {
		t.Fatalf("GetTrace failed: %v", err)
	}
	if tr.Status != trace.StatusFailed {
		t.Errorf("trace status = %q", tr.Status)
	}
}

func TestHandleChatNoMatchWithoutProvider(t *testing.T) {
	h := newHarness(t, allowAllPolicy, true, false)

	_, err := h.orch.HandleChat(context.Background(), ChatRequest{Message: "tell me a story"})
	if rerr := reqErr(t, err); rerr.Code != CodeNoMatch {
		t.Fatalf("unexpected error: %+v", rerr)
	}
}

func TestHandleChatShadowUsesLegacyRoute(t *testing.T) {
	h := newHarness(t, allowAllPolicy, true, true)

	res, err := h.orch.HandleChat(context.Background(), ChatRequest{Message: "calc 2 + 2"})
	if err != nil {
		t.Fatalf("HandleChat failed: %v", err)
	}
	if res.Tool != "safe_calc" {
		t.Fatalf("tool = %q", res.Tool)
	}

	got := h.stepTypes(t, res.TraceID)
	found := false
	for _, st := range got {
		if st == trace.StepIntentShadow {
			found = true
		}
		if st == trace.StepIntentRouter {
			t.Error("shadow mode recorded a binding intent step")
		}
	}
	if !found {
		t.Errorf("no shadow step in %v", got)
	}
}

func TestHandleExecuteApprovalFlow(t *testing.T) {
	h := newHarness(t, allowAllPolicy, false, false)
	ctx := context.Background()
	args := map[string]any{"code": "print(1)"}

	// Without a token the gate rejects before any execution.
	_, err := h.orch.HandleExecute(ctx, ExecuteRequest{Tool: "python_exec", Args: args})
	if rerr := reqErr(t, err); rerr.Code != CodeApprovalRequired || rerr.Reason != approval.ReasonMissingApproval {
		t.Fatalf("unexpected error: %+v", rerr)
	}

	granted, err := h.orch.HandleApprove(ctx, ApproveRequest{Tool: "python_exec", Args: args})
	if err != nil {
		t.Fatalf("HandleApprove failed: %v", err)
	}
	if granted.Status != approval.StatusPending {
		t.Fatalf("approval status = %q", granted.Status)
	}

	res, err := h.orch.HandleExecute(ctx, ExecuteRequest{Tool: "python_exec", Args: args, ApprovalID: granted.ID})
	if err != nil {
		t.Fatalf("HandleExecute failed: %v", err)
	}
	if !res.SandboxUsed {
		t.Error("unsafe tool did not use the sandbox")
	}

	// The same token cannot authorize a second run.
	_, err = h.orch.HandleExecute(ctx, ExecuteRequest{Tool: "python_exec", Args: args, ApprovalID: granted.ID})
	if rerr := reqErr(t, err); rerr.Reason != approval.ReasonAlreadyConsumed {
		t.Fatalf("unexpected error: %+v", rerr)
	}
}

func TestHandleExecuteArgsHashBinding(t *testing.T) {
	h := newHarness(t, allowAllPolicy, false, false)
	ctx := context.Background()

	granted, err := h.orch.HandleApprove(ctx, ApproveRequest{Tool: "python_exec", Args: map[string]any{"code": "print(1)"}})
	if err != nil {
		t.Fatalf("HandleApprove failed: %v", err)
	}

	_, err = h.orch.HandleExecute(ctx, ExecuteRequest{
		Tool:       "python_exec",
		Args:       map[string]any{"code": "print(2)"},
		ApprovalID: granted.ID,
	})
	if rerr := reqErr(t, err); rerr.Reason != approval.ReasonArgsHashMismatch {
		t.Fatalf("unexpected error: %+v", rerr)
	}
}

func TestHandleApproveUnknownTool(t *testing.T) {
	h := newHarness(t, allowAllPolicy, false, false)

	_, err := h.orch.HandleApprove(context.Background(), ApproveRequest{Tool: "no_such_tool"})
	if rerr := reqErr(t, err); rerr.Code != CodeToolNotFound {
		t.Fatalf("unexpected error: %+v", rerr)
	}
}

func TestHandleExecuteSafeToolSkipsApproval(t *testing.T) {
	h := newHarness(t, allowAllPolicy, false, false)

	res, err := h.orch.HandleExecute(context.Background(), ExecuteRequest{
		Tool: "safe_calc",
		Args: map[string]any{"expression": "6 * 7"},
	})
	if err != nil {
		t.Fatalf("HandleExecute failed: %v", err)
	}
	if res.Value != 42.0 {
		t.Errorf("value = %v", res.Value)
	}

	for _, st := range h.stepTypes(t, res.TraceID) {
		if st == trace.StepApprovalCheck {
			t.Error("safe tool went through the approval gate")
		}
	}
}
