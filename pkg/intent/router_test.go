package intent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"mercator-hq/triton/pkg/policy"
	"mercator-hq/triton/pkg/tools"
	"mercator-hq/triton/pkg/trace"
)

const routerPolicy = `
rules:
  - match: ".*"
    action: allow
    reason: allow_all
intents:
  - name: python_exec
    tier3_required: true
  - name: summarize_text
    min_confidence_tier2: 0.95
intent_router:
  deny_patterns:
    - "rm\\s+-rf"
  allow_patterns:
    - "^status report$"
  hitl:
    message: "Hold on, a human is checking."
`

func newRouterPolicyEngine(t *testing.T, content string) *policy.Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool_policy.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write policy: %v", err)
	}
	e, err := policy.NewEngine(policy.EngineConfig{Enforce: true, Path: path})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

// fakeEmbedder maps texts to fixed vectors by prefix so tests control the
// cosine scores exactly.
type fakeEmbedder struct {
	vectors map[string][]float64
	input   []float64
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	for prefix, vec := range f.vectors {
		if strings.HasPrefix(text, prefix) {
			return vec, nil
		}
	}
	return f.input, nil
}

type recordedStep struct {
	TraceID  string
	StepType string
	Payload  map[string]any
}

type fakeRecorder struct {
	mu    sync.Mutex
	steps []recordedStep
}

func (f *fakeRecorder) AppendStep(_ context.Context, traceID, stepType string, payload map[string]any) (trace.Step, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps = append(f.steps, recordedStep{TraceID: traceID, StepType: stepType, Payload: payload})
	return trace.Step{TraceID: traceID, StepType: stepType}, nil
}

func (f *fakeRecorder) last(t *testing.T) recordedStep {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.steps) == 0 {
		t.Fatal("no trace steps recorded")
	}
	return f.steps[len(f.steps)-1]
}

func semanticFixture(t *testing.T, input, calcVec, echoVec []float64) *SemanticRouter {
	t.Helper()
	reg := tools.NewRegistry()
	for _, spec := range []tools.ToolSpec{
		{Name: "safe_calc", Description: "Evaluate arithmetic expressions", Safe: true},
		{Name: "echo", Description: "Echo a message back", Safe: true},
	} {
		if err := reg.Register(spec); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	emb := &fakeEmbedder{
		vectors: map[string][]float64{
			"safe_calc:": calcVec,
			"echo:":      echoVec,
		},
		input: input,
	}
	return NewSemanticRouter(reg, emb, true)
}

func newTestRouter(t *testing.T, cfg RouterConfig, semantic *SemanticRouter, engine *policy.Engine) (*Router, *fakeRecorder, *HITLQueue) {
	t.Helper()
	if engine == nil {
		engine = newRouterPolicyEngine(t, routerPolicy)
	}
	rules := NewRuleRouter()
	for _, rule := range DefaultRules() {
		rules.Add(rule)
	}
	cache, err := NewCache(CacheConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "cache.db"), TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	hitl, err := NewHITLQueue(HITLConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "hitl.db")})
	if err != nil {
		t.Fatalf("NewHITLQueue failed: %v", err)
	}
	t.Cleanup(func() { hitl.Close() })

	rec := &fakeRecorder{}
	return NewRouter(cfg, rules, semantic, cache, hitl, engine, rec), rec, hitl
}

func TestRouteDisabled(t *testing.T) {
	r, rec, _ := newTestRouter(t, RouterConfig{Enabled: false}, nil, nil)
	d := r.Route(context.Background(), "calc 2 + 2", "t-1")
	if d.DenyReason != ReasonDisabled {
		t.Errorf("deny_reason = %q, want %q", d.DenyReason, ReasonDisabled)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.steps) != 0 {
		t.Errorf("disabled router recorded %d steps", len(rec.steps))
	}
}

func TestRouteTier0Deny(t *testing.T) {
	r, rec, _ := newTestRouter(t, RouterConfig{Enabled: true}, nil, nil)
	d := r.Route(context.Background(), "please RM -RF / now", "t-1")
	if d.DenyReason != ReasonTier0Deny || d.TierUsed != 0 {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if d.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0", d.Confidence)
	}
	step := rec.last(t)
	if step.StepType != trace.StepIntentRouter {
		t.Errorf("step type = %q", step.StepType)
	}
	if step.Payload["deny_reason"] != ReasonTier0Deny {
		t.Errorf("step payload deny_reason = %v", step.Payload["deny_reason"])
	}
}

func TestRouteTier0RuleMatch(t *testing.T) {
	r, _, _ := newTestRouter(t, RouterConfig{Enabled: true}, nil, nil)
	d := r.Route(context.Background(), "calc 6 * 7", "t-1")
	if d.Tool() != "safe_calc" || d.TierUsed != 0 {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if d.RequiresHITL || d.DenyReason != "" {
		t.Errorf("rule match should bind directly: %+v", d)
	}
	if d.ToolParams["expression"] == "" {
		t.Error("missing expression param")
	}
}

func TestRouteTier0AllowPattern(t *testing.T) {
	r, _, _ := newTestRouter(t, RouterConfig{Enabled: true}, nil, nil)
	d := r.Route(context.Background(), "status report", "t-1")
	if d.IntentID != "allow_pattern" || d.Confidence != 0.9 {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestRouteEmptyInput(t *testing.T) {
	r, _, _ := newTestRouter(t, RouterConfig{Enabled: true, DefaultTool: "echo"}, nil, nil)
	d := r.Route(context.Background(), "   ", "t-1")
	if d.Tool() != "echo" {
		t.Fatalf("default tool not bound: %+v", d)
	}

	r2, _, _ := newTestRouter(t, RouterConfig{Enabled: true}, nil, nil)
	d2 := r2.Route(context.Background(), "", "t-1")
	if d2.Tool() != "" || d2.Denied() {
		t.Errorf("empty input without default should be a plain no_match: %+v", d2)
	}
}

func TestRouteTier2Accept(t *testing.T) {
	sem := semanticFixture(t, []float64{1, 0}, []float64{1, 0}, []float64{0, 1})
	r, rec, _ := newTestRouter(t, RouterConfig{Enabled: true}, sem, nil)

	d := r.Route(context.Background(), "what is six times seven", "t-1")
	if d.Tool() != "safe_calc" || d.TierUsed != 2 {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if !d.Cacheable || d.RequiresHITL {
		t.Errorf("accepted match should be cacheable: %+v", d)
	}
	if d.Gap == nil || *d.Gap < 0.9 {
		t.Errorf("gap = %v", d.Gap)
	}
	if _, ok := rec.last(t).Payload["gap"]; !ok {
		t.Error("gap missing from trace payload")
	}
}

func TestRouteTier2CachedOnSecondCall(t *testing.T) {
	sem := semanticFixture(t, []float64{1, 0}, []float64{1, 0}, []float64{0, 1})
	r, _, _ := newTestRouter(t, RouterConfig{Enabled: true}, sem, nil)
	ctx := context.Background()

	first := r.Route(ctx, "what is six times seven", "t-1")
	if first.TierUsed != 2 {
		t.Fatalf("first call tier = %d", first.TierUsed)
	}
	second := r.Route(ctx, "What is six   times SEVEN", "t-2")
	if second.TierUsed != 1 {
		t.Fatalf("second call tier = %d, want cache hit", second.TierUsed)
	}
	if second.Evidence["cache_hit"] != true {
		t.Errorf("cache_hit evidence missing: %+v", second.Evidence)
	}
	if second.Tool() != "safe_calc" {
		t.Errorf("cached tool = %q", second.Tool())
	}
}

func TestRouteTier2BelowFloorNoMatch(t *testing.T) {
	sem := semanticFixture(t, []float64{1, 1}, []float64{1, 0}, []float64{0, 1})
	r, _, _ := newTestRouter(t, RouterConfig{Enabled: true}, sem, nil)

	d := r.Route(context.Background(), "write a sonnet about autumn", "t-1")
	if d.Tool() != "" || d.RequiresHITL {
		t.Fatalf("low-confidence match should be no_match, not HITL: %+v", d)
	}
	if d.Cacheable {
		t.Error("no_match must not be cached")
	}
}

func TestRouteTier2TieGoesToHITL(t *testing.T) {
	sem := semanticFixture(t, []float64{1, 1}, []float64{1, 1}, []float64{1, 1})
	r, _, hitl := newTestRouter(t, RouterConfig{Enabled: true}, sem, nil)

	d := r.Route(context.Background(), "do the thing", "t-1")
	if !d.RequiresHITL || d.DenyReason != ReasonAmbiguous {
		t.Fatalf("exact tie should require review: %+v", d)
	}
	if d.Cacheable {
		t.Error("HITL decision must not be cached")
	}
	if d.Evidence["hitl_message"] != "Hold on, a human is checking." {
		t.Errorf("hitl_message = %v", d.Evidence["hitl_message"])
	}
	reqID, _ := d.Evidence["hitl_request_id"].(string)
	if reqID == "" {
		t.Fatal("missing hitl_request_id evidence")
	}
	req, err := hitl.Get(context.Background(), reqID)
	if err != nil || req.Status != HITLQueued {
		t.Errorf("queued request not found: %v %+v", err, req)
	}
}

func TestRouteTier3RequiredOverride(t *testing.T) {
	// python_exec wins cleanly but carries tier3_required.
	reg := tools.NewRegistry()
	if err := reg.Register(tools.ToolSpec{Name: "python_exec", Description: "Run python code"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := reg.Register(tools.ToolSpec{Name: "echo", Description: "Echo a message back"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	emb := &fakeEmbedder{
		vectors: map[string][]float64{
			"python_exec:": {1, 0},
			"echo:":        {0, 1},
		},
		input: []float64{1, 0},
	}
	sem := NewSemanticRouter(reg, emb, true)
	r, _, _ := newTestRouter(t, RouterConfig{Enabled: true}, sem, nil)

	d := r.Route(context.Background(), "run this snippet for me", "t-1")
	if !d.RequiresHITL || d.DenyReason != ReasonTier3Required {
		t.Fatalf("tier3_required intent should route to review: %+v", d)
	}
	if d.Tool() != "python_exec" {
		t.Errorf("tool = %q", d.Tool())
	}
}

func TestRoutePerIntentConfidenceOverride(t *testing.T) {
	// summarize_text requires 0.95; a 0.9 match is no_match for it.
	reg := tools.NewRegistry()
	if err := reg.Register(tools.ToolSpec{Name: "summarize_text", Description: "Summarize text"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	emb := &fakeEmbedder{
		vectors: map[string][]float64{"summarize_text:": {1, 0.484}},
		input:   []float64{1, 0},
	}
	sem := NewSemanticRouter(reg, emb, true)
	r, _, _ := newTestRouter(t, RouterConfig{Enabled: true}, sem, nil)

	d := r.Route(context.Background(), "condense this for me", "t-1")
	if d.Tool() != "" {
		t.Fatalf("match below per-intent floor should be no_match: %+v", d)
	}
}

func TestRouteShadowStepType(t *testing.T) {
	r, rec, _ := newTestRouter(t, RouterConfig{Enabled: true, Shadow: true}, nil, nil)
	d := r.Route(context.Background(), "calc 1 + 1", "t-1")
	if d.Tool() != "safe_calc" {
		t.Fatalf("shadow mode changed the decision: %+v", d)
	}
	if rec.last(t).StepType != trace.StepIntentShadow {
		t.Errorf("step type = %q, want %q", rec.last(t).StepType, trace.StepIntentShadow)
	}
}
