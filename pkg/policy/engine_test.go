package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool_policy.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write policy: %v", err)
	}
	return path
}

const basicPolicy = `
rules:
  - match: "^safe_"
    action: allow
    reason: safe_prefix
  - match: "^python_exec$"
    action: allow
    reason: allow_short_code
    conditions:
      input_param: code
      max_input_len: 5
  - match: "danger"
    action: deny
    reason: dangerous_tool
`

func newTestEngine(t *testing.T, content string, enforce bool) *Engine {
	t.Helper()
	e, err := NewEngine(EngineConfig{Enforce: enforce, Path: writePolicy(t, content)})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

func TestCheckDisabled(t *testing.T) {
	e := newTestEngine(t, basicPolicy, false)
	d := e.Check("anything_at_all", nil, false)
	if !d.Allowed || d.Reason != ReasonDisabled {
		t.Errorf("unexpected decision: %+v", d)
	}
	if d.PolicyHash == "" {
		t.Errorf("decision missing policy hash")
	}
}

func TestCheckMissingPolicy(t *testing.T) {
	e, err := NewEngine(EngineConfig{Enforce: true, Path: filepath.Join(t.TempDir(), "absent.yaml")})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	d := e.Check("echo", nil, true)
	if d.Allowed || d.Reason != ReasonMissing {
		t.Errorf("unexpected decision: %+v", d)
	}
}

func TestCheckRuleOrdering(t *testing.T) {
	e := newTestEngine(t, basicPolicy, true)

	tests := []struct {
		name    string
		tool    string
		args    map[string]any
		safe    bool
		allowed bool
		reason  string
		index   int
	}{
		{"first rule wins", "safe_calc", nil, true, true, "safe_prefix", 0},
		{"deny rule", "dangerous_tool", nil, true, false, "dangerous_tool", 2},
		{"no match default deny", "unlisted", nil, true, false, ReasonDefaultDeny, -1},
		{"case insensitive match", "SAFE_CALC", nil, true, true, "safe_prefix", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Check(tt.tool, tt.args, tt.safe)
			if d.Allowed != tt.allowed || d.Reason != tt.reason || d.RuleIndex != tt.index {
				t.Errorf("Check(%q) = %+v", tt.tool, d)
			}
		})
	}
}

func TestCheckConditions(t *testing.T) {
	e := newTestEngine(t, basicPolicy, true)

	// Condition holds: the allow rule decides.
	d := e.Check("python_exec", map[string]any{"code": "12345"}, false)
	if !d.Allowed || d.Reason != "allow_short_code" {
		t.Errorf("short code: %+v", d)
	}

	// Condition fails: the rule is skipped, falling through to default deny.
	d = e.Check("python_exec", map[string]any{"code": "123456"}, false)
	if d.Allowed || d.Reason != ReasonDefaultDeny {
		t.Errorf("long code: %+v", d)
	}

	// Missing input param also fails the condition.
	d = e.Check("python_exec", map[string]any{}, false)
	if d.Allowed || d.Reason != ReasonDefaultDeny {
		t.Errorf("missing param: %+v", d)
	}
}

func TestCheckRequiredFlags(t *testing.T) {
	e := newTestEngine(t, `
rules:
  - match: "^exporter$"
    action: allow
    reason: flagged_ok
    conditions:
      required_flags: [confirmed]
`, true)

	d := e.Check("exporter", map[string]any{"confirmed": true}, true)
	if !d.Allowed || d.Reason != "flagged_ok" {
		t.Errorf("flag set: %+v", d)
	}
	d = e.Check("exporter", map[string]any{"confirmed": false}, true)
	if d.Allowed {
		t.Errorf("false flag must not satisfy the condition: %+v", d)
	}
	d = e.Check("exporter", nil, true)
	if d.Allowed {
		t.Errorf("absent flag must not satisfy the condition: %+v", d)
	}
}

func TestCheckRequireSafe(t *testing.T) {
	e := newTestEngine(t, `
rules:
  - match: ".*"
    action: allow
    reason: open_house
    require_safe: true
`, true)

	d := e.Check("echo", nil, true)
	if !d.Allowed {
		t.Errorf("safe tool: %+v", d)
	}
	d = e.Check("python_exec", nil, false)
	if d.Allowed || d.Reason != ReasonRequiresSafe {
		t.Errorf("unsafe tool: %+v", d)
	}
}

func TestReloadPublishesNewHash(t *testing.T) {
	path := writePolicy(t, basicPolicy)
	e, err := NewEngine(EngineConfig{Enforce: true, Path: path})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	oldHash := e.PolicyHash()

	var notified []string
	e.Subscribe(func(hash string) { notified = append(notified, hash) })

	if err := os.WriteFile(path, []byte(`rules: [{match: ".*", action: deny, reason: lockdown}]`), 0o644); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	if err := e.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if e.PolicyHash() == oldHash {
		t.Errorf("hash unchanged after content change")
	}
	if len(notified) != 1 || notified[0] != e.PolicyHash() {
		t.Errorf("subscriber not notified with new hash: %v", notified)
	}

	d := e.Check("echo", nil, true)
	if d.Allowed || d.Reason != "lockdown" {
		t.Errorf("new rules not in effect: %+v", d)
	}

	// Reload without change must not notify again.
	if err := e.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if len(notified) != 1 {
		t.Errorf("unchanged reload notified subscribers: %v", notified)
	}
}

func TestReloadRejectsBadDocument(t *testing.T) {
	path := writePolicy(t, basicPolicy)
	e, err := NewEngine(EngineConfig{Enforce: true, Path: path})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	oldHash := e.PolicyHash()

	if err := os.WriteFile(path, []byte(`rules: [{match: "([", action: allow}]`), 0o644); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	if err := e.Reload(); err == nil {
		t.Fatalf("expected reload error for invalid regex")
	}
	// The previous snapshot stays live.
	if e.PolicyHash() != oldHash {
		t.Errorf("snapshot replaced despite failed reload")
	}
	if d := e.Check("safe_calc", nil, true); !d.Allowed {
		t.Errorf("old rules gone after failed reload: %+v", d)
	}
}

func TestSnapshotIntentSections(t *testing.T) {
	e := newTestEngine(t, `
rules:
  - match: ".*"
    action: allow
intents:
  - name: calc
    min_confidence_tier2: 0.9
  - name: deploy
    tier3_required: true
intent_router:
  deny_patterns: ["rm -rf"]
  allow_patterns: ["^ping$"]
  hitl:
    message: waiting on a human
`, true)

	snap := e.Snapshot()
	calc, ok := snap.Intent("calc")
	if !ok || calc.MinConfidenceTier2 != 0.9 {
		t.Errorf("calc intent: %+v ok=%v", calc, ok)
	}
	deploy, ok := snap.Intent("deploy")
	if !ok || !deploy.Tier3Required {
		t.Errorf("deploy intent: %+v ok=%v", deploy, ok)
	}
	if _, ok := snap.Intent("absent"); ok {
		t.Errorf("unknown intent resolved")
	}
	router := snap.Router()
	if len(router.DenyPatterns) != 1 || router.HITL.Message != "waiting on a human" {
		t.Errorf("router section: %+v", router)
	}
}
