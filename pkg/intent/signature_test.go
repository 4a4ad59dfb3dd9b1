package intent

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases and trims", "  Hello World  ", "hello world"},
		{"collapses whitespace", "a\t\tb\n\nc", "a b c"},
		{"strips control chars", "a\x00b\x1fc", "a b c"},
		{"scrubs bearer token", "use Bearer abc.DEF-123 now", "use [redacted] now"},
		{"scrubs api key", "key sk-abcdefghijklmnopqrstuvwxyz please", "key [redacted] please"},
		{"scrubs email", "mail bob@example.com today", "mail [redacted] today"},
		{"scrubs ssn", "ssn 123-45-6789 here", "ssn [redacted] here"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSignatureStableAcrossSecrets(t *testing.T) {
	a := Signature(Normalize("run with Bearer aaaa1111"))
	b := Signature(Normalize("run with Bearer bbbb2222"))
	if a != b {
		t.Errorf("signatures differ for inputs equal after scrubbing: %s vs %s", a, b)
	}
	if len(a) != signatureLen {
		t.Errorf("signature length = %d, want %d", len(a), signatureLen)
	}
	if strings.ToLower(a) != a {
		t.Errorf("signature not lowercase hex: %s", a)
	}
}

func TestSignatureDistinctInputs(t *testing.T) {
	if Signature("calculate 2+2") == Signature("echo hello") {
		t.Error("distinct inputs produced the same signature")
	}
}

func TestDefaultRules(t *testing.T) {
	r := NewRuleRouter()
	for _, rule := range DefaultRules() {
		r.Add(rule)
	}

	tests := []struct {
		name       string
		input      string
		wantTool   string
		wantReason string
	}{
		{"calc keyword", "please calc 2 + 3", "safe_calc", "keyword_calc"},
		{"calculate keyword", "Calculate 10 * 4", "safe_calc", "keyword_calc"},
		{"echo keyword", "echo hello there", "echo", "keyword_echo"},
		{"no match", "tell me a story", "", ReasonNoMatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := r.Route(tt.input)
			if d.Tool != tt.wantTool {
				t.Fatalf("tool = %q, want %q", d.Tool, tt.wantTool)
			}
			if d.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", d.Reason, tt.wantReason)
			}
		})
	}
}

func TestRuleRouterFirstMatchWins(t *testing.T) {
	r := NewRuleRouter()
	r.Add(Rule{Tool: "first", Predicate: func(string) bool { return true }, Confidence: 0.7, Reason: "always"})
	r.Add(Rule{Tool: "second", Predicate: func(string) bool { return true }, Confidence: 0.9, Reason: "never_reached"})

	d := r.Route("anything")
	if d.Tool != "first" || d.Reason != "always" {
		t.Errorf("unexpected decision: %+v", d)
	}
}

func TestRuleRouterParamBuild(t *testing.T) {
	r := NewRuleRouter()
	for _, rule := range DefaultRules() {
		r.Add(rule)
	}
	d := r.Route("calc 2 + 3")
	expr, ok := d.Params["expression"].(string)
	if !ok || !strings.Contains(expr, "2 + 3") {
		t.Errorf("expression param = %v", d.Params["expression"])
	}
}
