package intent

import "strings"

// RouteDecision is the rule router's verdict.
type RouteDecision struct {
	Tool       string         `json:"tool,omitempty"`
	Params     map[string]any `json:"params"`
	Confidence float64        `json:"confidence"`
	Reason     string         `json:"reason"`
}

// Rule is one deterministic routing rule.
type Rule struct {
	Tool        string
	Predicate   func(input string) bool
	ParamBuild  func(input string) map[string]any
	Confidence  float64
	Reason      string
}

// RuleRouter evaluates rules in registration order; the first predicate hit
// wins.
type RuleRouter struct {
	rules []Rule
}

// NewRuleRouter creates an empty rule router.
func NewRuleRouter() *RuleRouter {
	return &RuleRouter{}
}

// Add appends a rule.
func (r *RuleRouter) Add(rule Rule) {
	r.rules = append(r.rules, rule)
}

// Route returns the first matching rule's decision, or no_match.
func (r *RuleRouter) Route(input string) RouteDecision {
	for _, rule := range r.rules {
		if rule.Predicate(input) {
			params := map[string]any{}
			if rule.ParamBuild != nil {
				params = rule.ParamBuild(input)
			}
			return RouteDecision{
				Tool:       rule.Tool,
				Params:     params,
				Confidence: rule.Confidence,
				Reason:     rule.Reason,
			}
		}
	}
	return RouteDecision{Params: map[string]any{}, Reason: ReasonNoMatch}
}

// stripKeyword removes the first occurrence of a routing keyword from the
// lowercased input.
func stripKeyword(input, keyword string) string {
	return strings.TrimSpace(strings.Replace(strings.ToLower(input), keyword, "", 1))
}

// DefaultRules returns the stock keyword rules for the builtin tools.
func DefaultRules() []Rule {
	return []Rule{
		{
			Tool: "safe_calc",
			Predicate: func(input string) bool {
				return strings.Contains(strings.ToLower(input), "calc")
			},
			ParamBuild: func(input string) map[string]any {
				return map[string]any{"expression": stripKeyword(input, "calc")}
			},
			Confidence: 0.8,
			Reason:     "keyword_calc",
		},
		{
			Tool: "echo",
			Predicate: func(input string) bool {
				return strings.Contains(strings.ToLower(input), "echo")
			},
			ParamBuild: func(input string) map[string]any {
				return map[string]any{"message": stripKeyword(input, "echo")}
			},
			Confidence: 0.6,
			Reason:     "keyword_echo",
		},
	}
}
