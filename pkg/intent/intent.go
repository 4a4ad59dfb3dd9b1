// Package intent implements the four-tier intent router: rule gate, cache,
// semantic matching, and human-in-the-loop review. Every decision is stamped
// with the policy hash it was made under and recorded as a trace step.
package intent

// Deny and status reasons surfaced in decisions.
const (
	ReasonDisabled      = "intent_router_disabled"
	ReasonNoMatch       = "no_match"
	ReasonTier0Deny     = "tier0_deny"
	ReasonTier3Required = "tier3_required"
	ReasonHITLRequired  = "hitl_required"
	ReasonAmbiguous     = "semantic_ambiguity"
)

// Candidate is one semantically scored tool.
type Candidate struct {
	Tool  string  `json:"tool"`
	Score float64 `json:"score"`
}

// Decision is the outcome of routing one input.
type Decision struct {
	DecisionID   string         `json:"decision_id"`
	PolicyHash   string         `json:"policy_hash"`
	TierUsed     int            `json:"tier_used"`
	IntentID     string         `json:"intent_id,omitempty"`
	AllowedTools []string       `json:"allowed_tools"`
	ToolParams   map[string]any `json:"tool_params"`
	RequiresHITL bool           `json:"requires_hitl"`
	Confidence   float64        `json:"confidence"`
	Gap          *float64       `json:"gap,omitempty"`
	DenyReason   string         `json:"deny_reason,omitempty"`
	Evidence     map[string]any `json:"evidence"`
	Cacheable    bool           `json:"cacheable"`
}

// Denied reports whether the decision blocks execution outright.
func (d Decision) Denied() bool {
	return d.DenyReason != "" && !d.RequiresHITL
}

// Tool returns the bound tool, empty when none was selected.
func (d Decision) Tool() string {
	return d.IntentID
}
