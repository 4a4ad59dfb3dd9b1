// Package policy implements the tool policy engine. Rules are loaded from a
// YAML document, evaluated in order, and stamped with the hash of the
// document they came from so every decision is attributable to an exact
// policy version.
package policy

import "time"

// Decision reasons emitted by the engine itself. Rule hits carry the rule's
// own reason string instead.
const (
	ReasonDisabled     = "policy_disabled"
	ReasonMissing      = "policy_missing"
	ReasonRequiresSafe = "policy_requires_safe"
	ReasonDefaultDeny  = "policy_default_deny"
)

// Rule actions.
const (
	ActionAllow = "allow"
	ActionDeny  = "deny"
)

// Conditions gate a rule on properties of the call arguments. A rule whose
// conditions are not met is skipped, not converted to a deny.
type Conditions struct {
	// InputParam names the argument inspected by MaxInputLen.
	InputParam string `yaml:"input_param"`

	// MaxInputLen is the maximum character length of InputParam's value.
	// Zero disables the length check.
	MaxInputLen int `yaml:"max_input_len"`

	// RequiredFlags are argument keys that must be present and truthy.
	RequiredFlags []string `yaml:"required_flags"`
}

// Rule is one entry in the ordered policy rule list.
type Rule struct {
	// Match is a regular expression applied to the tool name,
	// case-insensitively.
	Match string `yaml:"match"`

	// Action is "allow" or "deny". Default: allow
	Action string `yaml:"action"`

	// Reason is surfaced in decisions that hit this rule.
	// Default: "policy_rule"
	Reason string `yaml:"reason"`

	// RequireSafe denies unsafe tools that match this rule.
	RequireSafe bool `yaml:"require_safe"`

	// Conditions optionally gate the rule on the call arguments.
	Conditions *Conditions `yaml:"conditions"`
}

// IntentPolicy carries the per-intent routing thresholds read by the intent
// router.
type IntentPolicy struct {
	// Name is the intent identifier the thresholds apply to.
	Name string `yaml:"name"`

	// Tier3Required forces HITL review whenever this intent wins.
	Tier3Required bool `yaml:"tier3_required"`

	// MinConfidenceTier2 overrides the router's confidence floor for
	// semantic matches of this intent. Zero keeps the global floor.
	MinConfidenceTier2 float64 `yaml:"min_confidence_tier2"`

	// MinGapTier2 overrides the router's ambiguity gap for this intent.
	// Zero keeps the global gap.
	MinGapTier2 float64 `yaml:"min_gap_tier2"`
}

// RouterPolicy configures the intent router's pattern tier and HITL message.
type RouterPolicy struct {
	// DenyPatterns short-circuit routing to a deny before any matching.
	DenyPatterns []string `yaml:"deny_patterns"`

	// AllowPatterns bypass the semantic tiers entirely.
	AllowPatterns []string `yaml:"allow_patterns"`

	// HITL configures the message returned while a request waits on review.
	HITL struct {
		Message string `yaml:"message"`
	} `yaml:"hitl"`
}

// Document is the on-disk shape of the policy file.
type Document struct {
	Rules        []Rule         `yaml:"rules"`
	Intents      []IntentPolicy `yaml:"intents"`
	IntentRouter RouterPolicy   `yaml:"intent_router"`
}

// Decision is the outcome of a policy check.
type Decision struct {
	// Allowed reports whether the call may proceed.
	Allowed bool `json:"allowed"`

	// Reason is the engine or rule reason string.
	Reason string `json:"reason"`

	// Rule is the match pattern of the rule that decided, if any.
	Rule string `json:"rule,omitempty"`

	// RuleIndex is the position of the deciding rule, -1 when no rule hit.
	RuleIndex int `json:"rule_index"`

	// PolicyHash identifies the policy document version that decided.
	PolicyHash string `json:"policy_hash"`
}

// Snapshot is one immutable, parsed policy version. Readers that capture a
// snapshot keep decided state even across a concurrent reload.
type Snapshot struct {
	rules    []compiledRule
	intents  map[string]IntentPolicy
	router   RouterPolicy
	hash     string
	loadedAt time.Time
}

// Hash returns the policy hash of this snapshot.
func (s *Snapshot) Hash() string { return s.hash }

// LoadedAt returns when this snapshot was published.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Intent returns the per-intent thresholds for name, if configured.
func (s *Snapshot) Intent(name string) (IntentPolicy, bool) {
	ip, ok := s.intents[name]
	return ip, ok
}

// Router returns the intent router section of this snapshot.
func (s *Snapshot) Router() RouterPolicy { return s.router }

// RuleCount returns the number of loaded rules.
func (s *Snapshot) RuleCount() int { return len(s.rules) }
