package trace

import "time"

// Step types emitted by the core. Handlers may emit additional types; the
// ledger treats the type as an opaque tag.
const (
	StepRequestReceived   = "request_received"
	StepIntentRouter      = "intent_router"
	StepIntentShadow      = "intent_router_shadow"
	StepPolicyCheck       = "policy_check"
	StepApprovalCheck     = "approval_check"
	StepToolExecute       = "tool_execute"
	StepProviderCall      = "provider_call"
	StepResponseSent      = "response_sent"
	StepCancelled         = "cancelled"
	StepMemoryWrite       = "memory_write_decision"
	StepSemanticGuard     = "semantic_ambiguity_guard"
)

// Trace statuses.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
	StatusFailed = "failed"
)

// ZeroChain is the chain hash preceding the first step of every trace.
const ZeroChain = "0000000000000000000000000000000000000000000000000000000000000000"

// Trace is one request's append-only decision record.
type Trace struct {
	ID        string         `json:"trace_id"`
	CreatedAt time.Time      `json:"created_at"`
	Status    string         `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Step is a single entry in a trace. Steps are ordered by Position and
// chained by ChainHash; they never mutate after insert.
type Step struct {
	TraceID    string         `json:"trace_id"`
	Position   int            `json:"position"`
	StepType   string         `json:"step_type"`
	CreatedAt  time.Time      `json:"created_at"`
	Payload    map[string]any `json:"payload"`
	EventHash  string         `json:"event_hash"`
	ChainHash  string         `json:"chain_hash"`
	Redactions int            `json:"redactions,omitempty"`
}

// VerifyReport is the result of recomputing a trace's hash chain.
type VerifyReport struct {
	TraceID   string `json:"trace_id"`
	ChainHash string `json:"chain_hash"`
	StepCount int    `json:"step_count"`
	Verified  bool   `json:"verified"`
	Reason    string `json:"reason"`
}
