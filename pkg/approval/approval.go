// Package approval implements single-use, TTL-bound tool approvals. An
// approval binds a tool name to the hash of the exact arguments it was
// granted for; execution consumes it atomically so a token can never
// authorize two runs or a different payload.
package approval

import "time"

// Approval statuses.
const (
	StatusPending  = "pending"
	StatusConsumed = "consumed"
	StatusExpired  = "expired"
)

// Validation outcomes. Rejection reasons are surfaced verbatim in responses
// and trace steps.
const (
	ReasonApproved         = "approved"
	ReasonMissingApproval  = "missing_approval"
	ReasonUnknownApproval  = "unknown_approval"
	ReasonAlreadyConsumed  = "already_consumed"
	ReasonToolMismatch     = "tool_mismatch"
	ReasonArgsHashMismatch = "args_hash_mismatch"
	ReasonExpired          = "expired"
)

// DefaultTTL is the approval lifetime when no TTL is given.
const DefaultTTL = 15 * time.Minute

// Approval is a granted, single-use permission for one tool call.
type Approval struct {
	ID         string     `json:"approval_id"`
	ToolName   string     `json:"tool_name"`
	ArgsHash   string     `json:"args_hash"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	Status     string     `json:"status"`
}

// Result is the outcome of ValidateAndConsume.
type Result struct {
	OK       bool      `json:"ok"`
	Reason   string    `json:"reason"`
	Approval *Approval `json:"approval,omitempty"`
}
