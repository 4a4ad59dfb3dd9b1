package provider

import "fmt"

// Error kinds. Timeout and network failures feed the circuit breaker;
// protocol and model rejections do not, since retrying them against a
// healthy provider would produce the same answer.
const (
	KindTimeout         = "timeout"
	KindNetwork         = "network"
	KindProtocol        = "protocol"
	KindModelRejected   = "model_rejected"
	KindCircuitOpen     = "circuit_open"
	KindNetworkDisabled = "network_disabled"
)

// Error is a classified provider failure.
type Error struct {
	Kind     string
	Provider string
	Detail   string
	Cause    error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("provider %s: %s: %s", e.Provider, e.Kind, e.Detail)
	}
	if e.Cause != nil {
		return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Cause)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// countsAsBreakerFailure reports whether an error kind should trip the
// breaker.
func countsAsBreakerFailure(kind string) bool {
	return kind == KindTimeout || kind == KindNetwork
}
