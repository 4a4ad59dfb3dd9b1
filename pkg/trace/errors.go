package trace

import "fmt"

// BackendError indicates the ledger's storage backend failed. Appends that
// return it must fail the request; decisions are never made off-ledger.
type BackendError struct {
	Op      string
	TraceID string
	Cause   error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("trace backend error during %s (trace %s): %v", e.Op, e.TraceID, e.Cause)
}

func (e *BackendError) Unwrap() error {
	return e.Cause
}

// NotFoundError indicates the requested trace does not exist.
type NotFoundError struct {
	TraceID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("trace %s not found", e.TraceID)
}
