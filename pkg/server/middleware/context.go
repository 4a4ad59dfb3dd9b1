package middleware

import "context"

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	// RequestIDKey stores the unique request id.
	RequestIDKey contextKey = "request_id"
)

// GetRequestID returns the request id from the context, or empty.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
