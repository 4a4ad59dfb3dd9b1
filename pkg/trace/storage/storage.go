// Package storage provides persistence backends for the trace ledger.
//
// Two backends are available: a SQLite backend for durable single-file
// deployments (optionally in WAL journal mode) and an in-memory backend for
// tests. Both guarantee that a step is durable before AppendStep returns.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrTraceNotFound is returned when a trace id does not exist in the backend.
var ErrTraceNotFound = errors.New("trace not found")

// TraceRecord is the stored form of a trace.
type TraceRecord struct {
	ID           string
	CreatedAt    time.Time
	Status       string
	MetadataJSON []byte
}

// StepRecord is the stored form of a trace step. PayloadJSON holds the
// sanitized payload exactly as hashed at append time.
type StepRecord struct {
	TraceID     string
	Position    int
	StepType    string
	CreatedAt   time.Time
	PayloadJSON []byte
	EventHash   string
	ChainHash   string
}

// Storage is the persistence contract for the trace ledger. Implementations
// must make writes durable before returning.
type Storage interface {
	// CreateTrace persists a new open trace.
	CreateTrace(ctx context.Context, rec TraceRecord) error

	// GetTrace returns a trace by id.
	GetTrace(ctx context.Context, traceID string) (TraceRecord, error)

	// SetTraceStatus updates the terminal status of a trace.
	SetTraceStatus(ctx context.Context, traceID, status string) error

	// AppendStep persists a step. (TraceID, Position) is unique.
	AppendStep(ctx context.Context, rec StepRecord) error

	// LastStep returns the highest-position step of a trace, or ok=false
	// when the trace has no steps yet.
	LastStep(ctx context.Context, traceID string) (rec StepRecord, ok bool, err error)

	// ListSteps returns all steps of a trace ordered by position.
	ListSteps(ctx context.Context, traceID string) ([]StepRecord, error)

	// RecentSteps returns up to limit steps across traces, newest first,
	// optionally filtered by step type.
	RecentSteps(ctx context.Context, limit int, stepTypes []string) ([]StepRecord, error)

	// Close releases backend resources.
	Close() error
}
