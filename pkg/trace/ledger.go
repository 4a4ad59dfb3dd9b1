// Package trace implements the append-only trace ledger. Every decision the
// control plane makes for a request is recorded as a step in a per-request
// trace, and steps are linked by a SHA-256 hash chain so that tampering with
// any stored step is detectable by recomputation.
package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/triton/pkg/trace/storage"
)

// ErrTraceFull is returned when a trace has reached its configured step cap.
var ErrTraceFull = errors.New("trace step limit reached")

// Verify reasons.
const (
	VerifyComputed = "computed"
	VerifyMatch    = "match"
	VerifyMismatch = "mismatch"
)

// LedgerConfig contains configuration for the trace ledger.
type LedgerConfig struct {
	// Profile controls payload redaction before hashing and storage.
	Profile RedactionProfile

	// MaxEvents caps the number of steps per trace. Zero disables the cap.
	// Default: 200
	MaxEvents int
}

// DefaultLedgerConfig returns the default ledger configuration.
func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		Profile:   DefaultProfile,
		MaxEvents: 200,
	}
}

// Ledger records trace steps with redaction and hash chaining on top of a
// storage backend. Appends to the same trace are serialized; appends to
// different traces proceed concurrently.
type Ledger struct {
	store  storage.Storage
	config LedgerConfig
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLedger creates a ledger over the given storage backend.
func NewLedger(store storage.Storage, config LedgerConfig) *Ledger {
	if config.MaxEvents < 0 {
		config.MaxEvents = 0
	}
	return &Ledger{
		store:  store,
		config: config,
		logger: slog.Default().With("component", "trace.ledger"),
		locks:  make(map[string]*sync.Mutex),
	}
}

// traceLock returns the append lock for a trace, creating it on first use.
func (l *Ledger) traceLock(traceID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[traceID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[traceID] = lock
	}
	return lock
}

// releaseLock drops a trace's append lock once the trace is closed.
func (l *Ledger) releaseLock(traceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, traceID)
}

// OpenTrace creates a new open trace and returns it.
func (l *Ledger) OpenTrace(ctx context.Context, metadata map[string]any) (Trace, error) {
	tr := Trace{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Status:    StatusOpen,
		Metadata:  metadata,
	}

	var metadataJSON []byte
	if metadata != nil {
		clean, _ := SanitizePayload(metadata, l.config.Profile)
		raw, err := json.Marshal(clean)
		if err != nil {
			return Trace{}, fmt.Errorf("failed to marshal trace metadata: %w", err)
		}
		metadataJSON = raw
	}

	err := l.store.CreateTrace(ctx, storage.TraceRecord{
		ID:           tr.ID,
		CreatedAt:    tr.CreatedAt,
		Status:       tr.Status,
		MetadataJSON: metadataJSON,
	})
	if err != nil {
		return Trace{}, &BackendError{Op: "open_trace", TraceID: tr.ID, Cause: err}
	}

	return tr, nil
}

// AppendStep sanitizes the payload, computes the event and chain hashes, and
// durably appends the step. It returns the stored step including its position
// and chain hash.
func (l *Ledger) AppendStep(ctx context.Context, traceID, stepType string, payload map[string]any) (Step, error) {
	lock := l.traceLock(traceID)
	lock.Lock()
	defer lock.Unlock()

	last, ok, err := l.store.LastStep(ctx, traceID)
	if err != nil {
		return Step{}, &BackendError{Op: "append_step", TraceID: traceID, Cause: err}
	}

	position := 0
	prevChain := ZeroChain
	if ok {
		position = last.Position + 1
		prevChain = last.ChainHash
	}
	if l.config.MaxEvents > 0 && position >= l.config.MaxEvents {
		return Step{}, ErrTraceFull
	}

	createdAt := time.Now().UTC()
	clean, redactions := SanitizePayload(payload, l.config.Profile)

	eventHash, err := EventHash(stepType, createdAt, clean)
	if err != nil {
		return Step{}, &BackendError{Op: "append_step", TraceID: traceID, Cause: err}
	}
	chainHash := ChainHash(prevChain, eventHash)

	payloadJSON, err := json.Marshal(clean)
	if err != nil {
		return Step{}, &BackendError{Op: "append_step", TraceID: traceID, Cause: err}
	}

	rec := storage.StepRecord{
		TraceID:     traceID,
		Position:    position,
		StepType:    stepType,
		CreatedAt:   createdAt,
		PayloadJSON: payloadJSON,
		EventHash:   eventHash,
		ChainHash:   chainHash,
	}
	if err := l.store.AppendStep(ctx, rec); err != nil {
		return Step{}, &BackendError{Op: "append_step", TraceID: traceID, Cause: err}
	}

	if redactions > 0 {
		l.logger.DebugContext(ctx, "redacted step payload",
			"trace_id", traceID,
			"step_type", stepType,
			"redactions", redactions,
		)
	}

	return Step{
		TraceID:    traceID,
		Position:   position,
		StepType:   stepType,
		CreatedAt:  createdAt,
		Payload:    clean,
		EventHash:  eventHash,
		ChainHash:  chainHash,
		Redactions: redactions,
	}, nil
}

// GetTrace returns a trace by id.
func (l *Ledger) GetTrace(ctx context.Context, traceID string) (Trace, error) {
	rec, err := l.store.GetTrace(ctx, traceID)
	if errors.Is(err, storage.ErrTraceNotFound) {
		return Trace{}, &NotFoundError{TraceID: traceID}
	}
	if err != nil {
		return Trace{}, &BackendError{Op: "get_trace", TraceID: traceID, Cause: err}
	}
	tr := Trace{
		ID:        rec.ID,
		CreatedAt: rec.CreatedAt,
		Status:    rec.Status,
	}
	if len(rec.MetadataJSON) > 0 {
		var metadata map[string]any
		if err := json.Unmarshal(rec.MetadataJSON, &metadata); err == nil {
			tr.Metadata = metadata
		}
	}
	return tr, nil
}

// ReadSteps returns a trace's steps in order, with the ledger's redaction
// profile applied to the returned payloads.
func (l *Ledger) ReadSteps(ctx context.Context, traceID string) ([]Step, error) {
	recs, err := l.store.ListSteps(ctx, traceID)
	if err != nil {
		return nil, &BackendError{Op: "read_steps", TraceID: traceID, Cause: err}
	}
	steps := make([]Step, 0, len(recs))
	for _, rec := range recs {
		steps = append(steps, l.toStep(rec))
	}
	return steps, nil
}

// RecentSteps returns up to limit steps across traces, newest first,
// optionally filtered by step type.
func (l *Ledger) RecentSteps(ctx context.Context, limit int, stepTypes []string) ([]Step, error) {
	if limit <= 0 {
		limit = 50
	}
	recs, err := l.store.RecentSteps(ctx, limit, stepTypes)
	if err != nil {
		return nil, &BackendError{Op: "recent_steps", TraceID: "", Cause: err}
	}
	steps := make([]Step, 0, len(recs))
	for _, rec := range recs {
		steps = append(steps, l.toStep(rec))
	}
	return steps, nil
}

// VerifyChain recomputes a trace's hash chain from the stored payloads.
// When expected is non-empty the report compares the recomputed terminal
// hash against it; otherwise the report just carries the computed hash.
// A stored chain hash that disagrees with recomputation means the backing
// store was modified after the fact.
func (l *Ledger) VerifyChain(ctx context.Context, traceID, expected string) (VerifyReport, error) {
	if _, err := l.GetTrace(ctx, traceID); err != nil {
		return VerifyReport{}, err
	}

	recs, err := l.store.ListSteps(ctx, traceID)
	if err != nil {
		return VerifyReport{}, &BackendError{Op: "verify_chain", TraceID: traceID, Cause: err}
	}

	chain := ZeroChain
	intact := true
	for _, rec := range recs {
		var payload map[string]any
		if err := json.Unmarshal(rec.PayloadJSON, &payload); err != nil {
			intact = false
			break
		}
		eventHash, err := EventHash(rec.StepType, rec.CreatedAt, payload)
		if err != nil {
			return VerifyReport{}, &BackendError{Op: "verify_chain", TraceID: traceID, Cause: err}
		}
		chain = ChainHash(chain, eventHash)
		if chain != rec.ChainHash {
			intact = false
			break
		}
	}

	report := VerifyReport{
		TraceID:   traceID,
		ChainHash: chain,
		StepCount: len(recs),
	}
	switch {
	case expected == "":
		report.Verified = intact
		report.Reason = VerifyComputed
		if !intact {
			report.Reason = VerifyMismatch
		}
	case intact && chain == expected:
		report.Verified = true
		report.Reason = VerifyMatch
	default:
		report.Reason = VerifyMismatch
	}
	return report, nil
}

// CloseTrace marks a trace closed or failed and releases its append lock.
func (l *Ledger) CloseTrace(ctx context.Context, traceID, status string) error {
	if status != StatusClosed && status != StatusFailed {
		return fmt.Errorf("invalid terminal status %q", status)
	}
	err := l.store.SetTraceStatus(ctx, traceID, status)
	if errors.Is(err, storage.ErrTraceNotFound) {
		return &NotFoundError{TraceID: traceID}
	}
	if err != nil {
		return &BackendError{Op: "close_trace", TraceID: traceID, Cause: err}
	}
	l.releaseLock(traceID)
	return nil
}

// Close releases the underlying storage backend.
func (l *Ledger) Close() error {
	return l.store.Close()
}

func (l *Ledger) toStep(rec storage.StepRecord) Step {
	step := Step{
		TraceID:   rec.TraceID,
		Position:  rec.Position,
		StepType:  rec.StepType,
		CreatedAt: rec.CreatedAt,
		EventHash: rec.EventHash,
		ChainHash: rec.ChainHash,
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.PayloadJSON, &payload); err == nil {
		clean, _ := SanitizePayload(payload, l.config.Profile)
		step.Payload = clean
	}
	return step
}
