package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryStorage is an in-memory Storage implementation used by tests and
// ephemeral deployments where the ledger does not need to survive restarts.
type MemoryStorage struct {
	mu     sync.RWMutex
	traces map[string]TraceRecord
	steps  map[string][]StepRecord
}

// NewMemoryStorage creates an empty in-memory backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		traces: make(map[string]TraceRecord),
		steps:  make(map[string][]StepRecord),
	}
}

func (m *MemoryStorage) CreateTrace(_ context.Context, rec TraceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traces[rec.ID] = rec
	return nil
}

func (m *MemoryStorage) GetTrace(_ context.Context, traceID string) (TraceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.traces[traceID]
	if !ok {
		return TraceRecord{}, ErrTraceNotFound
	}
	return rec, nil
}

func (m *MemoryStorage) SetTraceStatus(_ context.Context, traceID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.traces[traceID]
	if !ok {
		return ErrTraceNotFound
	}
	rec.Status = status
	m.traces[traceID] = rec
	return nil
}

func (m *MemoryStorage) AppendStep(_ context.Context, rec StepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[rec.TraceID] = append(m.steps[rec.TraceID], rec)
	return nil
}

func (m *MemoryStorage) LastStep(_ context.Context, traceID string) (StepRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	steps := m.steps[traceID]
	if len(steps) == 0 {
		return StepRecord{}, false, nil
	}
	return steps[len(steps)-1], true, nil
}

func (m *MemoryStorage) ListSteps(_ context.Context, traceID string) ([]StepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	steps := m.steps[traceID]
	out := make([]StepRecord, len(steps))
	copy(out, steps)
	return out, nil
}

func (m *MemoryStorage) RecentSteps(_ context.Context, limit int, stepTypes []string) ([]StepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	filter := make(map[string]bool, len(stepTypes))
	for _, t := range stepTypes {
		filter[t] = true
	}

	var out []StepRecord
	for _, steps := range m.steps {
		for _, rec := range steps {
			if len(filter) > 0 && !filter[rec.StepType] {
				continue
			}
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Position > out[j].Position
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

// MutateStep rewrites a stored step in place. Tamper-detection tests use it
// to corrupt a chain without going through the ledger.
func (m *MemoryStorage) MutateStep(traceID string, position int, fn func(*StepRecord)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	steps := m.steps[traceID]
	for i := range steps {
		if steps[i].Position == position {
			fn(&steps[i])
			return true
		}
	}
	return false
}
