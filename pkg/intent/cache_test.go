package intent

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := NewCache(CacheConfig{
		Enabled: true,
		Path:    filepath.Join(t.TempDir(), "intent_cache.db"),
		TTL:     10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func sampleDecision(tool string) Decision {
	return Decision{
		DecisionID:   "d-1",
		PolicyHash:   "abc",
		TierUsed:     2,
		IntentID:     tool,
		AllowedTools: []string{tool},
		ToolParams:   map[string]any{},
		Confidence:   0.91,
		Evidence:     map[string]any{},
		Cacheable:    true,
	}
}

func TestCacheSetGet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "hash-a", "sig-1", sampleDecision("safe_calc")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	d, ok, err := c.Get(ctx, "hash-a", "sig-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if d.IntentID != "safe_calc" || d.Confidence != 0.91 {
		t.Errorf("unexpected cached decision: %+v", d)
	}
}

func TestCacheMissOnPolicyHashChange(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "hash-old", "sig-1", sampleDecision("echo")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, ok, err := c.Get(ctx, "hash-new", "sig-1"); err != nil || ok {
		t.Errorf("Get under new policy hash: ok=%v err=%v, want miss", ok, err)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "hash-a", "sig-1", sampleDecision("echo")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	c.now = func() time.Time { return time.Now().Add(11 * time.Minute) }

	if _, ok, err := c.Get(ctx, "hash-a", "sig-1"); err != nil || ok {
		t.Errorf("Get after TTL: ok=%v err=%v, want miss", ok, err)
	}

	pruned, err := c.PruneExpired(ctx)
	if err != nil {
		t.Fatalf("PruneExpired failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}
}

func TestCacheFlushExcept(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "hash-old", "sig-1", sampleDecision("echo")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := c.Set(ctx, "hash-new", "sig-2", sampleDecision("safe_calc")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	flushed, err := c.FlushExcept(ctx, "hash-new")
	if err != nil {
		t.Fatalf("FlushExcept failed: %v", err)
	}
	if flushed != 1 {
		t.Errorf("flushed = %d, want 1", flushed)
	}
	if _, ok, _ := c.Get(ctx, "hash-new", "sig-2"); !ok {
		t.Error("current-policy entry was flushed")
	}
}

func TestCacheDisabled(t *testing.T) {
	c, err := NewCache(CacheConfig{Enabled: false, Path: filepath.Join(t.TempDir(), "c.db")})
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "h", "s", sampleDecision("echo")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "h", "s"); ok {
		t.Error("disabled cache returned a hit")
	}
}

func TestHITLQueueLifecycle(t *testing.T) {
	q, err := NewHITLQueue(HITLConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "hitl.db")})
	if err != nil {
		t.Fatalf("NewHITLQueue failed: %v", err)
	}
	defer q.Close()
	ctx := context.Background()

	req, err := q.Enqueue(ctx, map[string]any{"decision_id": "d-1", "intent_id": "python_exec"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if req.Status != HITLQueued {
		t.Fatalf("status = %q, want %q", req.Status, HITLQueued)
	}

	pending, err := q.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != req.ID {
		t.Fatalf("unexpected pending list: %+v", pending)
	}

	if err := q.Resolve(ctx, req.ID, HITLApproved); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	got, err := q.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != HITLApproved {
		t.Errorf("status after resolve = %q, want %q", got.Status, HITLApproved)
	}
	if got.Payload["intent_id"] != "python_exec" {
		t.Errorf("payload lost on round trip: %+v", got.Payload)
	}

	// Resolved requests cannot be resolved again.
	if err := q.Resolve(ctx, req.ID, HITLRejected); err == nil {
		t.Error("expected error resolving an already-approved request")
	}
}

func TestHITLQueueDisabled(t *testing.T) {
	q, err := NewHITLQueue(HITLConfig{Enabled: false, Path: filepath.Join(t.TempDir(), "hitl.db")})
	if err != nil {
		t.Fatalf("NewHITLQueue failed: %v", err)
	}
	defer q.Close()

	req, err := q.Enqueue(context.Background(), map[string]any{"decision_id": "d-1"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if req != nil {
		t.Errorf("disabled queue returned a request: %+v", req)
	}
}
