package trace

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"mercator-hq/triton/pkg/trace/storage"
)

func newTestLedger() (*Ledger, *storage.MemoryStorage) {
	store := storage.NewMemoryStorage()
	return NewLedger(store, DefaultLedgerConfig()), store
}

func TestLedgerAppendAndRead(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	tr, err := ledger.OpenTrace(ctx, map[string]any{"path": "/v1/chat/completions"})
	if err != nil {
		t.Fatalf("OpenTrace failed: %v", err)
	}

	types := []string{StepRequestReceived, StepPolicyCheck, StepResponseSent}
	for i, st := range types {
		step, err := ledger.AppendStep(ctx, tr.ID, st, map[string]any{"n": i})
		if err != nil {
			t.Fatalf("AppendStep %d failed: %v", i, err)
		}
		if step.Position != i {
			t.Errorf("step %d: position = %d", i, step.Position)
		}
	}

	steps, err := ledger.ReadSteps(ctx, tr.ID)
	if err != nil {
		t.Fatalf("ReadSteps failed: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}
	for i, s := range steps {
		if s.StepType != types[i] {
			t.Errorf("step %d: type = %q, want %q", i, s.StepType, types[i])
		}
		if s.EventHash == "" || s.ChainHash == "" {
			t.Errorf("step %d: missing hashes", i)
		}
	}
	// Each chain hash folds the previous one.
	if steps[1].ChainHash != ChainHash(steps[0].ChainHash, steps[1].EventHash) {
		t.Errorf("chain link 0->1 broken")
	}
	if steps[0].ChainHash != ChainHash(ZeroChain, steps[0].EventHash) {
		t.Errorf("first step must chain from the zero hash")
	}
}

func TestLedgerVerifyChain(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	tr, err := ledger.OpenTrace(ctx, nil)
	if err != nil {
		t.Fatalf("OpenTrace failed: %v", err)
	}
	var last Step
	for i := 0; i < 3; i++ {
		last, err = ledger.AppendStep(ctx, tr.ID, StepToolExecute, map[string]any{"i": i})
		if err != nil {
			t.Fatalf("AppendStep failed: %v", err)
		}
	}

	report, err := ledger.VerifyChain(ctx, tr.ID, "")
	if err != nil {
		t.Fatalf("VerifyChain failed: %v", err)
	}
	if !report.Verified || report.Reason != VerifyComputed {
		t.Errorf("unexpected report: %+v", report)
	}
	if report.ChainHash != last.ChainHash {
		t.Errorf("computed hash %s != appended %s", report.ChainHash, last.ChainHash)
	}
	if report.StepCount != 3 {
		t.Errorf("step count = %d", report.StepCount)
	}

	report, err = ledger.VerifyChain(ctx, tr.ID, last.ChainHash)
	if err != nil {
		t.Fatalf("VerifyChain failed: %v", err)
	}
	if !report.Verified || report.Reason != VerifyMatch {
		t.Errorf("expected match, got %+v", report)
	}

	report, err = ledger.VerifyChain(ctx, tr.ID, ZeroChain)
	if err != nil {
		t.Fatalf("VerifyChain failed: %v", err)
	}
	if report.Verified || report.Reason != VerifyMismatch {
		t.Errorf("expected mismatch, got %+v", report)
	}
}

func TestLedgerTamperDetection(t *testing.T) {
	ledger, store := newTestLedger()
	ctx := context.Background()

	tr, err := ledger.OpenTrace(ctx, nil)
	if err != nil {
		t.Fatalf("OpenTrace failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := ledger.AppendStep(ctx, tr.ID, StepProviderCall, map[string]any{"i": i}); err != nil {
			t.Fatalf("AppendStep failed: %v", err)
		}
	}

	// Corrupt the middle step's payload directly in the backing store.
	if !store.MutateStep(tr.ID, 1, func(rec *storage.StepRecord) {
		rec.PayloadJSON = []byte(`{"i":999}`)
	}) {
		t.Fatalf("step to mutate not found")
	}

	report, err := ledger.VerifyChain(ctx, tr.ID, "")
	if err != nil {
		t.Fatalf("VerifyChain failed: %v", err)
	}
	if report.Verified || report.Reason != VerifyMismatch {
		t.Errorf("tamper not detected: %+v", report)
	}
}

func TestLedgerConcurrentAppends(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	tr, err := ledger.OpenTrace(ctx, nil)
	if err != nil {
		t.Fatalf("OpenTrace failed: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := ledger.AppendStep(ctx, tr.ID, StepToolExecute, map[string]any{"worker": n}); err != nil {
				t.Errorf("append failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	steps, err := ledger.ReadSteps(ctx, tr.ID)
	if err != nil {
		t.Fatalf("ReadSteps failed: %v", err)
	}
	if len(steps) != workers {
		t.Fatalf("expected %d steps, got %d", workers, len(steps))
	}
	seen := make(map[int]bool)
	for _, s := range steps {
		if seen[s.Position] {
			t.Errorf("duplicate position %d", s.Position)
		}
		seen[s.Position] = true
	}
	report, err := ledger.VerifyChain(ctx, tr.ID, "")
	if err != nil {
		t.Fatalf("VerifyChain failed: %v", err)
	}
	if !report.Verified {
		t.Errorf("chain broken after concurrent appends: %+v", report)
	}
}

func TestLedgerMaxEvents(t *testing.T) {
	store := storage.NewMemoryStorage()
	ledger := NewLedger(store, LedgerConfig{Profile: DefaultProfile, MaxEvents: 2})
	ctx := context.Background()

	tr, _ := ledger.OpenTrace(ctx, nil)
	for i := 0; i < 2; i++ {
		if _, err := ledger.AppendStep(ctx, tr.ID, StepToolExecute, nil); err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}
	if _, err := ledger.AppendStep(ctx, tr.ID, StepToolExecute, nil); !errors.Is(err, ErrTraceFull) {
		t.Errorf("expected ErrTraceFull, got %v", err)
	}
}

func TestLedgerRedactsOnAppend(t *testing.T) {
	ledger, store := newTestLedger()
	ctx := context.Background()

	tr, _ := ledger.OpenTrace(ctx, nil)
	step, err := ledger.AppendStep(ctx, tr.ID, StepRequestReceived, map[string]any{
		"authorization": "Bearer topsecret",
		"input":         "hi",
	})
	if err != nil {
		t.Fatalf("AppendStep failed: %v", err)
	}
	if step.Redactions == 0 {
		t.Errorf("expected redactions to be counted")
	}
	if step.Payload["authorization"] != Redacted {
		t.Errorf("returned payload not redacted")
	}

	// The stored bytes must not contain the secret either.
	recs, err := store.ListSteps(ctx, tr.ID)
	if err != nil {
		t.Fatalf("ListSteps failed: %v", err)
	}
	if got := string(recs[0].PayloadJSON); strings.Contains(got, "topsecret") {
		t.Errorf("secret persisted: %s", got)
	}
}

func TestLedgerNotFound(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	_, err := ledger.GetTrace(ctx, "missing")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
	if _, err := ledger.VerifyChain(ctx, "missing", ""); !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError from verify, got %v", err)
	}
}

func TestLedgerCloseTrace(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	tr, _ := ledger.OpenTrace(ctx, nil)
	if err := ledger.CloseTrace(ctx, tr.ID, "bogus"); err == nil {
		t.Errorf("expected invalid status error")
	}
	if err := ledger.CloseTrace(ctx, tr.ID, StatusClosed); err != nil {
		t.Fatalf("CloseTrace failed: %v", err)
	}
	got, err := ledger.GetTrace(ctx, tr.ID)
	if err != nil {
		t.Fatalf("GetTrace failed: %v", err)
	}
	if got.Status != StatusClosed {
		t.Errorf("status = %q", got.Status)
	}
}
