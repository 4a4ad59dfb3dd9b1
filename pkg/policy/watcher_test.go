package policy

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writePolicy(t, basicPolicy)
	e, err := NewEngine(EngineConfig{Enforce: true, Path: path})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	oldHash := e.PolicyHash()

	w, err := NewWatcher(e, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- w.Watch(ctx) }()

	// Give the watcher time to register before touching the file.
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(path, []byte(`rules: [{match: ".*", action: deny, reason: lockdown}]`), 0o644); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if e.PolicyHash() != oldHash {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if e.PolicyHash() == oldHash {
		t.Fatalf("watcher did not reload within deadline")
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}
}
