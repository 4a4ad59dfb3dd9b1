package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestRunAllExecutesEveryJob(t *testing.T) {
	var first, second atomic.Int64
	s := NewScheduler(Config{},
		Job{Name: "first", Run: func(context.Context) (int, error) {
			first.Add(1)
			return 3, nil
		}},
		Job{Name: "failing", Run: func(context.Context) (int, error) {
			return 0, errors.New("backend unavailable")
		}},
		Job{Name: "second", Run: func(context.Context) (int, error) {
			second.Add(1)
			return 0, nil
		}},
	)

	s.RunAll(context.Background())
	s.RunAll(context.Background())

	if first.Load() != 2 || second.Load() != 2 {
		t.Errorf("job runs = %d, %d, want 2, 2", first.Load(), second.Load())
	}
}

func TestStartDisabled(t *testing.T) {
	s := NewScheduler(Config{Enabled: false, Schedule: "*/5 * * * *"})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if s.IsRunning() {
		t.Error("scheduler running while disabled")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := NewScheduler(Config{Enabled: true, Schedule: "not a schedule"})
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(Config{Enabled: true, Schedule: "*/5 * * * *"},
		Job{Name: "noop", Run: func(context.Context) (int, error) { return 0, nil }},
	)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !s.IsRunning() {
		t.Fatal("scheduler not running after Start")
	}
	if s.NextRun() == nil {
		t.Error("NextRun returned nil for a running scheduler")
	}

	cancel()
	s.Stop()
	if s.IsRunning() {
		t.Error("scheduler still running after Stop")
	}
}
