package provider

import (
	"testing"
	"time"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker(3, 30*time.Second)

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if !b.Allow() {
			t.Fatalf("breaker open after %d failures", i+1)
		}
	}
	b.RecordFailure()
	if b.Allow() {
		t.Errorf("breaker still closed after threshold")
	}
	if b.State() != StateOpen {
		t.Errorf("state = %q", b.State())
	}
}

func TestBreakerSuccessResetsCounter(t *testing.T) {
	b := NewBreaker(3, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if !b.Allow() {
		t.Errorf("non-consecutive failures tripped the breaker")
	}
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	b := NewBreaker(1, 30*time.Second)
	now := time.Now()
	b.now = func() time.Time { return now }

	b.RecordFailure()
	if b.Allow() {
		t.Fatalf("breaker should be open")
	}

	// Before the reset window: still rejecting.
	now = now.Add(29 * time.Second)
	if b.Allow() {
		t.Fatalf("breaker allowed a call inside the reset window")
	}

	// After the window: exactly one probe.
	now = now.Add(2 * time.Second)
	if !b.Allow() {
		t.Fatalf("half-open probe rejected")
	}
	if b.Allow() {
		t.Errorf("second concurrent probe admitted")
	}
}

func TestBreakerProbeOutcome(t *testing.T) {
	t.Run("success closes", func(t *testing.T) {
		b := NewBreaker(1, time.Second)
		now := time.Now()
		b.now = func() time.Time { return now }

		b.RecordFailure()
		now = now.Add(2 * time.Second)
		if !b.Allow() {
			t.Fatalf("probe rejected")
		}
		b.RecordSuccess()
		if b.State() != StateClosed || !b.Allow() {
			t.Errorf("success did not close the breaker")
		}
	})

	t.Run("failure reopens", func(t *testing.T) {
		b := NewBreaker(1, time.Second)
		now := time.Now()
		b.now = func() time.Time { return now }

		b.RecordFailure()
		now = now.Add(2 * time.Second)
		if !b.Allow() {
			t.Fatalf("probe rejected")
		}
		b.RecordFailure()
		if b.Allow() {
			t.Errorf("failed probe did not reopen the breaker")
		}
		// A fresh reset window applies from the probe failure.
		now = now.Add(2 * time.Second)
		if !b.Allow() {
			t.Errorf("breaker did not re-enter half-open after the new window")
		}
	})
}
