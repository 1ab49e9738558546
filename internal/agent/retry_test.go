package agent

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoffDelaysAreDeterministic(t *testing.T) {
	b := validateBackoff()
	for i := 0; i < 3; i++ {
		if b.Delay(0) != b.Delay(0) {
			t.Fatalf("delay not deterministic")
		}
	}
	// base 200ms, jitter (1*37)%120 = 37ms
	if got := b.Delay(1); got != 437*time.Millisecond {
		t.Fatalf("attempt 1 delay = %v, want 437ms", got)
	}
	// shift capped at 4, delay capped at 2s
	if got := b.Delay(10); got != 2*time.Second {
		t.Fatalf("attempt 10 delay = %v, want cap 2s", got)
	}
}

func TestBackoffDelayGrows(t *testing.T) {
	b := anchorBackoff()
	if b.Delay(0) >= b.Delay(2) {
		t.Fatalf("expected growth: %v vs %v", b.Delay(0), b.Delay(2))
	}
	if b.Delay(10) > b.Cap {
		t.Fatalf("delay exceeds cap: %v", b.Delay(10))
	}
}

func TestPolicyRunsExactAttemptCount(t *testing.T) {
	policy := Policy{
		Timeout: time.Second,
		Retries: 2,
		Backoff: Backoff{Base: time.Millisecond, Cap: 2 * time.Millisecond, MaxShift: 4},
	}
	log := NewEventLog()
	attempts := 0
	err := policy.Run(context.Background(), "validate", log, func(context.Context) error {
		attempts++
		return errors.New("always fails")
	})
	if err == nil {
		t.Fatalf("expected terminal error")
	}
	if attempts != 3 {
		t.Fatalf("expected 1 initial + 2 retries = 3 attempts, got %d", attempts)
	}
	// every attempt and every failure shows up in the trail
	events := log.Snapshot()
	var started, failed int
	for _, e := range events {
		switch e.Message {
		case "attempt 1", "attempt 2", "attempt 3":
			started++
		case "attempt 1 failed", "attempt 2 failed", "attempt 3 failed":
			failed++
		}
	}
	if started != 3 || failed != 3 {
		t.Fatalf("expected 3 attempt and 3 failure events, got %d/%d", started, failed)
	}
}

func TestPolicyStopsRetryingOnSuccess(t *testing.T) {
	policy := Policy{
		Timeout: time.Second,
		Retries: 5,
		Backoff: Backoff{Base: time.Millisecond, Cap: 2 * time.Millisecond, MaxShift: 4},
	}
	log := NewEventLog()
	attempts := 0
	err := policy.Run(context.Background(), "anchor", log, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestPolicyConvertsDeadlineToStageTimeout(t *testing.T) {
	policy := Policy{
		Timeout: 10 * time.Millisecond,
		Retries: 0,
		Backoff: Backoff{Base: time.Millisecond, Cap: time.Millisecond},
	}
	log := NewEventLog()
	err := policy.Run(context.Background(), "validate", log, func(opCtx context.Context) error {
		<-opCtx.Done()
		return nil
	})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if got := err.Error(); got != "timeout: validate exceeded 10 ms" {
		t.Fatalf("unexpected timeout message %q", got)
	}
}
