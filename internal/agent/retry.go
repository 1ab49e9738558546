package agent

import (
	"context"
	"fmt"
	"time"
)

// Backoff computes sleep time between attempts:
// min(cap, base<<min(attempt, maxShift) + jitter(attempt)). Jitter is a
// deterministic function of the attempt index so that retry timing is
// reproducible in tests and replay.
type Backoff struct {
	Base      time.Duration
	Cap       time.Duration
	MaxShift  int
	JitterMul int64
	JitterMod int64
}

func (b Backoff) Delay(attempt int) time.Duration {
	shift := attempt
	if shift > b.MaxShift {
		shift = b.MaxShift
	}
	delay := b.Base << shift
	if b.JitterMod > 0 {
		delay += time.Duration((int64(attempt)*b.JitterMul)%b.JitterMod) * time.Millisecond
	}
	if delay > b.Cap {
		delay = b.Cap
	}
	return delay
}

// Policy is one stage's retry/timeout envelope: 1 initial attempt plus
// Retries more, each under Timeout, separated by Backoff delays.
type Policy struct {
	Timeout time.Duration
	Retries int
	Backoff Backoff
}

// Per-stage defaults. The bases, caps and jitter constants differ by stage.
func validateBackoff() Backoff {
	return Backoff{Base: 200 * time.Millisecond, Cap: 2 * time.Second, MaxShift: 4, JitterMul: 37, JitterMod: 120}
}

func anchorBackoff() Backoff {
	return Backoff{Base: 300 * time.Millisecond, Cap: 3 * time.Second, MaxShift: 4, JitterMul: 41, JitterMod: 150}
}

func statusBackoff() Backoff {
	return Backoff{Base: 500 * time.Millisecond, Cap: 4 * time.Second, MaxShift: 3, JitterMul: 47, JitterMod: 200}
}

// Run drives the attempt loop for one stage, appending an event per attempt
// and per failure so the trail is complete even for runs that ultimately
// fail. It returns the last error once retries are exhausted; the caller
// applies the stage's terminal policy.
func (p Policy) Run(ctx context.Context, stage string, log *EventLog, op func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		log.Append(stage, fmt.Sprintf("attempt %d", attempt+1), nil)

		opCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		err := op(opCtx)
		deadlineHit := opCtx.Err() == context.DeadlineExceeded
		cancel()

		// The caller's context going away is not a stage failure: the run
		// is over, and any partial results must not be sealed.
		if parentErr := ctx.Err(); parentErr != nil {
			log.Append(stage, fmt.Sprintf("attempt %d failed", attempt+1), map[string]any{
				"error": parentErr.Error(),
			})
			return parentErr
		}

		if err == nil && !deadlineHit {
			return nil
		}
		if deadlineHit {
			lastErr = fmt.Errorf("timeout: %s exceeded %d ms", stage, p.Timeout.Milliseconds())
		} else {
			lastErr = err
		}
		log.Append(stage, fmt.Sprintf("attempt %d failed", attempt+1), map[string]any{
			"error": lastErr.Error(),
		})
		if attempt == p.Retries {
			return lastErr
		}
		if err := sleepCtx(ctx, p.Backoff.Delay(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
