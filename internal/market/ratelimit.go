package market

import (
	"context"
	"sync"
	"time"
)

// Throttle is a token-bucket limiter pacing outbound quote requests so a
// full-universe cycle does not burst the upstream into rate limiting.
type Throttle struct {
	mu         sync.Mutex
	tokens     float64
	ratePerS   float64
	burst      float64
	lastRefill time.Time
	disabled   bool
}

func NewThrottle(perSecond, burst int) *Throttle {
	if perSecond <= 0 {
		return &Throttle{disabled: true}
	}
	if burst <= 0 {
		burst = perSecond
	}
	return &Throttle{
		tokens:     float64(burst),
		ratePerS:   float64(perSecond),
		burst:      float64(burst),
		lastRefill: time.Now(),
	}
}

func (t *Throttle) Allow() bool {
	if t == nil || t.disabled {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refillLocked()
	if t.tokens >= 1 {
		t.tokens -= 1
		return true
	}
	return false
}

// Wait blocks until a token is available or the context ends.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil || t.disabled {
		return nil
	}
	for {
		if t.Allow() {
			return nil
		}
		sleepFor := t.timeUntilNext()
		if sleepFor <= 0 {
			sleepFor = time.Millisecond
		}
		timer := time.NewTimer(sleepFor)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (t *Throttle) timeUntilNext() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refillLocked()
	if t.tokens >= 1 || t.ratePerS <= 0 {
		return 0
	}
	need := 1 - t.tokens
	sec := need / t.ratePerS
	return time.Duration(sec * float64(time.Second))
}

func (t *Throttle) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(t.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	t.tokens += elapsed * t.ratePerS
	if t.tokens > t.burst {
		t.tokens = t.burst
	}
	t.lastRefill = now
}
