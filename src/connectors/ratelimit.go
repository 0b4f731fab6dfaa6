package connectors

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/username/wealthos/backend/src/logger"
)

const slidingWindow = time.Minute

// RateLimiter enforces both a sliding per-minute call ceiling and a minimum
// inter-call interval. Each connector owns its limiters; they are never
// shared across connectors, so one provider's quota bookkeeping cannot bleed
// into another's.
//
// Wait is the single legitimate blocking point inside a connector call:
// callers invoke it immediately before every outbound request.
type RateLimiter struct {
	mu             sync.Mutex
	callsPerMinute int
	interval       *rate.Limiter
	callTimes      []time.Time

	// Test seams; production instances use the real clock.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter builds a limiter allowing callsPerMinute calls in any
// sliding 60s window, with at least 1/callsPerSecond between calls. The
// effective minimum interval is never shorter than the per-minute ceiling
// implies.
func NewRateLimiter(callsPerMinute int, callsPerSecond float64) *RateLimiter {
	if callsPerMinute <= 0 {
		callsPerMinute = 60
	}
	if callsPerSecond <= 0 {
		callsPerSecond = 1.0
	}
	minInterval := time.Duration(float64(time.Second) / callsPerSecond)
	if byMinute := slidingWindow / time.Duration(callsPerMinute); byMinute > minInterval {
		minInterval = byMinute
	}
	return &RateLimiter{
		callsPerMinute: callsPerMinute,
		interval:       rate.NewLimiter(rate.Every(minInterval), 1),
		now:            time.Now,
		sleep:          sleepCtx,
	}
}

// Wait blocks until it is safe to make another call, and returns the time it
// waited. It returns early with the context error if ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) (time.Duration, error) {
	r.mu.Lock()
	now := r.now()
	r.evictLocked(now)

	var pause time.Duration
	if len(r.callTimes) >= r.callsPerMinute {
		pause = slidingWindow - now.Sub(r.callTimes[0])
	}
	r.mu.Unlock()

	var total time.Duration
	if pause > 0 {
		logger.L.Debug("Rate limit: sleeping for minute window", "pause", pause)
		if err := r.sleep(ctx, pause); err != nil {
			return total, err
		}
		total += pause
	}

	// Minimum inter-call interval via the token bucket.
	before := r.now()
	if err := r.interval.Wait(ctx); err != nil {
		return total, err
	}
	total += r.now().Sub(before)

	r.mu.Lock()
	now = r.now()
	r.evictLocked(now)
	r.callTimes = append(r.callTimes, now)
	r.mu.Unlock()

	return total, nil
}

// Reset clears all recorded call history.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callTimes = nil
}

// evictLocked drops timestamps older than the sliding window. Callers hold mu.
func (r *RateLimiter) evictLocked(now time.Time) {
	cutoff := now.Add(-slidingWindow)
	i := 0
	for i < len(r.callTimes) && !r.callTimes[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.callTimes = append(r.callTimes[:0], r.callTimes[i:]...)
	}
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
