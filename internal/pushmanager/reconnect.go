package pushmanager

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// reconnectLimiter paces reconnect attempts to a constant delay (spec
// §4.9.1's single `reconnect_delay`), adapted conceptually from
// internal/connwatch.Watcher's backoff state machine but simplified away
// from exponential growth. golang.org/x/time/rate is what the pack's
// chirm dependency uses for outbound pacing; reused here so a server
// that closes immediately after every hello cannot spin this loop.
type reconnectLimiter struct {
	limiter *rate.Limiter
	first   bool
}

func newReconnectLimiter(delay time.Duration) *reconnectLimiter {
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	return &reconnectLimiter{
		limiter: rate.NewLimiter(rate.Every(delay), 1),
		first:   true,
	}
}

// wait blocks until the next reconnect attempt is allowed, or ctx is
// done. The very first attempt is never paced.
func (r *reconnectLimiter) wait(ctx context.Context) error {
	if r.first {
		r.first = false
		return nil
	}
	return r.limiter.Wait(ctx)
}
