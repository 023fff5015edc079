// Package poll provides bounded wait-for-condition loops.
// Every wait in the engine is interval + deadline returning a boolean;
// callers choose what exhaustion means.
package poll

import (
	"context"
	"time"
)

// Until polls cond every interval until it returns true or timeout elapses.
// cond is evaluated once immediately. Returns false on timeout or context
// cancellation, never an error: absence of the condition is not exceptional.
func Until(ctx context.Context, interval, timeout time.Duration, cond func() bool) bool {
	if cond() {
		return true
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-tick.C:
			if cond() {
				return true
			}
		}
	}
}

// Sleep waits for d or until the context is cancelled.
func Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
