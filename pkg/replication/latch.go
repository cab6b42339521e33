package replication

import (
	"context"
	"time"
)

// Latch is the wakeable wait primitive the poller parks on between
// iterations. Wake never blocks and is safe to call from signal-handling
// goroutines; a wake delivered while nobody is waiting is remembered and
// satisfies the next Wait immediately.
type Latch struct {
	ch chan struct{}
}

// NewLatch creates a new latch.
func NewLatch() *Latch {
	return &Latch{ch: make(chan struct{}, 1)}
}

// Wake releases a pending or future Wait. Multiple wakes coalesce.
func (l *Latch) Wake() {
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until the latch is woken, the timeout elapses, or the context
// is cancelled. It reports whether the latch was woken.
func (l *Latch) Wait(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-l.ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
