// Package timerutil provides a self-correcting periodic timer: one whose
// period, not the gap between callback completions, stays constant. A
// naive time.Ticker drifts when its callback runs long (the next tick
// still fires on schedule, but callers that *skip* overlapping ticks
// effectively lengthen the real period by however long the callback
// took). Repeating accounts for that by measuring callback duration and
// shrinking the next wait accordingly, down to zero.
package timerutil

import (
	"context"
	"time"
)

// Repeating runs fn every interval, cooperative-cancel style: fn is never
// invoked concurrently with itself, and a slow fn only delays the next
// tick by its own overrun, not by a whole extra period.
type Repeating struct {
	interval time.Duration
	fn       func(context.Context)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRepeating constructs a timer that is not yet running; call Start.
func NewRepeating(interval time.Duration, fn func(context.Context)) *Repeating {
	return &Repeating{interval: interval, fn: fn}
}

// Start arms the timer. Calling Start while already running restarts it:
// the running loop is cancelled (joining any in-flight callback) before
// the new one begins.
func (r *Repeating) Start(ctx context.Context) {
	r.Cancel()
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.loop(ctx)
}

func (r *Repeating) loop(ctx context.Context) {
	defer close(r.done)

	deadline := time.Now().Add(r.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(deadline)):
		}
		if ctx.Err() != nil {
			return
		}

		callStart := time.Now()
		r.fn(ctx)
		overrun := time.Since(callStart)

		wait := r.interval - overrun
		if wait < 0 {
			wait = 0
		}
		deadline = time.Now().Add(wait)
	}
}

// Cancel stops the timer and blocks until any in-flight callback has
// returned, so callers can rely on "cancellation happens-before the next
// destination-dependent action" (§5's ordering guarantee for Inspector).
func (r *Repeating) Cancel() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}
