package backup

import (
	"sync"
	"time"

	"pkt.systems/sessiond/internal/clock"
)

// Future carries the outcome of a submitted backup task. Inline submissions
// produce futures that are resolved at birth, so waiting on them never
// blocks; pooled submissions resolve when a worker finishes the task.
type Future struct {
	done chan struct{}

	mu      sync.Mutex
	outcome Outcome
	err     error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func resolvedFuture(outcome Outcome, err error) *Future {
	f := newFuture()
	f.complete(outcome, err)
	return f
}

func (f *Future) complete(outcome Outcome, err error) {
	f.mu.Lock()
	f.outcome = outcome
	f.err = err
	f.mu.Unlock()
	close(f.done)
}

// Done returns a channel closed once the task finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Outcome returns the result. It must only be called after Done is closed;
// before completion it reports the zero outcome.
func (f *Future) Outcome() (Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcome, f.err
}

// WaitTimeout blocks until the task finished or d elapsed. The boolean
// reports whether the future resolved in time.
func (f *Future) WaitTimeout(clk clock.Clock, d time.Duration) (Outcome, bool, error) {
	select {
	case <-f.done:
		outcome, err := f.Outcome()
		return outcome, true, err
	case <-clk.After(d):
		return OutcomeFailure, false, nil
	}
}
