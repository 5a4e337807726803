// Package backup writes session state to its owning cache node and relocates
// sessions when that node fails. The Service decides whether a write is
// needed at all, runs it synchronously or on a worker pool under a bounded
// timeout, and reports outcomes into the statistics registry.
package backup

import "errors"

// Outcome is the terminal result of one backup attempt. This layer never
// retries an attempt; retry policy belongs to the caller's next request
// cycle.
type Outcome int

const (
	// OutcomeFailure: the write failed, or the session has no owning node.
	OutcomeFailure Outcome = iota
	// OutcomeSuccess: state stored on the current owning node.
	OutcomeSuccess
	// OutcomeSkipped: nothing to do for this cycle.
	OutcomeSkipped
	// OutcomeRelocated: stored, and the session moved to a new node.
	OutcomeRelocated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeRelocated:
		return "relocated"
	default:
		return "failure"
	}
}

var (
	// ErrShutdown is returned for submissions after Shutdown.
	ErrShutdown = errors.New("backup: service shut down")
	// ErrNoOwningNode marks a session whose identifier carries no known node.
	ErrNoOwningNode = errors.New("backup: session has no owning node")
	// ErrTouchInFlight marks a suppressed concurrent expiration update.
	ErrTouchInFlight = errors.New("backup: expiration update already in flight")
)
