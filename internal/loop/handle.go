package loop

import (
	"context"
	"errors"
)

var (
	// ErrCancelled is returned by handle accessors when the computation was cancelled.
	ErrCancelled = errors.New("computation cancelled")

	// ErrInvalidState is returned by handle accessors before the computation is done.
	ErrInvalidState = errors.New("computation not done")
)

// Func is a unit of work. It must honour ctx cancellation to stop promptly,
// although the loop treats a cancelled computation as finished either way.
type Func func(ctx context.Context) (any, error)

// Outcome is how a computation ended.
type Outcome struct {
	Result    any
	Err       error
	Cancelled bool
}

// Wrapped is a unit of work together with the supervising steps the loop runs
// around it on the ticking goroutine. Before runs in the tick that starts the
// work; After runs in the tick that observes it finish. Neither runs for a
// computation cancelled before it started.
type Wrapped struct {
	Work   Func
	Before func()
	After  func(Outcome)
}

type handleState int

const (
	stateScheduled handleState = iota
	stateRunning
	stateDone
)

// Handle is the loop's reference to a scheduled computation. Its accessors
// must only be called from the goroutine that ticks the loop.
type Handle struct {
	seq             uint64
	gen             uint64
	wrapped         Wrapped
	state           handleState
	cancelRequested bool
	cancel          context.CancelFunc
	outcome         Outcome
}

// Done reports whether the computation has finished, failed or been cancelled.
func (h *Handle) Done() bool {
	return h.state == stateDone
}

// Started reports whether the computation was ever started.
func (h *Handle) Started() bool {
	return h.state != stateScheduled
}

// Cancelled reports whether the computation finished by cancellation.
func (h *Handle) Cancelled() bool {
	return h.state == stateDone && h.outcome.Cancelled
}

// Result returns the computation's value. It returns ErrInvalidState before
// the computation is done, ErrCancelled if it was cancelled, or the error the
// work returned.
func (h *Handle) Result() (any, error) {
	switch {
	case h.state != stateDone:
		return nil, ErrInvalidState
	case h.outcome.Cancelled:
		return nil, ErrCancelled
	case h.outcome.Err != nil:
		return nil, h.outcome.Err
	}
	return h.outcome.Result, nil
}

// Exception returns the error the work returned, or nil if it succeeded. The
// second return is ErrInvalidState before the computation is done and
// ErrCancelled if it was cancelled.
func (h *Handle) Exception() (error, error) {
	switch {
	case h.state != stateDone:
		return nil, ErrInvalidState
	case h.outcome.Cancelled:
		return nil, ErrCancelled
	}
	return h.outcome.Err, nil
}
