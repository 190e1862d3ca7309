package loop

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Option configures a Loop.
type Option func(*Loop)

// WithClock sets the source of loop time. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		l.clock = now
	}
}

// Stats is a point-in-time view of the loop's queues.
type Stats struct {
	Scheduled int
	Running   int
	Timers    int
	Queued    int
}

// report carries a finished computation back to the ticking goroutine.
type report struct {
	h      *Handle
	gen    uint64
	result any
	err    error
}

// Loop is a cooperative scheduler advanced by Tick.
//
// Loop is not safe for concurrent use: Schedule, Cancel, AfterDelay, CallSoon,
// Tick and Close must be serialised by the owner. Work goroutines only touch
// the inbox, which has its own lock.
type Loop struct {
	clock  func() time.Time
	logger *slog.Logger

	closed    bool
	gen       uint64
	seq       uint64
	scheduled []*Handle
	running   []*Handle
	timers    timerHeap
	soon      []func()

	inboxMu sync.Mutex
	inbox   []report
}

// New creates a ready loop.
func New(logger *slog.Logger, opts ...Option) *Loop {
	l := &Loop{
		clock:  time.Now,
		logger: logger.With("component", "loop"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns the current loop time.
func (l *Loop) Now() time.Time {
	return l.clock()
}

// Schedule queues w to start on the next Tick and returns its handle. It never
// blocks.
func (l *Loop) Schedule(w Wrapped) *Handle {
	l.ensureOpen()
	l.seq++
	h := &Handle{
		seq:     l.seq,
		gen:     l.gen,
		wrapped: w,
	}
	l.scheduled = append(l.scheduled, h)
	return h
}

// Cancel requests cooperative cancellation of h. The work's context is
// cancelled at once, but the handle only reports done on a later Tick.
// Returns false if h is already done.
func (l *Loop) Cancel(h *Handle) bool {
	if h == nil || h.state == stateDone {
		return false
	}
	h.cancelRequested = true
	if h.cancel != nil {
		h.cancel()
	}
	return true
}

// AfterDelay schedules fn to run once on the ticking goroutine after at least
// d of loop time has elapsed.
func (l *Loop) AfterDelay(d time.Duration, fn func()) *Timer {
	l.ensureOpen()
	if d < 0 {
		d = 0
	}
	l.seq++
	t := &Timer{
		deadline: l.clock().Add(d),
		seq:      l.seq,
		fn:       fn,
	}
	heap.Push(&l.timers, t)
	return t
}

// CallSoon queues fn to run at the end of the next Tick.
func (l *Loop) CallSoon(fn func()) {
	l.ensureOpen()
	l.soon = append(l.soon, fn)
}

// Stats reports the current queue sizes.
func (l *Loop) Stats() Stats {
	l.inboxMu.Lock()
	queued := len(l.inbox)
	l.inboxMu.Unlock()
	return Stats{
		Scheduled: len(l.scheduled),
		Running:   len(l.running),
		Timers:    l.timers.Len(),
		Queued:    queued,
	}
}

// Tick advances the loop by exactly one non-blocking increment:
//
//  1. absorb results reported by finished computations,
//  2. finish computations whose cancellation was requested before this tick,
//  3. start computations scheduled before this tick,
//  4. fire due timers in deadline order,
//  5. run callbacks queued with CallSoon before this step.
//
// Panics raised by hooks, timers and callbacks are recovered and logged. Tick
// only returns an error if the increment itself failed.
func (l *Loop) Tick() (err error) {
	l.ensureOpen()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("loop tick panicked: %v", r)
		}
	}()

	l.absorbReports()
	l.finishCancelled()
	l.startScheduled()
	l.fireTimers()
	l.runSoon()
	return nil
}

// Close tears the loop down. Running work has its context cancelled and every
// unfinished handle is finished as cancelled. The next call to any method
// transparently recreates a fresh loop.
func (l *Loop) Close() {
	if l.closed {
		return
	}
	for _, h := range slices.Clone(l.running) {
		h.cancelRequested = true
		l.finish(h, Outcome{Cancelled: true})
	}
	for _, h := range l.scheduled {
		h.cancelRequested = true
		h.state = stateDone
		h.outcome = Outcome{Cancelled: true}
	}
	l.scheduled = nil
	l.running = nil
	l.timers = nil
	l.soon = nil
	l.inboxMu.Lock()
	l.inbox = nil
	l.inboxMu.Unlock()
	l.closed = true
	l.logger.Debug("loop closed")
}

// ensureOpen recreates the loop state after Close.
func (l *Loop) ensureOpen() {
	if !l.closed {
		return
	}
	l.gen++
	l.closed = false
	l.logger.Debug("loop recreated", "generation", l.gen)
}

func (l *Loop) absorbReports() {
	l.inboxMu.Lock()
	reports := l.inbox
	l.inbox = nil
	l.inboxMu.Unlock()

	for _, r := range reports {
		if r.gen != l.gen || r.h.state != stateRunning {
			// Already finished by cancellation or left over from a closed loop.
			continue
		}
		cancelled := r.h.cancelRequested && errors.Is(r.err, context.Canceled)
		o := Outcome{Result: r.result, Err: r.err, Cancelled: cancelled}
		if cancelled {
			o = Outcome{Cancelled: true}
		}
		l.finish(r.h, o)
	}
}

func (l *Loop) finishCancelled() {
	for _, h := range slices.Clone(l.running) {
		if h.cancelRequested {
			l.finish(h, Outcome{Cancelled: true})
		}
	}
}

func (l *Loop) startScheduled() {
	batch := l.scheduled
	l.scheduled = nil
	for _, h := range batch {
		if h.cancelRequested {
			h.state = stateDone
			h.outcome = Outcome{Cancelled: true}
			l.logger.Debug("computation cancelled before start", "seq", h.seq)
			continue
		}
		l.start(h)
	}
}

func (l *Loop) start(h *Handle) {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.state = stateRunning
	l.running = append(l.running, h)

	if h.wrapped.Before != nil {
		if err := l.safeCall("before hook", h.wrapped.Before); err != nil {
			l.finish(h, Outcome{Err: err})
			return
		}
	}

	gen := h.gen
	go func() {
		result, err := runWork(ctx, h.wrapped.Work)
		l.post(report{h: h, gen: gen, result: result, err: err})
	}()
}

// runWork calls fn, converting a panic into an error.
func runWork(ctx context.Context, fn Func) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("work panicked: %v", r)
		}
	}()
	if fn == nil {
		return nil, errors.New("nil work")
	}
	return fn(ctx)
}

func (l *Loop) post(r report) {
	l.inboxMu.Lock()
	l.inbox = append(l.inbox, r)
	l.inboxMu.Unlock()
}

// finish marks a running handle done and runs its After hook.
func (l *Loop) finish(h *Handle, o Outcome) {
	h.state = stateDone
	h.outcome = o
	if h.cancel != nil {
		h.cancel()
	}
	if i := slices.Index(l.running, h); i >= 0 {
		l.running = slices.Delete(l.running, i, i+1)
	}
	if h.wrapped.After != nil {
		if err := l.safeCall("after hook", func() { h.wrapped.After(o) }); err != nil {
			l.logger.Error("after hook failed", "seq", h.seq, "error", err)
		}
	}
}

func (l *Loop) fireTimers() {
	for _, t := range l.timers.due(l.clock()) {
		t.fired = true
		if err := l.safeCall("timer", t.fn); err != nil {
			l.logger.Error("timer callback failed", "error", err)
		}
	}
}

func (l *Loop) runSoon() {
	batch := l.soon
	l.soon = nil
	for _, fn := range batch {
		if err := l.safeCall("callback", fn); err != nil {
			l.logger.Error("queued callback failed", "error", err)
		}
	}
}

// safeCall runs fn and converts a panic into an error.
func (l *Loop) safeCall(what string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", what, r)
		}
	}()
	fn()
	return nil
}
