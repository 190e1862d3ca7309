package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/taskloop/internal/loop"
	"github.com/seantiz/taskloop/internal/model"
	"github.com/seantiz/taskloop/internal/registry"
	"github.com/seantiz/taskloop/internal/snapshot"
)

// ErrNotFound is returned by queries for an unknown task ID.
var ErrNotFound = errors.New("task not found")

// entry is the manager's bookkeeping for one tracked task.
type entry struct {
	task     model.Task
	handle   *loop.Handle
	timer    *loop.Timer
	callback func(model.Task)
	notified bool
	done     chan struct{}
}

func (e *entry) notification() notification {
	return notification{
		task:     copyTask(e.task),
		callback: e.callback,
		done:     e.done,
	}
}

// notification is a finalized task waiting for its callback.
type notification struct {
	task     model.Task
	callback func(model.Task)
	done     chan struct{}
}

// Manager runs asynchronous tasks on a cooperative loop advanced by Update.
//
// All methods are safe for concurrent use. Records are only mutated under mu,
// either directly or from loop hooks and timers, which run inside Tick.
type Manager struct {
	cfg        Config
	sink       snapshot.Sink
	logger     *slog.Logger
	instanceID string
	clock      func() time.Time
	broker     *EventBroker
	registerer prometheus.Registerer
	metrics    *metrics

	mu    sync.Mutex
	loop  *loop.Loop
	tasks *registry.Registry[*entry]
	// evicted holds finished records removed from tasks before their
	// callback fired. The next Update notifies them.
	evicted []*entry
	nextID  model.ID
	frames  uint64

	updating atomic.Bool
}

// NewManager creates a manager that renders its task table to sink. A nil sink
// discards snapshots.
func NewManager(cfg Config, sink snapshot.Sink, logger *slog.Logger, opts ...Option) *Manager {
	if sink == nil {
		sink = snapshot.Discard
	}
	instanceID := model.NewInstanceID()
	m := &Manager{
		cfg:        cfg,
		sink:       sink,
		instanceID: instanceID,
		clock:      time.Now,
		broker:     NewEventBroker(),
		tasks:      registry.New[*entry](),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.metrics = newMetrics(m.registerer)
	m.logger = logger.With("component", "engine", "instance_id", instanceID)
	m.loop = loop.New(logger, loop.WithClock(m.clock))
	return m
}

// InstanceID returns the ULID identifying this manager.
func (m *Manager) InstanceID() string {
	return m.instanceID
}

// Config returns the manager's configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Run schedules work and returns its task ID. work may be a Work, a WorkFunc,
// a func(context.Context) (any, error), or a non-empty slice of one of those,
// in which case every element becomes its own task and the ID of the last one
// is returned. Anything else fails with ErrInvalidInput and schedules nothing.
// The work starts on the next Update.
func (m *Manager) Run(work any, opts ...RunOption) (model.ID, error) {
	ids, err := m.RunBatch(work, opts...)
	if err != nil {
		return 0, err
	}
	return ids[len(ids)-1], nil
}

// RunBatch is Run returning the ID of every scheduled task in order.
func (m *Manager) RunBatch(work any, opts ...RunOption) ([]model.ID, error) {
	units, err := normalize(work)
	if err != nil {
		return nil, fmt.Errorf("run %T: %w", work, err)
	}

	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]model.ID, 0, len(units))
	for _, u := range units {
		id, err := m.submit(u, ro)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// submit creates, schedules and registers one task. Caller must hold mu.
func (m *Manager) submit(u unit, ro runOptions) (model.ID, error) {
	m.nextID++
	id := m.nextID

	desc := ro.description
	if desc == "" {
		desc = u.description
	}

	e := &entry{
		task: model.Task{
			ID:          id,
			Description: desc,
			Info:        maps.Clone(ro.info),
			Timeout:     ro.timeout,
			Status:      model.StatusPending,
			CreatedAt:   m.clock(),
		},
		callback: ro.callback,
		done:     make(chan struct{}),
	}

	e.handle = m.loop.Schedule(loop.Wrapped{
		Work:   u.work.Do,
		Before: func() { m.markRunning(e) },
		After:  func(o loop.Outcome) { m.capture(e, o) },
	})
	if ro.timeout > 0 {
		e.timer = m.loop.AfterDelay(ro.timeout, func() { m.expire(e) })
	}

	if err := m.tasks.Insert(id, e); err != nil {
		m.loop.Cancel(e.handle)
		if e.timer != nil {
			e.timer.Stop()
		}
		return 0, fmt.Errorf("register task %d: %w", id, err)
	}

	m.metrics.submitted.Inc()
	m.broker.Publish(newEvent(&e.task, e.task.CreatedAt))
	m.logger.Debug("task scheduled", "task_id", id, "description", desc, "timeout", ro.timeout)
	return id, nil
}

// markRunning is the wrapper's first step, run in the tick that starts the
// work.
func (m *Manager) markRunning(e *entry) {
	if e.task.Status != model.StatusPending {
		return
	}
	m.transition(e, model.StatusRunning)
}

// capture is the wrapper's last step. It records the work's result or error
// on a record that is still active and always stamps the completion time.
func (m *Manager) capture(e *entry, o loop.Outcome) {
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.task.Status.IsActive() && !o.Cancelled {
		switch {
		case o.Err != nil:
			if e.task.Error == "" {
				e.task.Error = o.Err.Error()
			}
		case e.task.Result == nil:
			e.task.Result = o.Result
		}
	}
	if e.task.CompletedAt == nil {
		now := m.clock()
		e.task.CompletedAt = &now
	}
}

// expire is the timeout timer. A task whose work already finished is left for
// Update to classify.
func (m *Manager) expire(e *entry) {
	if !e.task.Status.IsActive() || e.handle.Done() {
		return
	}
	m.loop.Cancel(e.handle)
	e.task.Error = fmt.Sprintf("task timed out after %s seconds",
		strconv.FormatFloat(e.task.Timeout.Seconds(), 'f', -1, 64))
	m.transition(e, model.StatusTimedOut)
	m.logger.Warn("task timed out", "task_id", e.task.ID, "description", e.task.Description, "timeout", e.task.Timeout)
	m.loop.CallSoon(m.refreshLocked)
}

// transition moves e to status to, stamping the completion time when to is
// terminal. Invalid transitions are logged and ignored. Caller must hold mu.
func (m *Manager) transition(e *entry, to model.Status) {
	if err := model.CheckTransition(e.task.Status, to); err != nil {
		m.logger.Error("rejected status change", "task_id", e.task.ID, "error", err)
		return
	}
	e.task.Status = to
	now := m.clock()
	if to.IsTerminal() {
		if e.task.CompletedAt == nil {
			e.task.CompletedAt = &now
		}
		m.metrics.finalized.WithLabelValues(string(to)).Inc()
	}
	m.broker.Publish(newEvent(&e.task, now))
}

// Update advances the manager by one frame: it ticks the loop, classifies
// finished work, fires completion callbacks, renders the task table and
// periodically evicts old finished tasks. A nested call, such as from a
// callback, logs a warning and returns.
func (m *Manager) Update() {
	if !m.updating.CompareAndSwap(false, true) {
		m.logger.Warn("update already in progress, skipping nested call")
		return
	}
	defer m.updating.Store(false)

	start := time.Now()
	defer func() {
		m.metrics.updateDuration.Observe(time.Since(start).Seconds())
	}()

	m.mu.Lock()
	if err := m.loop.Tick(); err != nil {
		m.logger.Error("loop tick failed", "error", err)
	}
	m.metrics.active.Set(float64(m.classifyLocked()))
	pending := m.collectLocked()
	m.frames++
	sweep := m.cfg.SweepEvery > 0 && m.frames%uint64(m.cfg.SweepEvery) == 0
	m.mu.Unlock()

	m.notify(pending)
	m.refresh()

	if sweep {
		if n := m.Cleanup(m.cfg.ClearAfter); n > 0 {
			m.logger.Debug("swept finished tasks", "removed", n)
		}
	}
}

// classifyLocked finalizes every active record whose work is done and returns
// how many records are still active.
func (m *Manager) classifyLocked() int {
	active := 0
	for _, ent := range m.tasks.Enumerate() {
		e := ent.Value
		if e.task.Status.IsActive() && e.handle.Done() {
			m.classify(e)
		}
		if e.task.Status.IsActive() {
			active++
		}
	}
	return active
}

// classify finalizes e from its handle. Records that are already terminal are
// left untouched.
func (m *Manager) classify(e *entry) {
	if !e.task.Status.IsActive() {
		return
	}
	status := model.StatusCompleted
	if e.handle.Cancelled() {
		status = model.StatusCancelled
	} else {
		exc, err := e.handle.Exception()
		switch {
		case errors.Is(err, loop.ErrCancelled), errors.Is(err, loop.ErrInvalidState):
			status = model.StatusCancelled
		case err != nil:
			status = model.StatusFailed
			e.task.Error = err.Error()
		case exc != nil:
			status = model.StatusFailed
			if e.task.Error == "" {
				e.task.Error = exc.Error()
			}
		default:
			if e.task.Result == nil {
				e.task.Result, _ = e.handle.Result()
			}
		}
	}

	m.transition(e, status)
	log := m.logger.With("task_id", e.task.ID, "description", e.task.Description, "status", status)
	if status == model.StatusFailed {
		log.Warn("task failed", "error", e.task.Error)
	} else {
		log.Debug("task finished")
	}
}

// collectLocked marks every finalized, unnotified task whose work is done as
// notified and returns copies for notify. Evicted records come first.
func (m *Manager) collectLocked() []notification {
	var out []notification
	waiting := m.evicted[:0]
	for _, e := range m.evicted {
		if !e.handle.Done() {
			waiting = append(waiting, e)
			continue
		}
		e.notified = true
		out = append(out, e.notification())
	}
	clear(m.evicted[len(waiting):])
	m.evicted = waiting

	for _, ent := range m.tasks.Enumerate() {
		e := ent.Value
		if e.notified || !e.task.Status.IsTerminal() || !e.handle.Done() {
			continue
		}
		e.notified = true
		out = append(out, e.notification())
	}
	return out
}

// notify fires callbacks outside the lock so they may call back into the
// manager, then resolves each task's Done channel and event stream. Streams
// of tasks no longer tracked are dropped from the broker.
func (m *Manager) notify(pending []notification) {
	if len(pending) == 0 {
		return
	}
	for _, n := range pending {
		if n.callback == nil {
			continue
		}
		if err := safeCallback(n.callback, n.task); err != nil {
			m.metrics.callbackFailures.Inc()
			m.logger.Error("task callback failed", "task_id", n.task.ID, "description", n.task.Description, "error", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range pending {
		close(n.done)
		if _, ok := m.tasks.Get(n.task.ID); ok {
			m.broker.Close(n.task.ID)
		} else {
			m.broker.Forget(n.task.ID)
		}
	}
}

func safeCallback(fn func(model.Task), t model.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panicked: %v", r)
		}
	}()
	fn(t)
	return nil
}

// refresh renders the task table to the sink.
func (m *Manager) refresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshLocked()
}

func (m *Manager) refreshLocked() {
	if !m.cfg.UpdateTable {
		return
	}
	now := m.clock()
	entries := m.tasks.Enumerate()
	rows := make([]snapshot.Row, 0, len(entries))
	for _, ent := range entries {
		rows = append(rows, snapshot.NewRow(&ent.Value.task, now))
	}
	if err := m.sink.Write(context.Background(), rows); err != nil {
		m.logger.Error("failed to write task table", "error", err)
	}
}

// Close tears down the loop without draining it. Unfinished work is
// cancelled and finalized; callbacks still fire once. The next call to Run
// or Update uses a fresh loop.
func (m *Manager) Close() {
	m.mu.Lock()
	m.loop.Close()
	m.metrics.active.Set(float64(m.classifyLocked()))
	pending := m.collectLocked()
	m.mu.Unlock()

	m.notify(pending)
	m.refresh()
	m.logger.Info("task manager closed")
}

func copyTask(t model.Task) model.Task {
	t.Info = maps.Clone(t.Info)
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		t.CompletedAt = &at
	}
	return t
}
