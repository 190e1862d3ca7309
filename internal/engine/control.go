package engine

import (
	"time"

	"github.com/seantiz/taskloop/internal/model"
	"github.com/seantiz/taskloop/internal/registry"
)

// CancelTask requests cancellation of an active task. The record is marked
// cancelled at once; the work itself stops on a later Update, after which the
// callback fires. Returns false for unknown IDs and finished tasks.
func (m *Manager) CancelTask(id model.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.tasks.Get(id)
	if !ok || e.handle.Done() || e.task.Status.IsTerminal() {
		return false
	}
	m.cancelLocked(e)
	m.loop.CallSoon(m.refreshLocked)
	return true
}

// CancelActive cancels every pending or running task and returns how many
// were cancelled. No record is removed.
func (m *Manager) CancelActive() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, ent := range m.tasks.Enumerate() {
		e := ent.Value
		if e.task.Status.IsActive() && !e.handle.Done() {
			m.cancelLocked(e)
			n++
		}
	}
	if n > 0 {
		m.loop.CallSoon(m.refreshLocked)
	}
	return n
}

func (m *Manager) cancelLocked(e *entry) {
	m.loop.Cancel(e.handle)
	if e.timer != nil {
		e.timer.Stop()
	}
	m.transition(e, model.StatusCancelled)
	m.logger.Info("task cancelled", "task_id", e.task.ID, "description", e.task.Description)
}

// Cleanup evicts finished tasks whose completion is at least maxAge old and
// returns how many were evicted. Active tasks are never touched. Callbacks
// that have not fired yet still fire on a later Update.
func (m *Manager) Cleanup(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	removed := m.tasks.RemoveFunc(func(_ model.ID, e *entry) bool {
		return e.task.Status.IsTerminal() && now.Sub(*e.task.CompletedAt) >= maxAge
	})
	m.evictLocked(removed)
	return len(removed)
}

// ClearFinished evicts every finished task and returns how many were
// removed. Callbacks that have not fired yet still fire on a later Update.
func (m *Manager) ClearFinished() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := m.tasks.RemoveFunc(func(_ model.ID, e *entry) bool {
		return e.task.Status.IsTerminal()
	})
	m.evictLocked(removed)
	if len(removed) > 0 {
		m.logger.Info("cleared finished tasks", "removed", len(removed))
	}
	return len(removed)
}

// ClearAll cancels every active task and then forgets all tasks, including
// evicted ones still waiting for their callback. Callbacks that have not fired
// yet are dropped, but Done channels and event streams are resolved.
func (m *Manager) ClearAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.tasks.Enumerate()
	for _, ent := range entries {
		e := ent.Value
		if e.task.Status.IsActive() && !e.handle.Done() {
			m.cancelLocked(e)
		}
	}
	m.tasks.Clear()

	for _, ent := range entries {
		m.dropLocked(ent.Value)
	}
	for _, e := range m.evicted {
		m.dropLocked(e)
	}
	m.evicted = nil

	m.logger.Info("cleared all tasks", "removed", len(entries))
	return len(entries)
}

// evictLocked releases removed records. Those whose callback has not fired
// wait in the evicted queue; their Done channel and event stream are resolved
// when it fires.
func (m *Manager) evictLocked(removed []registry.Entry[*entry]) {
	for _, ent := range removed {
		e := ent.Value
		if e.timer != nil {
			e.timer.Stop()
		}
		if e.notified {
			m.broker.Forget(ent.ID)
			continue
		}
		m.evicted = append(m.evicted, e)
	}
}

// dropLocked releases a forgotten record without firing its callback.
func (m *Manager) dropLocked(e *entry) {
	if !e.notified {
		e.notified = true
		close(e.done)
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	m.broker.Forget(e.task.ID)
}
