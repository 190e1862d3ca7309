package engine

import (
	"github.com/seantiz/taskloop/internal/model"
)

// GetTaskResult returns the result of a completed task, or nil if the task
// has not completed.
func (m *Manager) GetTaskResult(id model.ID) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.tasks.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return e.task.Result, nil
}

// GetTaskInfo returns the view of one task.
func (m *Manager) GetTaskInfo(id model.ID) (model.TaskInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.tasks.Get(id)
	if !ok {
		return model.TaskInfo{}, ErrNotFound
	}
	return copyTask(e.task).View(), nil
}

// GetAllTasksInfo returns the view of every tracked task in submission order.
func (m *Manager) GetAllTasksInfo() []model.TaskInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.tasks.Enumerate()
	out := make([]model.TaskInfo, 0, len(entries))
	for _, ent := range entries {
		out = append(out, copyTask(ent.Value.task).View())
	}
	return out
}

// GetActiveTasksCount returns the number of pending or running tasks.
func (m *Manager) GetActiveTasksCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, ent := range m.tasks.Enumerate() {
		if ent.Value.task.Status.IsActive() {
			n++
		}
	}
	return n
}

// Summary counts tracked tasks by status.
func (m *Manager) Summary() model.Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s model.Summary
	for _, ent := range m.tasks.Enumerate() {
		s.Add(ent.Value.task.Status)
	}
	return s
}

// Done returns a channel closed once the task is finalized and its callback
// has run.
func (m *Manager) Done(id model.ID) (<-chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.tasks.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return e.done, nil
}

// Subscribe streams status events for a task until it is finalized. The
// returned function unsubscribes.
func (m *Manager) Subscribe(id model.ID) (<-chan Event, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks.Get(id); !ok {
		return nil, nil, ErrNotFound
	}
	ch, unsub := m.broker.Subscribe(id)
	return ch, unsub, nil
}
