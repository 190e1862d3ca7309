package model

import "time"

// Task is the tracked record of one unit of work.
//
// CompletedAt is set if and only if Status is terminal. Result is only set
// for completed tasks; Error only for failed, timed out, or timeout-cancelled
// tasks.
type Task struct {
	ID          ID
	Description string
	Info        map[string]any
	Timeout     time.Duration
	Status      Status
	CreatedAt   time.Time
	CompletedAt *time.Time
	Result      any
	Error       string
}

// Duration returns how long the task ran: CompletedAt-CreatedAt once finished,
// otherwise now-CreatedAt. The boolean is false for a cancelled task without a
// completion time, which has no meaningful duration.
func (t *Task) Duration(now time.Time) (time.Duration, bool) {
	if t.CompletedAt != nil {
		return t.CompletedAt.Sub(t.CreatedAt), true
	}
	if t.Status == StatusCancelled {
		return 0, false
	}
	return now.Sub(t.CreatedAt), true
}

// View returns the query view of the task.
func (t Task) View() TaskInfo {
	info := TaskInfo{
		ID:          t.ID,
		Description: t.Description,
		Status:      t.Status,
		CreatedAt:   t.CreatedAt,
		CompletedAt: t.CompletedAt,
		Error:       t.Error,
		HasResult:   t.Result != nil,
		Info:        t.Info,
	}
	if t.Timeout > 0 {
		info.TimeoutS = t.Timeout.Seconds()
	}
	return info
}

// TaskInfo is the read-only view of a task returned to callers and the HTTP API.
type TaskInfo struct {
	ID          ID             `json:"task_id"`
	Description string         `json:"description"`
	Status      Status         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	TimeoutS    float64        `json:"timeout_s,omitempty"`
	Error       string         `json:"error,omitempty"`
	HasResult   bool           `json:"has_result"`
	Info        map[string]any `json:"info,omitempty"`
}

// Summary holds aggregate task counts.
type Summary struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	TimedOut  int `json:"timeout"`
}

// Count returns the number of tasks with status st.
func (s Summary) Count(st Status) int {
	switch st {
	case StatusPending:
		return s.Pending
	case StatusRunning:
		return s.Running
	case StatusCompleted:
		return s.Completed
	case StatusFailed:
		return s.Failed
	case StatusCancelled:
		return s.Cancelled
	case StatusTimedOut:
		return s.TimedOut
	}
	return 0
}

// Add counts one task with status st.
func (s *Summary) Add(st Status) {
	s.Total++
	if st.IsActive() {
		s.Active++
	}
	switch st {
	case StatusPending:
		s.Pending++
	case StatusRunning:
		s.Running++
	case StatusCompleted:
		s.Completed++
	case StatusFailed:
		s.Failed++
	case StatusCancelled:
		s.Cancelled++
	case StatusTimedOut:
		s.TimedOut++
	}
}
