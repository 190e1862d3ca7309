package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/taskloop/internal/engine"
	"github.com/seantiz/taskloop/internal/model"
	"github.com/seantiz/taskloop/internal/snapshot"
)

func newTestManager(t *testing.T, cfg engine.Config) (*engine.Manager, *snapshot.Table) {
	t.Helper()
	table := snapshot.NewTable()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	m := engine.NewManager(cfg, table, logger)
	t.Cleanup(m.Close)
	return m, table
}

// driveUntil calls Update once per millisecond until cond holds.
func driveUntil(t *testing.T, m *engine.Manager, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		m.Update()
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

// driveUntilDone drives m until task id is finalized and its callback ran.
func driveUntilDone(t *testing.T, m *engine.Manager, id model.ID) {
	t.Helper()
	done, err := m.Done(id)
	require.NoError(t, err)
	driveUntil(t, m, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	})
}

// sleeper returns work that waits d, honouring cancellation, then returns v.
func sleeper(d time.Duration, v any) engine.WorkFunc {
	return func(ctx context.Context) (any, error) {
		select {
		case <-time.After(d):
			return v, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// blocker returns work that runs until release is closed or ctx is cancelled.
func blocker(release <-chan struct{}) engine.WorkFunc {
	return func(ctx context.Context) (any, error) {
		select {
		case <-release:
			return "released", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// recorder collects callback invocations.
type recorder struct {
	mu    sync.Mutex
	tasks []model.Task
}

func (r *recorder) callback(t model.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, t)
}

func (r *recorder) calls() []model.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Task(nil), r.tasks...)
}

func fetchReport(context.Context) (any, error) { return "report", nil }

type namedWork struct{}

func (namedWork) Name() string { return "render-video" }

func (namedWork) Do(context.Context) (any, error) { return nil, nil }

type anonymousWork struct{}

func (anonymousWork) Do(context.Context) (any, error) { return 1, nil }

func TestRunAssignsIDsAndStaysPendingUntilUpdate(t *testing.T) {
	m, table := newTestManager(t, engine.DefaultConfig())

	for want := model.ID(1); want <= 3; want++ {
		id, err := m.Run(sleeper(time.Millisecond, nil))
		require.NoError(t, err)
		assert.Equal(t, want, id)

		info, err := m.GetTaskInfo(id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, info.Status)
		assert.Nil(t, info.CompletedAt)
	}

	assert.Equal(t, 3, m.GetActiveTasksCount())
	assert.Zero(t, table.Writes(), "nothing renders before the first Update")
}

func TestFirstUpdateStartsWork(t *testing.T) {
	m, _ := newTestManager(t, engine.DefaultConfig())
	release := make(chan struct{})
	defer close(release)

	id, err := m.Run(blocker(release))
	require.NoError(t, err)

	m.Update()
	info, err := m.GetTaskInfo(id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, info.Status)
}

func TestUpdateDrainsConcurrentTasks(t *testing.T) {
	m, table := newTestManager(t, engine.DefaultConfig())
	rec := &recorder{}

	var ids []model.ID
	for i, d := range []time.Duration{30, 10, 20} {
		id, err := m.Run(sleeper(d*time.Millisecond, i), engine.WithCallback(rec.callback))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	driveUntil(t, m, func() bool { return len(rec.calls()) == 3 })

	assert.Zero(t, m.GetActiveTasksCount())
	for i, id := range ids {
		info, err := m.GetTaskInfo(id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, info.Status)
		require.NotNil(t, info.CompletedAt)
		assert.False(t, info.CompletedAt.Before(info.CreatedAt))

		res, err := m.GetTaskResult(id)
		require.NoError(t, err)
		assert.Equal(t, i, res)
	}

	for _, call := range rec.calls() {
		assert.Equal(t, model.StatusCompleted, call.Status)
	}

	rows := table.Rows()
	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.Equal(t, "completed", r.Status)
	}
}

func TestTimeoutFinalizesTask(t *testing.T) {
	m, _ := newTestManager(t, engine.DefaultConfig())
	rec := &recorder{}

	id, err := m.Run(sleeper(time.Second, "late"),
		engine.WithTimeout(10*time.Millisecond),
		engine.WithCallback(rec.callback))
	require.NoError(t, err)

	driveUntilDone(t, m, id)

	info, err := m.GetTaskInfo(id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusTimedOut, info.Status)
	assert.Equal(t, "task timed out after 0.01 seconds", info.Error)
	assert.NotNil(t, info.CompletedAt)
	assert.False(t, info.HasResult)

	calls := rec.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, model.StatusTimedOut, calls[0].Status)
}

func TestTimeoutOnWorkIgnoringCancellation(t *testing.T) {
	m, _ := newTestManager(t, engine.DefaultConfig())
	release := make(chan struct{})
	defer close(release)

	id, err := m.Run(func(context.Context) (any, error) {
		<-release
		return "ignored", nil
	}, engine.WithTimeout(5*time.Millisecond))
	require.NoError(t, err)

	driveUntilDone(t, m, id)

	info, err := m.GetTaskInfo(id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusTimedOut, info.Status)
	res, err := m.GetTaskResult(id)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestFailedWork(t *testing.T) {
	m, _ := newTestManager(t, engine.DefaultConfig())

	failing, err := m.Run(func(context.Context) (any, error) {
		return nil, errors.New("upstream returned 503")
	})
	require.NoError(t, err)
	panicking, err := m.Run(func(context.Context) (any, error) {
		panic("nil pointer")
	})
	require.NoError(t, err)

	driveUntilDone(t, m, failing)
	driveUntilDone(t, m, panicking)

	info, err := m.GetTaskInfo(failing)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, info.Status)
	assert.Equal(t, "upstream returned 503", info.Error)

	info, err = m.GetTaskInfo(panicking)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, info.Status)
	assert.Contains(t, info.Error, "nil pointer")
}

func TestCancelRunningTask(t *testing.T) {
	m, _ := newTestManager(t, engine.DefaultConfig())
	rec := &recorder{}

	id, err := m.Run(sleeper(time.Minute, nil), engine.WithCallback(rec.callback))
	require.NoError(t, err)
	m.Update()

	require.True(t, m.CancelTask(id))

	info, err := m.GetTaskInfo(id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, info.Status, "cancellation is visible immediately")
	assert.NotNil(t, info.CompletedAt)
	assert.Empty(t, rec.calls(), "callback waits for the work to stop")
	assert.False(t, m.CancelTask(id), "cancelling twice")

	driveUntilDone(t, m, id)

	calls := rec.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, model.StatusCancelled, calls[0].Status)
	assert.Empty(t, calls[0].Error)
}

func TestCancelPendingTask(t *testing.T) {
	m, _ := newTestManager(t, engine.DefaultConfig())
	rec := &recorder{}

	id, err := m.Run(sleeper(time.Millisecond, "never"), engine.WithCallback(rec.callback))
	require.NoError(t, err)

	require.True(t, m.CancelTask(id))
	driveUntilDone(t, m, id)

	calls := rec.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, model.StatusCancelled, calls[0].Status)
	assert.Nil(t, calls[0].Result)
}

func TestCancelTaskRejectsUnknownAndFinished(t *testing.T) {
	m, _ := newTestManager(t, engine.DefaultConfig())

	assert.False(t, m.CancelTask(42))

	id, err := m.Run(sleeper(0, "ok"))
	require.NoError(t, err)
	driveUntilDone(t, m, id)

	assert.False(t, m.CancelTask(id))
	info, err := m.GetTaskInfo(id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, info.Status)
}

func TestCallbackFiresOnceAndPanicsAreSwallowed(t *testing.T) {
	m, _ := newTestManager(t, engine.DefaultConfig())
	rec := &recorder{}

	bad, err := m.Run(sleeper(0, nil), engine.WithCallback(func(model.Task) {
		panic("callback bug")
	}))
	require.NoError(t, err)
	good, err := m.Run(sleeper(0, nil), engine.WithCallback(rec.callback))
	require.NoError(t, err)

	driveUntilDone(t, m, bad)
	driveUntilDone(t, m, good)
	for range 5 {
		m.Update()
	}

	require.Len(t, rec.calls(), 1)
	info, err := m.GetTaskInfo(bad)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, info.Status)
}

func TestCallbackMayCallBackIntoManager(t *testing.T) {
	m, _ := newTestManager(t, engine.DefaultConfig())

	var seen model.TaskInfo
	var followUp model.ID
	id, err := m.Run(sleeper(0, "first"), engine.WithCallback(func(task model.Task) {
		seen, _ = m.GetTaskInfo(task.ID)
		m.Update()
		followUp, _ = m.Run(sleeper(0, "second"))
	}))
	require.NoError(t, err)

	driveUntilDone(t, m, id)
	assert.Equal(t, model.StatusCompleted, seen.Status)
	require.NotZero(t, followUp)

	driveUntilDone(t, m, followUp)
	res, err := m.GetTaskResult(followUp)
	require.NoError(t, err)
	assert.Equal(t, "second", res)
}

func TestRunRejectsInvalidWork(t *testing.T) {
	m, _ := newTestManager(t, engine.DefaultConfig())

	var nilFunc func(context.Context) (any, error)
	tests := []struct {
		name string
		work any
	}{
		{"nil", nil},
		{"integer", 42},
		{"string", "not work"},
		{"nil WorkFunc", engine.WorkFunc(nil)},
		{"nil func", nilFunc},
		{"empty slice", []engine.Work{}},
		{"slice with nil", []engine.WorkFunc{sleeper(0, nil), nil}},
		{"slice of ints", []int{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Run(tt.work)
			assert.ErrorIs(t, err, engine.ErrInvalidInput)
		})
	}

	assert.Empty(t, m.GetAllTasksInfo())
	id, err := m.Run(sleeper(0, nil))
	require.NoError(t, err)
	assert.Equal(t, model.ID(1), id, "rejected input consumes no IDs")
}

func TestRunBatch(t *testing.T) {
	m, _ := newTestManager(t, engine.DefaultConfig())
	info := map[string]any{"model": "kling"}

	last, err := m.Run([]engine.WorkFunc{sleeper(0, 1), sleeper(0, 2), sleeper(0, 3)},
		engine.WithDescription("render"), engine.WithInfo(info))
	require.NoError(t, err)
	assert.Equal(t, model.ID(3), last)

	ids, err := m.RunBatch([]func(context.Context) (any, error){fetchReport, fetchReport})
	require.NoError(t, err)
	assert.Equal(t, []model.ID{4, 5}, ids)

	all := m.GetAllTasksInfo()
	require.Len(t, all, 5)
	for i, ti := range all {
		assert.Equal(t, model.ID(i+1), ti.ID, "registry keeps submission order")
	}
	for _, ti := range all[:3] {
		assert.Equal(t, "render", ti.Description)
		assert.Equal(t, "kling", ti.Info["model"])
	}
	info["model"] = "changed"
	first, err := m.GetTaskInfo(1)
	require.NoError(t, err)
	assert.Equal(t, "kling", first.Info["model"], "info is copied at submission")
}

func TestDescriptionInference(t *testing.T) {
	m, _ := newTestManager(t, engine.DefaultConfig())

	tests := []struct {
		name string
		work any
		opts []engine.RunOption
		want string
	}{
		{"named function", fetchReport, nil, "fetchReport"},
		{"closure", func(context.Context) (any, error) { return nil, nil }, nil, "task"},
		{"Name method", namedWork{}, nil, "render-video"},
		{"plain Work", anonymousWork{}, nil, "task"},
		{"explicit description", fetchReport, []engine.RunOption{engine.WithDescription("nightly")}, "nightly"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := m.Run(tt.work, tt.opts...)
			require.NoError(t, err)
			info, err := m.GetTaskInfo(id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, info.Description)
		})
	}
}

func TestCleanupRemovesOnlyOldFinishedTasks(t *testing.T) {
	m, _ := newTestManager(t, engine.DefaultConfig())
	release := make(chan struct{})
	defer close(release)

	a, err := m.Run(sleeper(0, nil))
	require.NoError(t, err)
	b, err := m.Run(sleeper(0, nil))
	require.NoError(t, err)
	active, err := m.Run(blocker(release))
	require.NoError(t, err)

	driveUntilDone(t, m, a)
	driveUntilDone(t, m, b)

	assert.Zero(t, m.Cleanup(time.Hour))
	assert.Equal(t, 2, m.Cleanup(0))

	_, err = m.GetTaskInfo(a)
	assert.ErrorIs(t, err, engine.ErrNotFound)
	info, err := m.GetTaskInfo(active)
	require.NoError(t, err)
	assert.True(t, info.Status.IsActive())
}

func TestCleanupEvictsCancelledTaskBeforeItsCallback(t *testing.T) {
	m, _ := newTestManager(t, engine.DefaultConfig())
	rec := &recorder{}

	id, err := m.Run(sleeper(time.Minute, nil), engine.WithCallback(rec.callback))
	require.NoError(t, err)
	m.Update()

	require.True(t, m.CancelTask(id))
	done, err := m.Done(id)
	require.NoError(t, err)

	assert.Equal(t, 1, m.Cleanup(0), "a terminal record is evicted at once")
	_, err = m.GetTaskInfo(id)
	assert.ErrorIs(t, err, engine.ErrNotFound)
	assert.Empty(t, rec.calls())

	driveUntil(t, m, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	})
	for range 3 {
		m.Update()
	}

	calls := rec.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, model.StatusCancelled, calls[0].Status)
	assert.Equal(t, id, calls[0].ID)
}

func TestClearFinishedEvictsTasksCancelledThisFrame(t *testing.T) {
	m, _ := newTestManager(t, engine.DefaultConfig())
	rec := &recorder{}
	release := make(chan struct{})
	defer close(release)

	_, err := m.RunBatch([]engine.WorkFunc{blocker(release), blocker(release)},
		engine.WithCallback(rec.callback))
	require.NoError(t, err)
	m.Update()

	assert.Equal(t, 2, m.CancelActive())
	assert.Equal(t, 2, m.ClearFinished())
	assert.Empty(t, m.GetAllTasksInfo())

	driveUntil(t, m, func() bool { return len(rec.calls()) == 2 })
	for range 3 {
		m.Update()
	}
	assert.Len(t, rec.calls(), 2)
}

func TestPeriodicSweep(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.ClearAfter = 0
	cfg.SweepEvery = 2
	m, _ := newTestManager(t, cfg)

	id, err := m.Run(sleeper(0, nil))
	require.NoError(t, err)
	driveUntilDone(t, m, id)

	m.Update()
	m.Update()
	_, err = m.GetTaskInfo(id)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestBulkOperations(t *testing.T) {
	m, _ := newTestManager(t, engine.DefaultConfig())
	release := make(chan struct{})
	defer close(release)

	finished, err := m.Run(sleeper(0, nil))
	require.NoError(t, err)
	driveUntilDone(t, m, finished)

	first, err := m.Run(blocker(release))
	require.NoError(t, err)
	_, err = m.Run(blocker(release))
	require.NoError(t, err)
	m.Update()

	assert.Equal(t, 1, m.ClearFinished())
	assert.Equal(t, 2, m.CancelActive())
	assert.Zero(t, m.GetActiveTasksCount())
	assert.Len(t, m.GetAllTasksInfo(), 2, "CancelActive removes nothing")

	third, err := m.Run(blocker(release))
	require.NoError(t, err)
	done, err := m.Done(third)
	require.NoError(t, err)

	assert.Equal(t, 3, m.ClearAll())
	assert.Empty(t, m.GetAllTasksInfo())
	select {
	case <-done:
	default:
		t.Error("ClearAll left a Done channel open")
	}
	_, err = m.Done(first)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestSummary(t *testing.T) {
	m, _ := newTestManager(t, engine.DefaultConfig())
	release := make(chan struct{})
	defer close(release)

	ok, err := m.Run(sleeper(0, nil))
	require.NoError(t, err)
	bad, err := m.Run(func(context.Context) (any, error) { return nil, errors.New("boom") })
	require.NoError(t, err)
	_, err = m.Run(blocker(release))
	require.NoError(t, err)
	driveUntilDone(t, m, ok)
	driveUntilDone(t, m, bad)

	s := m.Summary()
	assert.Equal(t, model.Summary{Total: 3, Active: 1, Running: 1, Completed: 1, Failed: 1}, s)
}

func TestSubscribeStreamsStatusChanges(t *testing.T) {
	m, _ := newTestManager(t, engine.DefaultConfig())
	release := make(chan struct{})

	id, err := m.Run(blocker(release))
	require.NoError(t, err)
	events, unsub, err := m.Subscribe(id)
	require.NoError(t, err)
	defer unsub()

	m.Update()
	close(release)
	driveUntilDone(t, m, id)

	var got []model.Status
	for ev := range events {
		assert.Equal(t, id, ev.TaskID)
		assert.NotEmpty(t, ev.ID)
		got = append(got, ev.Status)
	}
	assert.Equal(t, []model.Status{model.StatusRunning, model.StatusCompleted}, got)

	late, lateUnsub, err := m.Subscribe(id)
	require.NoError(t, err)
	defer lateUnsub()
	_, open := <-late
	assert.False(t, open, "finished tasks stream nothing")

	_, _, err = m.Subscribe(99)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestUpdateTableDisabled(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.UpdateTable = false
	m, table := newTestManager(t, cfg)

	id, err := m.Run(sleeper(0, nil))
	require.NoError(t, err)
	driveUntilDone(t, m, id)

	assert.Zero(t, table.Writes())
}

// gathered returns the single sample of the named metric family, or nil.
func gathered(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			var v float64
			switch {
			case metric.GetGauge() != nil:
				v = metric.GetGauge().GetValue()
			case metric.GetCounter() != nil:
				v = metric.GetCounter().GetValue()
			}
			return &v
		}
	}
	return nil
}

func TestMetricsWithoutTableRendering(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.UpdateTable = false
	table := snapshot.NewTable()
	reg := prometheus.NewRegistry()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	m := engine.NewManager(cfg, table, logger, engine.WithRegisterer(reg))
	t.Cleanup(m.Close)

	release := make(chan struct{})
	id, err := m.Run(blocker(release))
	require.NoError(t, err)
	m.Update()

	active := gathered(t, reg, "taskloop_active_tasks", nil)
	require.NotNil(t, active)
	assert.Equal(t, 1.0, *active)

	close(release)
	driveUntilDone(t, m, id)

	active = gathered(t, reg, "taskloop_active_tasks", nil)
	require.NotNil(t, active)
	assert.Zero(t, *active)

	completed := gathered(t, reg, "taskloop_tasks_finalized_total", map[string]string{"status": "completed"})
	require.NotNil(t, completed)
	assert.Equal(t, 1.0, *completed)

	submitted := gathered(t, reg, "taskloop_tasks_submitted_total", nil)
	require.NotNil(t, submitted)
	assert.Equal(t, 1.0, *submitted)

	assert.Zero(t, table.Writes())
}

func TestCloseCancelsUnfinishedWork(t *testing.T) {
	m, _ := newTestManager(t, engine.DefaultConfig())
	rec := &recorder{}
	release := make(chan struct{})
	defer close(release)

	id, err := m.Run(blocker(release), engine.WithCallback(rec.callback))
	require.NoError(t, err)
	m.Update()

	m.Close()

	info, err := m.GetTaskInfo(id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, info.Status)
	require.Len(t, rec.calls(), 1)

	next, err := m.Run(sleeper(0, "after close"))
	require.NoError(t, err)
	driveUntilDone(t, m, next)
	res, err := m.GetTaskResult(next)
	require.NoError(t, err)
	assert.Equal(t, "after close", res)
}

func TestGetTaskResultUnknown(t *testing.T) {
	m, _ := newTestManager(t, engine.DefaultConfig())
	_, err := m.GetTaskResult(7)
	assert.ErrorIs(t, err, engine.ErrNotFound)
	_, err = m.GetTaskInfo(7)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}
