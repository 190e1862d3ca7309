package engine

import (
	"maps"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/taskloop/internal/model"
)

// Default configuration values.
const (
	DefaultClearAfter = 300 * time.Second
	DefaultSweepEvery = 100
)

// Config controls the manager's rendering and eviction.
type Config struct {
	// UpdateTable enables rendering the task table on every Update.
	UpdateTable bool
	// ClearAfter is how long a finished task stays tracked before the
	// periodic sweep evicts it.
	ClearAfter time.Duration
	// SweepEvery is the number of Update calls between sweeps. Zero disables
	// the sweep.
	SweepEvery int
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		UpdateTable: true,
		ClearAfter:  DefaultClearAfter,
		SweepEvery:  DefaultSweepEvery,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the source of time for records, timeouts and the snapshot.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.clock = now
	}
}

// WithRegisterer registers the manager's Prometheus collectors on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Manager) {
		m.registerer = reg
	}
}

// RunOption configures tasks submitted by one Run call. Every option applies
// to each unit of a batch.
type RunOption func(*runOptions)

type runOptions struct {
	description string
	info        map[string]any
	timeout     time.Duration
	callback    func(model.Task)
}

// WithDescription overrides the inferred description.
func WithDescription(d string) RunOption {
	return func(o *runOptions) {
		o.description = d
	}
}

// WithInfo attaches caller metadata shown in the task table.
func WithInfo(info map[string]any) RunOption {
	return func(o *runOptions) {
		o.info = maps.Clone(info)
	}
}

// WithTimeout bounds how long the task may stay active. Zero or negative
// means no timeout.
func WithTimeout(d time.Duration) RunOption {
	return func(o *runOptions) {
		o.timeout = max(d, 0)
	}
}

// WithCallback registers fn to run exactly once with a copy of the final
// record after the task reaches a terminal status.
func WithCallback(fn func(model.Task)) RunOption {
	return func(o *runOptions) {
		o.callback = fn
	}
}
