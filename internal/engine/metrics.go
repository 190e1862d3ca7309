package engine

import "github.com/prometheus/client_golang/prometheus"

// metrics are the manager's collectors. They are registered on the
// Registerer given with WithRegisterer and stay private otherwise.
type metrics struct {
	submitted        prometheus.Counter
	finalized        *prometheus.CounterVec
	active           prometheus.Gauge
	updateDuration   prometheus.Histogram
	callbackFailures prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskloop_tasks_submitted_total",
			Help: "Total number of tasks submitted.",
		}),
		finalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskloop_tasks_finalized_total",
			Help: "Total number of tasks that reached a terminal status.",
		}, []string{"status"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskloop_active_tasks",
			Help: "Number of pending or running tasks after the last update.",
		}),
		updateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskloop_update_duration_seconds",
			Help:    "Duration of one Update frame in seconds.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		}),
		callbackFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskloop_callback_failures_total",
			Help: "Total number of completion callbacks that panicked.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.submitted, m.finalized, m.active, m.updateDuration, m.callbackFailures)
	}
	return m
}
