package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seantiz/taskloop/internal/engine"
	"github.com/seantiz/taskloop/internal/model"
)

const unmatched = "unmatched"

// streamRoute is long-lived and left out of the latency histogram.
const streamRoute = "/v1/tasks/{id}/events"

// httpMetrics instruments the API routes.
type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	hm := &httpMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskloop_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskloop_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, excluding event streams.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	reg.MustRegister(hm.requests, hm.duration)
	return hm
}

// middleware records request count and duration by chi route pattern.
func (hm *httpMetrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := routePattern(r)
		hm.requests.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		if path != streamRoute {
			hm.duration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		}
	})
}

// routePattern extracts the matched chi route pattern, falling back to "unmatched".
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

// taskCollector reports the tracked tasks per status at scrape time.
type taskCollector struct {
	manager *engine.Manager
	tasks   *prometheus.Desc
}

func newTaskCollector(m *engine.Manager) *taskCollector {
	return &taskCollector{
		manager: m,
		tasks: prometheus.NewDesc(
			"taskloop_tasks",
			"Number of tracked tasks by status.",
			[]string{"status"},
			prometheus.Labels{"instance_id": m.InstanceID()},
		),
	}
}

func (c *taskCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.tasks
}

func (c *taskCollector) Collect(ch chan<- prometheus.Metric) {
	sum := c.manager.Summary()
	for _, st := range model.Statuses() {
		ch <- prometheus.MustNewConstMetric(c.tasks, prometheus.GaugeValue, float64(sum.Count(st)), string(st))
	}
}

// metricsHandler serves reg in the Prometheus exposition format.
func metricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.InstrumentMetricHandler(reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry: reg,
	}))
}
