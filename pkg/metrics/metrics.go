// Package metrics defines the Prometheus collectors shared by the agent
// and orchestrator servers.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwire_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"handler", "method", "code"},
	)

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentwire_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"handler"},
	)

	// Task metrics
	TasksExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwire_tasks_executed_total",
			Help: "Total number of task executions",
		},
		[]string{"agent", "status"}, // status: completed|failed|timeout|rejected
	)

	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentwire_task_duration_seconds",
			Help:    "Task processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"agent"},
	)

	// Async pipeline metrics
	TasksDispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentwire_tasks_dispatched_total",
			Help: "Total number of tasks enqueued for async execution",
		},
	)

	WorkerOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwire_worker_outcomes_total",
			Help: "Terminal outcomes of async task processing",
		},
		[]string{"status"}, // status: completed|failed|dead_letter
	)

	WorkerRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentwire_worker_retries_total",
			Help: "Total number of async task retry attempts",
		},
	)

	ResponsesPolled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentwire_responses_polled_total",
			Help: "Total number of response records returned to pollers",
		},
	)

	// Registry metrics
	AgentsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentwire_agents_active",
			Help: "Number of agents currently in the active registry set",
		},
	)

	DiscoveryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwire_discovery_failures_total",
			Help: "Total number of failed agent discovery fetches",
		},
		[]string{"endpoint"},
	)
)

var registerOnce sync.Once

// Init registers all collectors with the default registry.
// Safe to call multiple times.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequests,
			HTTPDuration,
			TasksExecuted,
			TaskDuration,
			TasksDispatched,
			WorkerOutcomes,
			WorkerRetries,
			ResponsesPolled,
			AgentsActive,
			DiscoveryFailures,
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTaskExecution records one sync task execution outcome.
func RecordTaskExecution(agent, status string, duration time.Duration) {
	TasksExecuted.WithLabelValues(agent, status).Inc()
	TaskDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// RecordHTTPRequest records one served HTTP request.
func RecordHTTPRequest(handler, method, code string, duration time.Duration) {
	HTTPRequests.WithLabelValues(handler, method, code).Inc()
	HTTPDuration.WithLabelValues(handler).Observe(duration.Seconds())
}
