package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EnqueueCounter   = prometheus.NewCounter(prometheus.CounterOpts{Name: "generation_tasks_enqueued_total", Help: "Total enqueued generation tasks"})
	ConflictRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "generation_tasks_conflict_rejects_total", Help: "Enqueue requests rejected because the resource already has an active task"})
	TaskSuccess      = prometheus.NewCounter(prometheus.CounterOpts{Name: "generation_tasks_succeeded_total", Help: "Tasks completed successfully"})
	TaskFailures     = prometheus.NewCounter(prometheus.CounterOpts{Name: "generation_tasks_failed_total", Help: "Tasks that finished failed"})
	BackendRetries   = prometheus.NewCounter(prometheus.CounterOpts{Name: "generation_backend_retries_total", Help: "Backend calls retried after a transient error"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "generation_queue_depth", Help: "Ready queue depth across lanes"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "generation_tasks_inflight", Help: "Tasks currently executing"})
	SubscribersGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "task_stream_subscribers", Help: "Open SSE subscriptions on the task stream"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EnqueueCounter,
			ConflictRejects,
			TaskSuccess,
			TaskFailures,
			BackendRetries,
			QueueDepthGauge,
			InFlightGauge,
			SubscribersGauge,
		)
	})
	return promhttp.Handler()
}
