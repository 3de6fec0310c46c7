// Package metrics exposes the execution core's Prometheus instrumentation,
// grounded in Chapter13/prom_http/main.go's promauto + promhttp pairing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every counter/gauge the core updates. Construct one per
// interchange or executor process with NewRegistry.
type Registry struct {
	TasksDispatched   prometheus.Counter
	TasksCompleted    prometheus.Counter
	TasksFailed       prometheus.Counter
	WorkersRegistered prometheus.Gauge
	WorkersEvicted    prometheus.Counter
	PendingQueueDepth prometheus.Gauge
	BlocksRunning     prometheus.Gauge
}

// NewRegistry registers and returns a fresh Registry. namespace prefixes
// every metric name (e.g. "htexec_interchange").
func NewRegistry(namespace string) *Registry {
	return &Registry{
		TasksDispatched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_dispatched_total",
			Help:      "Total number of tasks dispatched to a worker.",
		}),
		TasksCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Total number of tasks that completed with an Ok result.",
		}),
		TasksFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_failed_total",
			Help:      "Total number of tasks that completed with an Err result, including WorkerLost.",
		}),
		WorkersRegistered: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_registered",
			Help:      "Current number of registered workers, stale ones included.",
		}),
		WorkersEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workers_evicted_total",
			Help:      "Total number of workers evicted due to heartbeat timeout.",
		}),
		PendingQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_queue_depth",
			Help:      "Current number of tasks waiting to be dispatched.",
		}),
		BlocksRunning: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "blocks_running",
			Help:      "Current number of RUNNING provider blocks.",
		}),
	}
}

// Handler returns the standard /metrics HTTP handler for this process.
func Handler() http.Handler {
	return promhttp.Handler()
}
