// Package metrics exposes Prometheus gauges and counters for the service
// runtime: worker queue depth, signal fan-out counts, and service state.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WorkerQueueDepth reports the number of tasks currently queued on a
	// named worker.
	WorkerQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "runtime_worker_queue_depth",
			Help: "Number of tasks currently queued on a worker",
		},
		[]string{"worker"},
	)

	// WorkerTasksTotal counts tasks run to completion on a named worker.
	WorkerTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runtime_worker_tasks_total",
			Help: "Total number of tasks run to completion on a worker",
		},
		[]string{"worker"},
	)

	// SignalEmitsTotal counts emit/async_emit calls per dispatch mode.
	SignalEmitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runtime_signal_emits_total",
			Help: "Total number of signal emissions by dispatch mode",
		},
		[]string{"mode"},
	)

	// SignalConnectionsInvokedTotal counts individual connection
	// invocations dispatched by emit/async_emit.
	SignalConnectionsInvokedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runtime_signal_connections_invoked_total",
			Help: "Total number of connection invocations dispatched by emit/async_emit",
		},
		[]string{"mode"},
	)

	// ServiceState is a gauge set to 1 for a service's current state and
	// 0 for every other state, keyed by service ID and state name.
	ServiceState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "runtime_service_state",
			Help: "1 if the service is currently in the labeled state, 0 otherwise",
		},
		[]string{"service", "state"},
	)

	// ServiceFailuresTotal counts runtime_failure occurrences on a
	// service's Failed signal.
	ServiceFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runtime_service_failures_total",
			Help: "Total number of runtime failures observed on a service",
		},
		[]string{"service"},
	)

	// ModulesLoaded is a gauge of currently started modules.
	ModulesLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "runtime_modules_loaded",
			Help: "Number of modules currently started",
		},
	)
)

func init() {
	prometheus.MustRegister(
		WorkerQueueDepth,
		WorkerTasksTotal,
		SignalEmitsTotal,
		SignalConnectionsInvokedTotal,
		ServiceState,
		ServiceFailuresTotal,
		ModulesLoaded,
	)
}

// ObserveServiceState zeroes out every known state gauge for id and sets
// state to 1, so a Prometheus query for runtime_service_state{service="x"}
// always reflects exactly one active state.
func ObserveServiceState(id string, state string, allStates []string) {
	for _, s := range allStates {
		if s == state {
			ServiceState.WithLabelValues(id, s).Set(1)
		} else {
			ServiceState.WithLabelValues(id, s).Set(0)
		}
	}
}

// Handler returns the http.Handler serving the Prometheus exposition
// format, wired up by cmd/ on the driver's metrics listener.
func Handler() http.Handler {
	return promhttp.Handler()
}
