// Package metrics holds the Prometheus collectors exported on /metrics.
//
// Collectors are package-level and registered once at init, so any package
// can record without plumbing a registry through constructors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reolink"

var (
	transportCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_calls_total",
			Help:      "Transport calls by transport, operation and outcome.",
		},
		[]string{"transport", "op", "outcome"},
	)

	transportDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transport_call_duration_seconds",
			Help:      "Transport call latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"transport", "op"},
	)

	refreshCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_cycles_total",
			Help:      "Refresh cycles by outcome.",
		},
		[]string{"outcome"},
	)

	refreshBatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_batches_total",
			Help:      "Read batches sent during refresh cycles.",
		},
	)

	unhandledCodes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unhandled_response_codes_total",
			Help:      "Response codes without a decoder.",
		},
		[]string{"code"},
	)

	stateUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_updates_total",
			Help:      "Command values that changed.",
		},
	)

	commandsSynthesized = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_synthesized_total",
			Help:      "Commands created by synthesis.",
		},
	)

	actions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Executed actions by outcome.",
		},
		[]string{"outcome"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route pattern, method and status.",
		},
		[]string{"route", "method", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		transportCalls,
		transportDuration,
		refreshCycles,
		refreshBatches,
		unhandledCodes,
		stateUpdates,
		commandsSynthesized,
		actions,
		httpRequests,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTransportCall records one transport round trip.
func ObserveTransportCall(transport, op string, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	transportCalls.WithLabelValues(transport, op, outcome).Inc()
	transportDuration.WithLabelValues(transport, op).Observe(time.Since(started).Seconds())
}

// RefreshCycle records the outcome of one read cycle ("ok", "aborted", "failed").
func RefreshCycle(outcome string) {
	refreshCycles.WithLabelValues(outcome).Inc()
}

// RefreshBatch counts one sent read batch.
func RefreshBatch() {
	refreshBatches.Inc()
}

// UnhandledCode counts a response code the demultiplexer has no decoder for.
func UnhandledCode(code string) {
	unhandledCodes.WithLabelValues(code).Inc()
}

// StateUpdated counts a command value change.
func StateUpdated() {
	stateUpdates.Inc()
}

// CommandsSynthesized adds n created commands.
func CommandsSynthesized(n int) {
	commandsSynthesized.Add(float64(n))
}

// ActionExecuted records one action outcome ("ok" or "failed").
func ActionExecuted(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	actions.WithLabelValues(outcome).Inc()
}

// HTTPRequest records one served API request.
func HTTPRequest(route, method string, status int) {
	httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}
