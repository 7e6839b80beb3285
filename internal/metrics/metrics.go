// Package metrics exposes the pipeline's Prometheus instrumentation,
// following this codebase's metrics naming convention
// (<domain>_<noun>_total, <domain>_<noun>_seconds).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_requests_submitted_total",
		Help: "Requests submitted to the Rate Governor, by kind.",
	}, []string{"kind"})

	RequestsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_requests_completed_total",
		Help: "Requests that reached a terminal status, by kind and status.",
	}, []string{"kind", "status"})

	RequestRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_request_retries_total",
		Help: "Retry attempts issued by the Rate Governor, by kind.",
	}, []string{"kind"})

	RequestWaitSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "governor_request_wait_seconds",
		Help:    "Time a request spent queued before entering IN_FLIGHT.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "governor_queue_depth",
		Help: "Current number of PENDING/QUEUED requests, by kind.",
	}, []string{"kind"})

	BrokerSessionState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "broker_session_state",
		Help: "Broker Session state as an enum ordinal (see broker.State).",
	})

	BarsValidated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "validator_bars_total",
		Help: "Bars processed by the validator, by accepted/rejected.",
	}, []string{"result"})

	BarsStored = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storage_bars_upserted_total",
		Help: "Bars written by bulk_upsert, by outcome (inserted/updated/skipped).",
	}, []string{"outcome"})

	LabelsProduced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_labels_total",
		Help: "Labels produced by the trade simulator, by exit reason.",
	}, []string{"exit_reason"})

	RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orchestrator_run_duration_seconds",
		Help:    "Wall-clock duration of a pipeline run.",
		Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600},
	})
)

func init() {
	prometheus.MustRegister(
		RequestsSubmitted, RequestsCompleted, RequestRetries, RequestWaitSeconds, QueueDepth,
		BrokerSessionState, BarsValidated, BarsStored, LabelsProduced, RunDuration,
	)
}

// Handler returns the /metrics HTTP handler for the process to mount.
func Handler() http.Handler {
	return promhttp.Handler()
}
