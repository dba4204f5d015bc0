package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TransferRequestsTotal tracks TransferRequest documents by status.
	TransferRequestsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ltacoord_transfer_requests_total",
			Help: "Total number of TransferRequest documents by status",
		},
		[]string{"status"},
	)

	// BundlesTotal tracks Bundle documents by status.
	BundlesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ltacoord_bundles_total",
			Help: "Total number of Bundle documents by status",
		},
		[]string{"status"},
	)

	// ClaimedBundlesTotal tracks claimed Bundle documents by status.
	ClaimedBundlesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ltacoord_bundles_claimed_total",
			Help: "Total number of currently claimed Bundle documents by status",
		},
		[]string{"status"},
	)

	// QuarantinedBundlesTotal tracks quarantined Bundle documents.
	QuarantinedBundlesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ltacoord_bundles_quarantined_total",
			Help: "Total number of Bundle documents currently quarantined",
		},
	)

	// HeartbeatsTotal tracks the number of distinct worker components with
	// a stored heartbeat record, by component type; record age is not
	// considered.
	HeartbeatsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ltacoord_heartbeats_total",
			Help: "Total number of distinct components with a stored heartbeat record, by component type",
		},
		[]string{"component_type"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ltacoord_api_requests_total",
			Help: "Total number of API requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ltacoord_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Claim (POP) metrics
	PopAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ltacoord_pop_attempts_total",
			Help: "Total number of POP claim attempts by collection and outcome",
		},
		[]string{"collection", "outcome"}, // outcome: claimed, empty, error
	)

	PopDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ltacoord_pop_duration_seconds",
			Help:    "Time taken to service a POP claim request in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	// Reaper metrics
	StaleClaimsReapedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ltacoord_stale_claims_reaped_total",
			Help: "Total number of stale claims released by the reaper",
		},
		[]string{"collection"},
	)

	ReaperCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ltacoord_reaper_cycles_total",
			Help: "Total number of stale-claim reaper cycles completed",
		},
	)

	// Worker harness metrics
	WorkCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ltaworker_work_cycles_total",
			Help: "Total number of work-loop cycles by stage and outcome",
		},
		[]string{"stage", "outcome"}, // outcome: success, quarantined, no_work, error
	)

	WorkCycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ltaworker_work_cycle_duration_seconds",
			Help:    "Duration of a single stage-action work cycle in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200}, // 1s to 2h
		},
		[]string{"stage"},
	)

	BytesTransferredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ltaworker_bytes_transferred_total",
			Help: "Total number of bytes moved by a transport-facing stage action",
		},
		[]string{"stage", "direction"}, // direction: read, write
	)
)

func init() {
	prometheus.MustRegister(TransferRequestsTotal)
	prometheus.MustRegister(BundlesTotal)
	prometheus.MustRegister(ClaimedBundlesTotal)
	prometheus.MustRegister(QuarantinedBundlesTotal)
	prometheus.MustRegister(HeartbeatsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(PopAttemptsTotal)
	prometheus.MustRegister(PopDuration)
	prometheus.MustRegister(StaleClaimsReapedTotal)
	prometheus.MustRegister(ReaperCyclesTotal)
	prometheus.MustRegister(WorkCyclesTotal)
	prometheus.MustRegister(WorkCycleDuration)
	prometheus.MustRegister(BytesTransferredTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
