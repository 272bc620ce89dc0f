package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ReconcileCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "composer_reconcile_cycles_total",
			Help: "Total number of completed reconciliation ticks",
		},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "composer_reconcile_duration_seconds",
			Help:    "Duration of a reconciliation tick in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconcileActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "composer_reconcile_actions_total",
			Help: "Total number of orchestrator actions issued, by action",
		},
		[]string{"action"},
	)

	ConnectorsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "composer_connectors_total",
			Help: "Number of connectors currently known to the agent, by status",
		},
		[]string{"status"},
	)

	LogLinesReportedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "composer_log_lines_reported_total",
			Help: "Total number of connector log lines reported to the platform",
		},
	)

	RebootLoopsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "composer_reboot_loops",
			Help: "Number of connectors currently flagged as in a reboot loop",
		},
	)

	PlatformRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "composer_platform_requests_total",
			Help: "Total number of platform client calls, by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		ReconcileCyclesTotal,
		ReconcileDuration,
		ReconcileActionsTotal,
		ConnectorsTotal,
		LogLinesReportedTotal,
		RebootLoopsGauge,
		PlatformRequestsTotal,
	)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an elapsed duration; ObserveDuration and ObserveDurationVec
// record it on a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed duration on the given histogram.
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed duration on a labeled histogram vec.
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labelValues ...string) {
	h.WithLabelValues(labelValues...).Observe(t.Duration().Seconds())
}
