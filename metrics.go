package scanguard

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "scanguard"

// Metrics holds the Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	verdicts       *prometheus.CounterVec
	bans           *prometheus.CounterVec
	classified     *prometheus.CounterVec
	alerts         *prometheus.CounterVec
	alertsDropped  prometheus.Counter
	alertFailures  *prometheus.CounterVec
	trackedEntries *prometheus.GaugeVec
	swept          *prometheus.CounterVec
	checkDuration  prometheus.Histogram
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		verdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "verdicts_total",
			Help:      "Gating decisions by outcome",
		}, []string{"decision"}),
		bans: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bans_total",
			Help:      "Bans issued by source (rate, signature, operator)",
		}, []string{"source"}),
		classified: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "suspicious_requests_total",
			Help:      "Suspicious requests by classifier category",
		}, []string{"category"}),
		alerts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "alerts_total",
			Help:      "Alert events accepted for delivery by kind",
		}, []string{"kind"}),
		alertsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "alerts_dropped_total",
			Help:      "Alert events dropped because the queue was full",
		}),
		alertFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "alert_failures_total",
			Help:      "Alert delivery failures by sender",
		}, []string{"sender"}),
		trackedEntries: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "tracked_addresses",
			Help:      "Addresses held by each tracker",
		}, []string{"tracker"}),
		swept: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "swept_entries_total",
			Help:      "Entries removed by the janitor",
		}, []string{"target"}),
		checkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "check_duration_seconds",
			Help:      "Time spent in Guard.Check",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
}

func (m *Metrics) ObserveVerdict(d Decision, took time.Duration) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(d.String()).Inc()
	m.checkDuration.Observe(took.Seconds())
}

func (m *Metrics) IncBan(source string) {
	if m == nil {
		return
	}
	m.bans.WithLabelValues(source).Inc()
}

func (m *Metrics) IncClassified(c Category) {
	if m == nil {
		return
	}
	m.classified.WithLabelValues(c.String()).Inc()
}

func (m *Metrics) IncAlert(kind AlertKind) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) IncAlertDropped() {
	if m == nil {
		return
	}
	m.alertsDropped.Inc()
}

func (m *Metrics) IncAlertFailure(sender string) {
	if m == nil {
		return
	}
	m.alertFailures.WithLabelValues(sender).Inc()
}

func (m *Metrics) SetTracked(tracker string, n int) {
	if m == nil {
		return
	}
	m.trackedEntries.WithLabelValues(tracker).Set(float64(n))
}

func (m *Metrics) AddSwept(target string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.WithLabelValues(target).Add(float64(n))
}
