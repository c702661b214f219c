package admission

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the admission package.
type Metrics struct {
	// Decisions and violations
	decisions  *prometheus.CounterVec
	violations *prometheus.CounterVec

	// Failure-path errors
	errors *prometheus.CounterVec

	// Deferred deduction verdicts
	deductions *prometheus.CounterVec

	// Check latency
	checkDuration *prometheus.HistogramVec

	// In-flight admission checks
	inFlight prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered on reg. A nil reg uses
// the process-default registerer; callers holding multiple limiters in one
// process should register each on its own registry or share one Metrics
// via Config.Metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saturn_admission_decisions_total",
				Help: "Total number of admission decisions",
			},
			[]string{"group", "operation", "result"},
		),

		violations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saturn_admission_violations_total",
				Help: "Total number of limit violations by window granularity",
			},
			[]string{"group", "operation", "granularity"},
		),

		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saturn_admission_errors_total",
				Help: "Total number of recovered admission errors",
			},
			[]string{"kind"},
		),

		deductions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saturn_admission_deductions_total",
				Help: "Total number of deferred deduction verdicts",
			},
			[]string{"verdict"},
		),

		checkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "saturn_admission_check_duration_seconds",
				Help:    "Duration of admission checks in seconds",
				Buckets: prometheus.ExponentialBuckets(0.000001, 2, 15), // 1µs to 16ms
			},
			[]string{"path"},
		),

		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "saturn_admission_in_flight_checks",
				Help: "Number of admission checks currently executing",
			},
		),
	}
}

// defaultMetrics is shared by every limiter that does not bring its own,
// so repeated construction never double-registers collectors.
var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

func getDefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics(nil)
	})
	return defaultMetrics
}

// RecordDecision records one admission verdict.
func (m *Metrics) RecordDecision(group, operation string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	m.decisions.WithLabelValues(group, operation, result).Inc()
}

// RecordViolation records which window granularity denied a request.
func (m *Metrics) RecordViolation(group, operation, granularity string) {
	m.violations.WithLabelValues(group, operation, granularity).Inc()
}

// RecordError records a recovered failure-path error.
func (m *Metrics) RecordError(kind string) {
	m.errors.WithLabelValues(kind).Inc()
}

// RecordDeduction records a deferred deduction verdict
// (recorded, skipped or failed).
func (m *Metrics) RecordDeduction(verdict string) {
	m.deductions.WithLabelValues(verdict).Inc()
}

// RecordCheckDuration records the duration of one admission check.
func (m *Metrics) RecordCheckDuration(path string, seconds float64) {
	m.checkDuration.WithLabelValues(path).Observe(seconds)
}

// CheckStarted marks an admission check in flight; the returned func marks
// it finished.
func (m *Metrics) CheckStarted() func() {
	m.inFlight.Inc()
	return m.inFlight.Dec
}
