package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Config controls the metrics exposition endpoint.
type Config struct {
	// Enabled turns the endpoint on. A disabled collector still records
	// into its registry; it just is not mounted.
	Enabled bool

	// Path is where the exposition handler is mounted. Default "/metrics".
	Path string

	// Namespace prefixes the server-level metrics. Default "saturn".
	Namespace string

	// RequestDurationBuckets override the histogram buckets for HTTP
	// request durations.
	RequestDurationBuckets []float64
}

// Collector owns the Prometheus registry for one process: the runtime
// collectors, the HTTP server metrics, and the exposition handler. The
// admission package registers its own collectors on Registry().
type Collector struct {
	config   Config
	registry *prometheus.Registry

	// HTTP server metrics
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
}

// NewCollector creates a metrics collector with the specified configuration
// and Prometheus registry. If registry is nil, a fresh registry is created
// and seeded with the Go runtime and process collectors.
func NewCollector(cfg Config, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "saturn"
	}
	if len(cfg.RequestDurationBuckets) == 0 {
		cfg.RequestDurationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5}
	}

	c := &Collector{
		config:   cfg,
		registry: registry,

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests served",
			},
			[]string{"method", "path", "status"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   cfg.RequestDurationBuckets,
			},
			[]string{"method", "path"},
		),

		requestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being served",
			},
		),
	}

	registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.requestsInFlight,
	)

	return c
}

// RecordRequest records one served HTTP request.
func (c *Collector) RecordRequest(method, path, status string, duration time.Duration) {
	c.requestsTotal.WithLabelValues(method, path, status).Inc()
	c.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RequestStarted marks a request in flight; the returned func marks it
// finished.
func (c *Collector) RequestStarted() func() {
	c.requestsInFlight.Inc()
	return c.requestsInFlight.Dec
}

// Path returns the configured exposition path.
func (c *Collector) Path() string {
	return c.config.Path
}

// Enabled reports whether the endpoint should be mounted.
func (c *Collector) Enabled() bool {
	return c.config.Enabled
}

// Registry returns the Prometheus registry used by this collector. Other
// packages register their collectors here:
//
//	lim, err := admission.New(admission.Config{
//	    Metrics: admission.NewMetrics(collector.Registry()),
//	})
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Middleware instruments next with the HTTP server metrics. The route
// pattern, not the raw URL, should be used as path to keep cardinality
// bounded; pass the pattern the handler was mounted under.
func (c *Collector) Middleware(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		finish := c.RequestStarted()
		defer finish()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		c.RecordRequest(r.Method, path, strconv.Itoa(sw.status), time.Since(start))
	})
}

// statusWriter captures the response status for the request counter.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.written {
		sw.status = code
		sw.written = true
		sw.ResponseWriter.WriteHeader(code)
	}
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.written {
		sw.WriteHeader(http.StatusOK)
	}
	return sw.ResponseWriter.Write(b)
}
