// Package metrics provides Prometheus metrics exposition for Saturn.
//
// # Overview
//
// The metrics package owns the process registry and the /metrics endpoint.
// It registers the Go runtime and process collectors, records HTTP
// server metrics, and hands its registry to other packages so their
// collectors land in the same exposition.
//
// # Usage
//
//	// Create collector (nil registry creates one with runtime collectors)
//	collector := metrics.NewCollector(metrics.Config{Enabled: true}, nil)
//
//	// Register admission metrics on the same registry
//	lim, err := admission.New(admission.Config{
//		Metrics: admission.NewMetrics(collector.Registry()),
//	})
//
//	// Instrument handlers and mount the endpoint
//	mux.Handle("/things", collector.Middleware("/things", thingsHandler))
//	mux.Handle(collector.Path(), collector.Handler())
//
// # Prometheus Endpoint
//
// All metrics are exposed in standard Prometheus format:
//
//	# HELP saturn_http_requests_total Total number of HTTP requests served
//	# TYPE saturn_http_requests_total counter
//	saturn_http_requests_total{method="POST",path="/things",status="200"} 1234
//
// # Integration with pkg/admission
//
// The collector carries only server-level metrics. The admission metrics
// (decisions, violations, errors, check durations) live in pkg/admission
// and are registered here through Registry().
package metrics
