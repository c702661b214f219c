// Package telemetry provides observability for Saturn.
//
// # Overview
//
// The telemetry package implements structured logging and Prometheus
// metrics exposition. It provides visibility into admission behavior
// while keeping the per-request overhead low.
//
// # Components
//
//   - logging: Structured logging built on log/slog, with request-path
//     error throttling
//   - metrics: Prometheus registry ownership and the /metrics endpoint
//
// # Usage
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json"})
//	if err != nil {
//	    return err
//	}
//
//	collector := metrics.NewCollector(metrics.Config{Enabled: true}, nil)
//	mux.Handle(collector.Path(), collector.Handler())
package telemetry
