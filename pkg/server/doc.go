// Package server provides the demo HTTP server for the admission limiter.
//
// It ties the subsystems together the way an embedding application would:
// config drives the limiter (storage backend, defaults, failure policy),
// the tier store feeds dynamic limits, the journal records decisions, and
// the metrics collector exposes Prometheus metrics. It also handles server
// lifecycle: start, graceful shutdown, and OS signals (SIGTERM, SIGINT).
//
// # Basic Usage
//
//	cfg, err := config.LoadConfigWithEnvOverrides("saturn.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	logger, err := logging.New(logging.Config{
//	    Level:  cfg.Logging.Level,
//	    Format: cfg.Logging.Format,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	srv, err := server.New(cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
// Start blocks until ctx is cancelled, a shutdown signal arrives, or Stop
// is called.
//
// # Routes
//
//	GET  /api/search        - demo endpoint, limited per tier (or process defaults)
//	POST /reports/generate  - demo endpoint, quota deducted for 2xx responses only
//	GET  /health            - liveness probe
//	GET  /metrics           - Prometheus exposition (path configurable)
//
// Embedding applications can register more identities through Limiter()
// before calling Start.
//
// # Middleware Chain
//
// Requests pass through the following middleware (outermost first):
//  1. Recovery: recovers from panics and returns 500
//  2. Logging: one structured line per request
//  3. RequestID: unique ID for correlation
//  4. Metrics: per-route request counters and latency
//  5. Admission: the limiter's Protect wrapper on demo routes
//
// # Graceful Shutdown
//
// The shutdown process:
//  1. Stop accepting new connections
//  2. Wait for active requests to complete (up to shutdown timeout)
//  3. Stop the tier watcher and retention scheduler
//  4. Close the limiter, then the journal, so decisions made while
//     draining are persisted
package server
