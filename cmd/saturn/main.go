// Mercator Saturn is a request admission server and rate-limiting runtime.
//
// It fronts HTTP APIs with declarative admission control, providing:
//   - Per-group and per-operation rate limit declarations
//   - Fixed-window, elastic-expiry and moving-window counting strategies
//   - Memory, Redis and SQLite counter storage
//   - Tier-based dynamic limits loaded from a watched file
//   - A SQLite decision journal with scheduled retention
//
// Usage:
//
//	# Start server with default configuration
//	saturn run
//
//	# Start with custom configuration file
//	saturn run --config /path/to/config.yaml
//
//	# Show version information
//	saturn version
//
//	# Validate configuration and tier file
//	saturn check
//
//	# Query the decision journal
//	saturn journal recent --limit 50
//
// For complete documentation, see: https://github.com/mercator-hq/saturn
package main

func main() {
	Execute()
}
