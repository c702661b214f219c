// Package logging configures the structured logger used across saturn.
//
// # Overview
//
// The logging package wraps Go's standard log/slog package to provide:
//   - JSON and text output formats
//   - Configurable log levels (debug, info, warn, error)
//   - Optional file:line source annotations
//   - Throttling for repetitive error lines on the request path
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	logger.Info("request admitted",
//	    "group", "things",
//	    "key", "203.0.113.7",
//	)
//
// Components receive a *slog.Logger and attach their identity with
// logger.With("component", ...). A nil logger anywhere in saturn means
// slog.Default().
//
// # Throttling
//
// A Throttle gates log lines that can repeat at request rate, so a dying
// backend produces a steady trickle of errors instead of a flood:
//
//	throttle := logging.NewThrottle(time.Second, 1)
//	if throttle.Allow() {
//	    logger.Error("storage check failed",
//	        "error", err,
//	        "suppressed", throttle.TakeSuppressed(),
//	    )
//	}
package logging
