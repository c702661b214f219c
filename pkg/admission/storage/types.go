package storage

import (
	"context"
	"fmt"
	"time"

	"mercator-hq/saturn/pkg/rate"
)

// Strategy selects the counting algorithm a backend uses.
type Strategy string

const (
	// FixedWindow counts hits in a window anchored at the first hit.
	// The counter resets one full window after that first hit.
	FixedWindow Strategy = "fixed-window"

	// FixedWindowElasticExpiry is FixedWindow with the expiry pushed out
	// by a full window on every recorded hit. A key under sustained
	// traffic never resets.
	FixedWindowElasticExpiry Strategy = "fixed-window-elastic-expiry"

	// MovingWindow counts individual hits over the trailing window.
	// Capacity is released continuously as hits age out.
	MovingWindow Strategy = "moving-window"
)

// Valid reports whether s is one of the defined strategies.
func (s Strategy) Valid() bool {
	switch s {
	case FixedWindow, FixedWindowElasticExpiry, MovingWindow:
		return true
	}
	return false
}

// String returns the configuration name of the strategy.
func (s Strategy) String() string {
	return string(s)
}

// ParseStrategy maps a configuration string to a Strategy. The empty string
// selects FixedWindow, the default.
func ParseStrategy(s string) (Strategy, error) {
	if s == "" {
		return FixedWindow, nil
	}
	st := Strategy(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown strategy %q (want %s, %s or %s)",
			s, FixedWindow, FixedWindowElasticExpiry, MovingWindow)
	}
	return st, nil
}

// WindowStats describes the current window of one (key, item) counter.
// It feeds the X-RateLimit response headers.
type WindowStats struct {
	// Remaining is how many more hits fit in the current window.
	Remaining uint64

	// ResetAt is when the current window expires. For a key with no
	// active window it is the query time: there is nothing to wait for.
	ResetAt time.Time
}

// Backend is the counting contract consumed by the admission engine.
// Implementations own all mutable state and its atomicity; callers hold no
// locks around these calls.
//
// Every method takes the fully resolved storage key (prefix already
// applied) and the limit item whose window is being counted. Counters for
// different items never alias, even under the same key.
type Backend interface {
	// CanIncrement reports whether one more hit for (key, item) would fit
	// in the current window. It never mutates state.
	CanIncrement(ctx context.Context, key string, item rate.Item) (bool, error)

	// Increment registers one hit for (key, item) unconditionally.
	Increment(ctx context.Context, key string, item rate.Item) error

	// CheckAndIncrement atomically registers one hit for (key, item) if
	// and only if it fits in the current window. It returns false, with
	// the counter untouched, when the hit would exceed the limit.
	CheckAndIncrement(ctx context.Context, key string, item rate.Item) (bool, error)

	// WindowStats returns the remaining capacity and reset time of the
	// current window for (key, item).
	WindowStats(ctx context.Context, key string, item rate.Item) (WindowStats, error)

	// Check probes backend health. It is called once at construction and
	// by readiness probes.
	Check(ctx context.Context) error

	// Close releases backend resources. Close is idempotent.
	Close() error
}

// Options carries backend-specific parameters from the STORAGE_OPTIONS
// configuration surface. Keys each backend understands are documented on
// its config struct; unknown keys are ignored.
type Options map[string]string

// duration reads a duration-valued option, falling back to def when the
// key is absent or unparsable.
func (o Options) duration(key string, def time.Duration) time.Duration {
	if v, ok := o[key]; ok {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

// integer reads an int-valued option, falling back to def when the key is
// absent or unparsable.
func (o Options) integer(key string, def int) int {
	if v, ok := o[key]; ok {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// counterKey namespaces a caller key by the item's window definition,
// so "5 per minute" and "100 per day" for the same key never share a
// counter.
func counterKey(key string, item rate.Item) string {
	return fmt.Sprintf("%s/%d/%d/%s", key, item.Amount, item.Multiples, item.Granularity)
}
