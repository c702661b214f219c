package logging

import (
	"sync/atomic"
	"time"

	xrate "golang.org/x/time/rate"
)

// Throttle gates log lines that can repeat at request rate. Call Allow
// before emitting; denied calls are counted so the next emitted line can
// report how many were suppressed.
//
// Throttle is safe for concurrent use.
type Throttle struct {
	limiter    *xrate.Limiter
	suppressed atomic.Uint64
}

// NewThrottle admits one line per interval with the given burst.
func NewThrottle(interval time.Duration, burst int) *Throttle {
	if burst < 1 {
		burst = 1
	}
	return &Throttle{
		limiter: xrate.NewLimiter(xrate.Every(interval), burst),
	}
}

// Allow reports whether a line may be emitted now. A denied call is
// counted as suppressed.
func (t *Throttle) Allow() bool {
	if t.limiter.Allow() {
		return true
	}
	t.suppressed.Add(1)
	return false
}

// TakeSuppressed returns the number of lines suppressed since the last
// call and resets the counter. Intended as an attribute on the next
// emitted line.
func (t *Throttle) TakeSuppressed() uint64 {
	return t.suppressed.Swap(0)
}
