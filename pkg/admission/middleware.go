package admission

import (
	"fmt"
	"net/http"
	"time"
)

// Protect wraps next with the admission checkpoint for (group,
// operation). Denied requests are answered directly and never reach
// next; admitted requests carry rate-limit headers. When the effective
// declaration defers deduction, the wrapper records the hit after next
// returns.
//
// Example:
//
//	mux.Handle("POST /things", lim.Protect("things", "create", createHandler))
func (l *Limiter) Protect(group, operation string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		adm := l.Admit(r, group, operation)
		if !adm.Allowed {
			adm.WriteRejection(w)
			return
		}
		adm.SetHeaders(w.Header())

		if !adm.Deferred() {
			next.ServeHTTP(w, r)
			return
		}

		// Deferred deduction needs the final status code.
		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)
		adm.Finish(r.Context(), Outcome{StatusCode: rw.statusCode})
	})
}

// ProtectFunc is Protect for handler functions.
func (l *Limiter) ProtectFunc(group, operation string, next http.HandlerFunc) http.Handler {
	return l.Protect(group, operation, next)
}

// SetHeaders writes the X-RateLimit-* headers for this admission. A
// no-op when the request was not limited or window stats could not be
// read.
func (a *Admission) SetHeaders(h http.Header) {
	if a.item == nil {
		return
	}
	h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", a.item.Amount))
	if a.Decision.Stats != nil {
		h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", a.Decision.Stats.Remaining))
		h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", a.Decision.Stats.ResetAt.Unix()))
	}
}

// WriteRejection answers a denied request: 429 with the rejection
// message for limit violations, 503 for failure-path denials.
func (a *Admission) WriteRejection(w http.ResponseWriter) {
	if a.Failure != nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, "admission check unavailable")
		return
	}

	a.SetHeaders(w.Header())
	if a.Decision.Stats != nil {
		if wait := time.Until(a.Decision.Stats.ResetAt); wait > 0 {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(wait.Seconds())+1))
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusTooManyRequests)
	if a.Decision.Violated != nil {
		w.Write([]byte(RejectionMessage(*a.Decision.Violated)))
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
// for the deduction predicate.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code before writing.
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write ensures WriteHeader is called if not already done.
func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}
