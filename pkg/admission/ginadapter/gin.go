// Package ginadapter exposes the admission checkpoint as Gin middleware.
//
// The adapter mirrors Limiter.Protect: denied requests are answered
// directly and the handler chain is aborted, admitted requests carry the
// X-RateLimit-* headers, and deferred deductions run after the chain with
// the status code Gin recorded.
//
// Example:
//
//	r := gin.New()
//	r.POST("/reports", ginadapter.Protect(lim, "reports", "generate"), generateHandler)
package ginadapter

import (
	"github.com/gin-gonic/gin"

	"mercator-hq/saturn/pkg/admission"
)

// Protect returns Gin middleware enforcing the declared limits for
// (group, operation).
func Protect(l *admission.Limiter, group, operation string) gin.HandlerFunc {
	return func(c *gin.Context) {
		adm := l.Admit(c.Request, group, operation)
		if !adm.Allowed {
			adm.WriteRejection(c.Writer)
			c.Abort()
			return
		}
		adm.SetHeaders(c.Writer.Header())

		if !adm.Deferred() {
			c.Next()
			return
		}

		// Gin's writer tracks the final status, so no wrapping is needed
		// for the deduction predicate.
		c.Next()
		adm.Finish(c.Request.Context(), admission.Outcome{StatusCode: c.Writer.Status()})
	}
}
