package middleware

import (
	"fmt"
	"os"
	"runtime/debug"

	"booking_sync_backend/platform/apperr"
	"booking_sync_backend/platform/httpkit"
	"booking_sync_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

var exit = os.Exit

// Recovery logs panics with their stack. Panics for which fatal returns true
// terminate the process after logging; all others answer 500.
func Recovery(log *logger.Logger, fatal func(recovered any) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			l := log.WithContext(c.Request.Context())
			if fatal != nil && fatal(rec) {
				l.Error("fatal panic, terminating", "panic", fmt.Sprint(rec), "path", c.Request.URL.Path, "stack", string(debug.Stack()))
				exit(1)
				return
			}
			l.Error("panic recovered", "panic", fmt.Sprint(rec), "path", c.Request.URL.Path, "stack", string(debug.Stack()))
			httpkit.Abort(c, apperr.Wrap(apperr.KindInternal, "internal error", nil))
		}()
		c.Next()
	}
}
