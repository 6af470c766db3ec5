package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/policy-watcher/pkg/utils/errors"
	"github.com/kart-io/policy-watcher/pkg/utils/response"
)

// Recovery returns a middleware that turns a panicking handler into an
// ErrInternal response. The stack trace is logged, never returned.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("Panic recovered",
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"request_id", GetRequestID(c.Request.Context()),
					"error", fmt.Sprint(r),
					"stack", string(debug.Stack()),
				)
				response.Write(c, errors.ErrInternal.WithMessage("internal server error"), nil)
				c.Abort()
			}
		}()
		c.Next()
	}
}
