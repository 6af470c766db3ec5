package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/policy-watcher/pkg/infra/tracing"
)

// Logger returns a middleware that logs every request except those whose
// path is in skipPaths.
func Logger(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if _, ok := skip[path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		fields := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"remote_addr", c.Request.RemoteAddr,
			"latency", latency.String(),
			"latency_ms", latency.Milliseconds(),
		}
		if requestID := GetRequestID(c.Request.Context()); requestID != "" {
			fields = append(fields, "request_id", requestID)
		}
		if traceID := tracing.TraceIDFromContext(c.Request.Context()); traceID != "" {
			fields = append(fields, "trace_id", traceID)
		}
		logger.Infow("HTTP Request", fields...)
	}
}
