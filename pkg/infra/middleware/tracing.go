package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/policy-watcher/pkg/infra/tracing"
)

// Tracing returns a middleware that continues the caller's W3C trace, or
// starts a new one, and wraps the request in a server span named after the
// matched route. Paths in skipPaths are not traced.
func Tracing(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		req := c.Request
		if _, ok := skip[req.URL.Path]; ok {
			c.Next()
			return
		}

		// the propagator is looked up per request so one installed after the
		// router was built still applies
		ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := tracing.StartSpan(ctx, fmt.Sprintf("%s %s", req.Method, route),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPMethod(req.Method),
				semconv.HTTPRoute(route),
				attribute.String("url.path", req.URL.Path),
				semconv.UserAgentOriginal(req.UserAgent()),
			),
		)
		defer span.End()

		if requestID := GetRequestID(req.Context()); requestID != "" {
			span.SetAttributes(attribute.String("http.request_id", requestID))
		}

		c.Request = req.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(semconv.HTTPStatusCode(status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
		if len(c.Errors) > 0 {
			span.RecordError(c.Errors.Last())
		}
	}
}
