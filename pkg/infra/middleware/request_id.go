// Package middleware provides the gin middleware used by the HTTP API.
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
)

// HeaderXRequestID is the header carrying the request ID.
const HeaderXRequestID = "X-Request-ID"

type requestIDKey struct{}

// RequestID returns a middleware that adds a unique request ID to each
// request. An ID sent by the client is kept. The ID is echoed in the
// response header and stored in the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderXRequestID)
		if requestID == "" {
			requestID = ulid.Make().String()
		}

		c.Header(HeaderXRequestID, requestID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), requestIDKey{}, requestID))
		c.Next()
	}
}

// GetRequestID returns the request ID from ctx, or "" if there is none.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
