package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/policy-watcher/pkg/infra/tracing"
	"github.com/kart-io/policy-watcher/pkg/infra/tracing/tracingtest"
	"github.com/kart-io/policy-watcher/pkg/utils/errors"
)

func newEngine(handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(Recovery(), RequestID(), Logger("/healthz"))
	engine.GET("/test", handler)
	return engine
}

func TestRequestIDGenerated(t *testing.T) {
	var seen string
	engine := newEngine(func(c *gin.Context) {
		seen = GetRequestID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(HeaderXRequestID))
}

func TestRequestIDPropagated(t *testing.T) {
	engine := newEngine(func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c.Request.Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(HeaderXRequestID, "req-123")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Body.String())
	assert.Equal(t, "req-123", w.Header().Get(HeaderXRequestID))
}

func TestRecovery(t *testing.T) {
	engine := newEngine(func(*gin.Context) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), fmt.Sprint(errors.ErrInternal.Code))
}

func TestTracingContinuesCallerTrace(t *testing.T) {
	rec := tracingtest.Install(t)

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(RequestID(), Tracing("/healthz"))

	var handlerTraceID string
	engine.GET("/v1/policies/:ptype", func(c *gin.Context) {
		handlerTraceID = tracing.TraceIDFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})
	engine.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodGet, "/v1/policies/p", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	engine.ServeHTTP(httptest.NewRecorder(), req)
	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, traceID, handlerTraceID)
	require.Equal(t, []string{"GET /v1/policies/:ptype"}, tracingtest.Names(rec), "skipped paths are not traced")

	span := rec.Ended()[0]
	assert.Equal(t, trace.SpanKindServer, span.SpanKind())
	assert.Equal(t, traceID, span.SpanContext().TraceID().String())
	assert.True(t, span.Parent().IsRemote())
}

func TestTracingMarksServerErrors(t *testing.T) {
	rec := tracingtest.Install(t)

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(Recovery(), Tracing())
	engine.GET("/boom", func(c *gin.Context) { c.AbortWithStatus(http.StatusServiceUnavailable) })

	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	span := tracingtest.Find(rec, "GET /boom")
	require.NotNil(t, span)
	assert.Equal(t, codes.Error, span.Status().Code)
}
