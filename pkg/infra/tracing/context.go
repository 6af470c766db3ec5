package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of every span this module starts.
const TracerName = "github.com/kart-io/policy-watcher"

// Attribute keys shared by the engine and the watchers.
const (
	AttrEventType = "policy.event.type"
	AttrPType     = "policy.ptype"
	AttrChanged   = "policy.changed"
	AttrPeer      = "policy.watcher.peer"
	AttrChannel   = "messaging.destination.name"
	AttrSystem    = "messaging.system"
)

// StartSpan starts a span named spanName under ctx using the global tracer
// provider.
func StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, spanName, opts...)
}

// RecordError marks span as failed with err. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Inject serializes the trace context of ctx into a string map suitable for
// embedding in a message. It returns nil when there is nothing to carry.
func Inject(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) == 0 {
		return nil
	}
	return carrier
}

// Extract restores a trace context injected by Inject on top of ctx.
func Extract(ctx context.Context, carrier map[string]string) context.Context {
	if len(carrier) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(carrier))
}

// TraceIDFromContext returns the trace id of the span in ctx, or "".
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// String is attribute.String, re-exported so callers need one import.
func String(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Bool is attribute.Bool, re-exported so callers need one import.
func Bool(key string, value bool) attribute.KeyValue {
	return attribute.Bool(key, value)
}
