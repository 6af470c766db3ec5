package tracing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"

	"github.com/kart-io/policy-watcher/pkg/infra/tracing"
	"github.com/kart-io/policy-watcher/pkg/infra/tracing/tracingtest"
	options "github.com/kart-io/policy-watcher/pkg/options/tracing"
)

func TestNewProviderDisabled(t *testing.T) {
	tracingtest.Install(t)

	p, err := tracing.NewProvider(context.Background(), options.NewOptions())
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProviderNoopExporter(t *testing.T) {
	tracingtest.Install(t)

	opts := options.NewOptions()
	opts.Enabled = true
	opts.Exporter = options.ExporterNoop

	p, err := tracing.NewProvider(context.Background(), opts)
	require.NoError(t, err)
	assert.True(t, p.Enabled())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProviderUnknownExporter(t *testing.T) {
	tracingtest.Install(t)

	opts := options.NewOptions()
	opts.Enabled = true
	opts.Exporter = "zipkin"

	_, err := tracing.NewProvider(context.Background(), opts)
	assert.Error(t, err)
}

func TestInjectExtractRoundTrip(t *testing.T) {
	rec := tracingtest.Install(t)

	ctx, span := tracing.StartSpan(context.Background(), "publish")
	carrier := tracing.Inject(ctx)
	span.End()
	require.Contains(t, carrier, "traceparent")

	remote := tracing.Extract(context.Background(), carrier)
	assert.Equal(t, tracing.TraceIDFromContext(ctx), tracing.TraceIDFromContext(remote))

	_, child := tracing.StartSpan(remote, "receive")
	child.End()

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, spans[0].SpanContext().SpanID(), spans[1].Parent().SpanID())
}

func TestInjectWithoutSpan(t *testing.T) {
	tracingtest.Install(t)

	assert.Nil(t, tracing.Inject(context.Background()))
	assert.Empty(t, tracing.TraceIDFromContext(context.Background()))

	ctx := context.Background()
	assert.Equal(t, ctx, tracing.Extract(ctx, nil))
}

func TestRecordError(t *testing.T) {
	rec := tracingtest.Install(t)

	_, span := tracing.StartSpan(context.Background(), "mutate")
	tracing.RecordError(span, nil)
	tracing.RecordError(span, errors.New("boom"))
	span.End()

	s := tracingtest.Find(rec, "mutate")
	require.NotNil(t, s)
	assert.Equal(t, codes.Error, s.Status().Code)
	assert.Equal(t, "boom", s.Status().Description)
}
