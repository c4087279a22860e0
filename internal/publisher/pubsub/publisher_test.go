package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewRequiresProjectAndTopic(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), "", "job-events")
	require.Error(t, err)
	_, err = New(context.Background(), "askmaven", "")
	require.Error(t, err)
}

func TestUnconfiguredPublisher(t *testing.T) {
	t.Parallel()

	var p *Publisher
	_, err := p.Publish(context.Background(), "job-events", map[string]string{}, nil)
	require.ErrorContains(t, err, "not configured")
	require.NoError(t, p.Close())
	require.NoError(t, (&Publisher{}).Close())
}

func TestAttributeCarrierInjectsTraceContext(t *testing.T) {
	t.Parallel()

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	attrs := attributeCarrier{"stage": "JOB_FAILED"}
	propagation.TraceContext{}.Inject(ctx, attrs)

	require.Contains(t, attrs.Get("traceparent"), span.SpanContext().TraceID().String())
	require.ElementsMatch(t, []string{"stage", "traceparent"}, attrs.Keys())
}
