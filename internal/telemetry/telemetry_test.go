package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func recordingProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp, err := NewTracerProvider(context.Background(), Config{ServiceName: "askmaven-test", Version: "dev"},
		sdktrace.WithSpanProcessor(rec))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, rec
}

func TestMiddlewareRecordsServerSpan(t *testing.T) {
	t.Parallel()

	tp, rec := recordingProvider(t)
	var inner trace.SpanContext
	h := Middleware("askmaven.api", otelhttp.WithTracerProvider(tp))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = trace.SpanContextFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/v1/jobs", nil))

	require.Equal(t, http.StatusTeapot, rw.Code)
	require.True(t, inner.IsValid())
	spans := rec.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "HTTP GET", spans[0].Name())
	require.Equal(t, trace.SpanKindServer, spans[0].SpanKind())
}

func TestTransportPropagatesTraceContext(t *testing.T) {
	t.Parallel()

	tp, rec := recordingProvider(t)
	var traceparent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("Traceparent")
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	client := &http.Client{Transport: Transport(nil,
		otelhttp.WithTracerProvider(tp),
		otelhttp.WithPropagators(propagation.TraceContext{}),
	)}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+"/scraping-status/1", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	require.NotEmpty(t, traceparent)
	spans := rec.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, trace.SpanKindClient, spans[0].SpanKind())
	require.Contains(t, traceparent, spans[0].SpanContext().TraceID().String())
}

func TestNewTracerProviderSampling(t *testing.T) {
	t.Parallel()

	rec := tracetest.NewSpanRecorder()
	tp, err := NewTracerProvider(context.Background(), Config{ServiceName: "askmaven-test", SampleRatio: 0.000001},
		sdktrace.WithSpanProcessor(rec))
	require.NoError(t, err)
	defer func() { require.NoError(t, tp.Shutdown(context.Background())) }()

	sampled := 0
	for i := 0; i < 20; i++ {
		_, span := tp.Tracer("test").Start(context.Background(), "op")
		if span.SpanContext().IsSampled() {
			sampled++
		}
		span.End()
	}
	require.Less(t, sampled, 20)
}
