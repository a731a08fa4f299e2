package tracing

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func restoreGlobals(t *testing.T) {
	t.Helper()
	tp := otel.GetTracerProvider()
	prop := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
	})
}

func TestInit(t *testing.T) {
	t.Run("Stdout exporter", func(t *testing.T) {
		restoreGlobals(t)
		var buf bytes.Buffer

		tp, shutdown, err := Init(Options{ServiceName: "order-service", Exporter: ExporterStdout, SampleRatio: 1, Writer: &buf})
		require.NoError(t, err)
		assert.Same(t, tp, otel.GetTracerProvider())

		_, span := otel.Tracer("test").Start(context.Background(), "CreateOrder")
		assert.True(t, span.SpanContext().IsValid())
		span.End()

		require.NoError(t, shutdown(context.Background()))
		assert.Contains(t, buf.String(), `"Name":"CreateOrder"`)
		assert.Contains(t, buf.String(), "order-service")
	})

	t.Run("Propagator writes traceparent", func(t *testing.T) {
		restoreGlobals(t)

		_, shutdown, err := Init(Options{ServiceName: "order-service", SampleRatio: 1})
		require.NoError(t, err)
		defer shutdown(context.Background())

		ctx, span := otel.Tracer("test").Start(context.Background(), "parent")
		defer span.End()

		carrier := propagation.MapCarrier{}
		otel.GetTextMapPropagator().Inject(ctx, carrier)
		assert.Contains(t, carrier.Get("traceparent"), span.SpanContext().TraceID().String())
	})

	t.Run("Unknown exporter", func(t *testing.T) {
		restoreGlobals(t)

		_, _, err := Init(Options{ServiceName: "order-service", Exporter: "zipkin"})
		assert.ErrorContains(t, err, "unknown exporter")
	})
}

func TestMiddleware(t *testing.T) {
	restoreGlobals(t)
	sr := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	otel.SetTextMapPropagator(propagation.TraceContext{})

	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36},
		SpanID:     trace.SpanID{0x00, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})

	var inner trace.SpanContext
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = trace.SpanContextFromContext(r.Context())
		w.WriteHeader(http.StatusBadGateway)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/orders/change-order-status", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	h.ServeHTTP(httptest.NewRecorder(), req)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "POST /webhooks/orders/change-order-status", spans[0].Name())
	assert.Equal(t, parent.TraceID(), spans[0].SpanContext().TraceID())
	assert.Equal(t, parent.SpanID(), spans[0].Parent().SpanID())
	assert.Equal(t, trace.SpanKindServer, spans[0].SpanKind())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, spans[0].SpanContext().SpanID(), inner.SpanID())
}
