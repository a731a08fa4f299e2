package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

type Options struct {
	ServiceName string
	Exporter    string
	SampleRatio float64
	// Writer receives stdout exports; os.Stdout when nil.
	Writer io.Writer
}

// Init installs the global tracer provider and the W3C trace-context
// propagator. The returned function flushes and stops the provider.
func Init(opts Options) (*sdktrace.TracerProvider, func(context.Context) error, error) {
	res := resource.NewSchemaless(attribute.String("service.name", opts.ServiceName))

	providerOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRatio))),
	}

	switch opts.Exporter {
	case "", ExporterNone:
	case ExporterStdout:
		w := opts.Writer
		if w == nil {
			w = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, nil, fmt.Errorf("tracing: stdout exporter: %w", err)
		}
		providerOpts = append(providerOpts, sdktrace.WithBatcher(exp))
	default:
		return nil, nil, fmt.Errorf("tracing: unknown exporter %q", opts.Exporter)
	}

	tp := sdktrace.NewTracerProvider(providerOpts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp, tp.Shutdown, nil
}
