// Package telemetry wires up OpenTelemetry tracing for the restart
// procedure and MCP tool dispatch, and hands out the meter used for the
// pool occupancy gauges. OTLP trace export is opt-in: with no
// OTEL_EXPORTER_OTLP_ENDPOINT set, Setup leaves the global no-op tracer
// provider in place and costs nothing. No meter provider is installed.
package telemetry

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Providers bundles the tracer this process should use, plus a Shutdown
// hook.
type Providers struct {
	Tracer   trace.Tracer
	Shutdown func(context.Context) error
}

// Setup installs a tracer provider. If OTEL_EXPORTER_OTLP_ENDPOINT is
// unset, tracing is a cheap no-op (the global otel default).
func Setup(ctx context.Context, serviceName string) (*Providers, error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		return &Providers{
			Tracer:   otel.Tracer(serviceName),
			Shutdown: func(context.Context) error { return nil },
		}, nil
	}

	exp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	res, err := sdkresource.Merge(sdkresource.Default(),
		sdkresource.NewSchemaless(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(2*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Providers{
		Tracer: tp.Tracer(serviceName),
		Shutdown: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	}, nil
}

// Meter returns a meter from the global meter provider, used for the pool
// occupancy gauges. Setup does not install a meter provider, so instruments
// created from it record nothing unless one is installed elsewhere.
func Meter(serviceName string) metric.Meter {
	return otel.Meter(serviceName)
}
