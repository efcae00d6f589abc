// Package observability wires OpenTelemetry trace and metric export for the
// demo toolchain. Spans and metrics are emitted by the verification gate;
// this package installs the global providers that collect them.
package observability

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const serviceName = "aport-demo"

// Options configures telemetry setup.
type Options struct {
	// Enabled installs real providers; disabled setup is a no-op and the
	// gate's instrumentation falls back to the global no-op providers.
	Enabled bool
	// ServiceVersion is stamped onto the telemetry resource.
	ServiceVersion string
	// Writer receives the exported spans and metrics. Defaults to stdout.
	Writer io.Writer
	// MetricInterval is the periodic reader interval. Defaults to 30s.
	MetricInterval time.Duration
}

// Setup installs global OpenTelemetry providers per the options and returns
// a shutdown function that flushes both pipelines. The shutdown function is
// never nil.
func Setup(ctx context.Context, opts Options) (func(context.Context) error, error) {
	if !opts.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	interval := opts.MetricInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(opts.ServiceVersion),
	))
	if err != nil {
		return nil, err
	}

	traceExporter, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, err
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)

	metricExporter, err := stdoutmetric.New(
		stdoutmetric.WithEncoder(json.NewEncoder(w)),
	)
	if err != nil {
		shutdownErr := tracerProvider.Shutdown(ctx)
		return nil, errors.Join(err, shutdownErr)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		return errors.Join(
			tracerProvider.Shutdown(ctx),
			meterProvider.Shutdown(ctx),
		)
	}, nil
}
