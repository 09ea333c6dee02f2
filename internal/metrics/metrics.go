// Package metrics wires the OpenTelemetry meter and tracer providers used
// across the engine. storage/sqlite, aggregation, pipeline and syncdelta
// each call otel.Meter/otel.Tracer with their own instrumentation name
// directly, so this package only owns process-wide provider setup: a
// stdout exporter suitable for a CLI run.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Providers bundles the metric and trace providers installed as the global
// otel defaults, plus a Shutdown to flush them on exit.
type Providers struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
}

// Setup installs stdout-backed metric and trace providers as the global
// otel defaults and returns a handle to shut them down. pretty controls
// whether the stdout exporters indent their JSON output (useful for a
// human running the CLI directly; false for piping to a log aggregator).
func Setup(pretty bool) (*Providers, error) {
	metricOpts := []stdoutmetric.Option{}
	traceOpts := []stdouttrace.Option{}
	if pretty {
		metricOpts = append(metricOpts, stdoutmetric.WithPrettyPrint())
		traceOpts = append(traceOpts, stdouttrace.WithPrettyPrint())
	}

	metricExporter, err := stdoutmetric.New(metricOpts...)
	if err != nil {
		return nil, err
	}
	traceExporter, err := stdouttrace.New(traceOpts...)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(30*time.Second))),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
	)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return &Providers{meterProvider: mp, tracerProvider: tp}, nil
}

// Shutdown flushes and stops both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		return err
	}
	return p.meterProvider.Shutdown(ctx)
}
