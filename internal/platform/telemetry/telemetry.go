// Package telemetry holds the OpenTelemetry instruments used by the executor.
// Instruments come from the global providers, which are no-ops until Setup
// installs the OTLP exporters.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/animus-labs/autopilot"

type Instruments struct {
	Tracer      trace.Tracer
	actions     metric.Int64Counter
	runDuration metric.Float64Histogram
}

func New() *Instruments {
	meter := otel.Meter(instrumentationName)
	inst := &Instruments{Tracer: otel.Tracer(instrumentationName)}
	// Instrument creation only fails on invalid names; a nil instrument is skipped below.
	inst.actions, _ = meter.Int64Counter(
		"autopilot.actions",
		metric.WithDescription("Actions processed by the executor, by outcome."),
	)
	inst.runDuration, _ = meter.Float64Histogram(
		"autopilot.run.duration",
		metric.WithDescription("Duration of one execution pass."),
		metric.WithUnit("s"),
	)
	return inst
}

func (i *Instruments) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if i == nil || i.Tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return i.Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (i *Instruments) CountAction(ctx context.Context, tool, outcome string) {
	if i == nil || i.actions == nil {
		return
	}
	i.actions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("outcome", outcome),
	))
}

func (i *Instruments) RecordRun(ctx context.Context, status string, dryRun bool, d time.Duration) {
	if i == nil || i.runDuration == nil {
		return
	}
	i.runDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("status", status),
		attribute.Bool("dry_run", dryRun),
	))
}
