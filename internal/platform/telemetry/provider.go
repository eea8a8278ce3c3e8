package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/animus-labs/autopilot/internal/platform/env"
)

// Config selects the OTLP/HTTP collector. An empty Endpoint keeps the global
// no-op providers.
type Config struct {
	Endpoint       string
	ServiceName    string
	MetricInterval time.Duration
}

func ConfigFromEnv(serviceName string) (Config, error) {
	interval, err := env.Duration("AUTOPILOT_OTEL_METRIC_INTERVAL", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:       strings.TrimRight(strings.TrimSpace(env.String("OTEL_EXPORTER_OTLP_ENDPOINT", "")), "/"),
		ServiceName:    env.String("OTEL_SERVICE_NAME", serviceName),
		MetricInterval: interval,
	}
	if cfg.Endpoint != "" && !strings.HasPrefix(cfg.Endpoint, "http://") && !strings.HasPrefix(cfg.Endpoint, "https://") {
		return Config{}, errors.New("OTEL_EXPORTER_OTLP_ENDPOINT must be an http(s) URL")
	}
	if cfg.MetricInterval <= 0 {
		return Config{}, errors.New("AUTOPILOT_OTEL_METRIC_INTERVAL must be positive")
	}
	return cfg, nil
}

func (c Config) Enabled() bool {
	return c.Endpoint != ""
}

// Setup installs global tracer and meter providers exporting over OTLP/HTTP.
// It must run before New so the executor's instruments bind to them. The
// returned shutdown flushes both providers.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if !cfg.Enabled() {
		return func(context.Context) error { return nil }, nil
	}
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithAttributes(attribute.String("service.name", cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	traceExporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint+"/v1/traces"))
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	metricExporter, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(cfg.Endpoint+"/v1/metrics"))
	if err != nil {
		_ = traceExporter.Shutdown(ctx)
		return nil, fmt.Errorf("metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(cfg.MetricInterval))),
		sdkmetric.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
