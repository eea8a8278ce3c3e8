package telemetry

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

func TestConfigFromEnvDefaultsToDisabled(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg, err := ConfigFromEnv("autopilot")
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Enabled() || cfg.ServiceName != "autopilot" || cfg.MetricInterval != 30*time.Second {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	shutdown, err := Setup(t.Context(), cfg)
	if err != nil {
		t.Fatalf("Setup() err=%v", err)
	}
	if err := shutdown(t.Context()); err != nil {
		t.Fatalf("shutdown err=%v", err)
	}
}

func TestConfigFromEnvValidates(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	if _, err := ConfigFromEnv("autopilot"); err == nil {
		t.Fatalf("expected error for endpoint without scheme")
	}
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4318/")
	t.Setenv("AUTOPILOT_OTEL_METRIC_INTERVAL", "0s")
	if _, err := ConfigFromEnv("autopilot"); err == nil {
		t.Fatalf("expected error for zero metric interval")
	}
	t.Setenv("AUTOPILOT_OTEL_METRIC_INTERVAL", "5s")
	cfg, err := ConfigFromEnv("sweeper")
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Endpoint != "http://collector:4318" {
		t.Fatalf("endpoint=%q", cfg.Endpoint)
	}
}

func TestSetupExportsToCollector(t *testing.T) {
	var requests atomic.Int64
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer collector.Close()

	prevTracer, prevMeter := otel.GetTracerProvider(), otel.GetMeterProvider()
	defer func() {
		otel.SetTracerProvider(prevTracer)
		otel.SetMeterProvider(prevMeter)
	}()

	shutdown, err := Setup(t.Context(), Config{Endpoint: collector.URL, ServiceName: "autopilot-test", MetricInterval: time.Hour})
	if err != nil {
		t.Fatalf("Setup() err=%v", err)
	}
	inst := New()
	ctx, span := inst.StartSpan(t.Context(), "autopilot.execute_run")
	inst.CountAction(ctx, "update_record", "executed")
	span.End()

	if err := shutdown(t.Context()); err != nil {
		t.Fatalf("shutdown err=%v", err)
	}
	if requests.Load() == 0 {
		t.Fatalf("nothing was exported on shutdown")
	}
}
