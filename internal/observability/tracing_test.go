package observability

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	got := parseHeaders(" authorization=Bearer abc , x-team=collect,broken,=empty")
	if len(got) != 2 {
		t.Fatalf("expected 2 headers, got %#v", got)
	}
	if got["authorization"] != "Bearer abc" || got["x-team"] != "collect" {
		t.Fatalf("unexpected headers %#v", got)
	}
}

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("COLLECT_OTEL_EXPORTER", "otlphttp")
	t.Setenv("COLLECT_OTEL_INSECURE", "false")
	t.Setenv("COLLECT_OTEL_SAMPLER_RATIO", "0.25")
	cfg := TracingConfigFromEnv()
	if cfg.Exporter != "otlphttp" || cfg.Insecure || cfg.SampleRatio != 0.25 {
		t.Fatalf("unexpected config %#v", cfg)
	}
}

func TestStartSpanWithoutExporter(t *testing.T) {
	shutdown, err := InitTracing("collect-test", TracingConfig{Exporter: "none"})
	if err != nil {
		t.Fatalf("init tracing: %v", err)
	}
	defer shutdown(context.Background())
	ctx, span := StartSpan(context.Background(), "test.span")
	if ctx == nil || span == nil {
		t.Fatalf("expected span and context")
	}
	span.End()
}
