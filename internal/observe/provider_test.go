package observe

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func resourceValue(t *testing.T, cfg ProviderConfig, key attribute.Key) (string, bool) {
	t.Helper()
	res, err := cfg.Resource()
	if err != nil {
		t.Fatalf("Resource: %v", err)
	}
	v, ok := res.Set().Value(key)
	return v.Emit(), ok
}

func TestResource_Defaults(t *testing.T) {
	cfg := ProviderConfig{}

	if got, _ := resourceValue(t, cfg, "service.name"); got != "jarvis" {
		t.Errorf("service.name = %q, want jarvis", got)
	}
	if _, ok := resourceValue(t, cfg, "service.version"); ok {
		t.Error("service.version set without a version")
	}
	if _, ok := resourceValue(t, cfg, "deployment.environment"); ok {
		t.Error("deployment.environment set without an environment")
	}
}

func TestResource_FromTelemetryConfig(t *testing.T) {
	cfg := ProviderConfig{
		ServiceName:    "jarvis-kitchen",
		ServiceVersion: "1.4.0",
		Environment:    "home",
		Attributes:     map[string]string{"room": "kitchen", "mic": "respeaker"},
	}

	want := map[attribute.Key]string{
		"service.name":           "jarvis-kitchen",
		"service.version":        "1.4.0",
		"deployment.environment": "home",
		"room":                   "kitchen",
		"mic":                    "respeaker",
	}
	for k, w := range want {
		if got, ok := resourceValue(t, cfg, k); !ok || got != w {
			t.Errorf("%s = %q (present %v), want %q", k, got, ok, w)
		}
	}
}

func TestInitProvider_ExportsWithResource(t *testing.T) {
	origTP := otel.GetTracerProvider()
	origMP := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
	})

	reg := prometheus.NewRegistry()
	exp := tracetest.NewInMemoryExporter()
	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		Environment:   "home",
		Attributes:    map[string]string{"room": "study"},
		Registerer:    reg,
		TraceExporter: exp,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	_, span := StartTurn(context.Background(), "turn-1")
	EndTurn(span, true, "ok", nil)

	tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	if !ok {
		t.Fatalf("global tracer provider is %T, want *sdktrace.TracerProvider", otel.GetTracerProvider())
	}
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != SpanTurn {
		t.Fatalf("spans = %d, want one %s", len(spans), SpanTurn)
	}
	if v, ok := spans[0].Resource.Set().Value("room"); !ok || v.AsString() != "study" {
		t.Errorf("span resource room = %q, want study", v.Emit())
	}

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.Detections.Add(context.Background(), 1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var labels map[string]string
	for _, f := range families {
		if f.GetName() != "target_info" {
			continue
		}
		labels = map[string]string{}
		for _, lp := range f.GetMetric()[0].GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
	}
	if labels == nil {
		t.Fatal("target_info not registered with the supplied registry")
	}
	if labels["room"] != "study" || labels["deployment_environment"] != "home" || labels["service_name"] != "jarvis" {
		t.Errorf("target_info labels = %v", labels)
	}
}
