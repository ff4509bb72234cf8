package tracing

import (
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/campusclinic/medstock/internal/config"
)

func TestDisabledInstallsPropagatorOnly(t *testing.T) {
	p, err := Init(context.Background(), Settings{Service: "medstock-test"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if p.tp != nil {
		t.Error("disabled tracing should not build a provider")
	}
	if fields := otel.GetTextMapPropagator().Fields(); len(fields) == 0 {
		t.Error("expected trace context propagator to be installed")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	s := FromConfig("outbox-relay", &config.Config{
		Env:             "production",
		StoreDriver:     config.DriverPostgres,
		TracingEnabled:  true,
		OTLPEndpoint:    "collector:4317",
		TraceSampleRate: 0.25,
	})
	if !s.Enabled || s.Service != "outbox-relay" || s.Endpoint != "collector:4317" || s.SampleRate != 0.25 {
		t.Errorf("settings = %+v", s)
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "ParentBased{root:AlwaysOffSampler"},
		{0.5, "ParentBased{root:TraceIDRatioBased{0.5}"},
	}
	for _, tt := range tests {
		if got := sampler(tt.rate).Description(); !strings.HasPrefix(got, tt.want) {
			t.Errorf("sampler(%v) = %q, want prefix %q", tt.rate, got, tt.want)
		}
	}
}
