// Package tracing installs the OpenTelemetry provider and propagator shared
// by the API, the relay and the notifier. Trace context crosses the broker
// in record headers, so the propagator is installed even with export off.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/campusclinic/medstock/internal/config"
)

const version = "1.0.0"

// Settings selects where and how much to trace.
type Settings struct {
	Enabled     bool
	Service     string
	Environment string
	StoreDriver string
	Endpoint    string
	SampleRate  float64
}

// FromConfig derives the settings of one binary from the shared config.
func FromConfig(service string, cfg *config.Config) Settings {
	return Settings{
		Enabled:     cfg.TracingEnabled,
		Service:     service,
		Environment: cfg.Env,
		StoreDriver: cfg.StoreDriver,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRate:  cfg.TraceSampleRate,
	}
}

// Provider owns the SDK provider when export is enabled.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Init installs the propagator and, when enabled, an OTLP exporter.
func Init(ctx context.Context, s Settings) (*Provider, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !s.Enabled {
		return &Provider{}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(s.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(s.Service),
		semconv.ServiceVersion(version),
		semconv.DeploymentEnvironment(s.Environment),
		attribute.String("medstock.store_driver", s.StoreDriver),
	))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(s.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	return &Provider{tp: tp}, nil
}

// sampler honours the parent decision and samples new roots at rate.
func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
