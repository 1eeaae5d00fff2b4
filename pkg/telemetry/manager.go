package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Config configures Manager.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Enabled        bool
	OTLPEndpoint   string
	Sampler        SamplerConfig
}

// Manager owns the tracer provider and the per-operation profile store used
// by every instrumented component.
type Manager struct {
	cfg      Config
	provider *sdktrace.TracerProvider
	tracer   oteltrace.Tracer
	profiles *ProfileStore
}

// New constructs and starts a Manager. When cfg.Enabled is false no tracer
// provider is built and spans go to the global tracer (a no-op unless a
// global provider is set elsewhere); TraceOperation still runs the wrapped
// function and records its duration in the profile store, so callers don't
// need to branch on whether tracing is on.
func New(ctx context.Context, cfg Config) (*Manager, error) {
	m := &Manager{cfg: cfg, profiles: NewProfileStore()}

	if !cfg.Enabled {
		m.tracer = otel.Tracer(cfg.ServiceName)
		return m, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build telemetry resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(NewAdaptiveSampler(cfg.Sampler)),
	}

	if cfg.OTLPEndpoint != "" {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint), otlptracehttp.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("build otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)

	m.provider = provider
	m.tracer = provider.Tracer(cfg.ServiceName)
	return m, nil
}

// Tracer exposes the underlying tracer for components that want full
// control over span creation.
func (m *Manager) Tracer() oteltrace.Tracer { return m.tracer }

// TraceOperation runs fn inside a span named name, recording its duration
// into the per-operation profile and marking the span as errored if fn
// returns an error.
func (m *Manager) TraceOperation(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, span := m.tracer.Start(ctx, name)
	defer span.End()

	err := fn(ctx)

	duration := time.Since(start)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	m.profiles.Record(name, duration, err != nil)
	return err
}

// Profiles exposes the profile store for the observability endpoint.
func (m *Manager) Profiles() *ProfileStore { return m.profiles }

// Shutdown flushes and stops the tracer provider, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
