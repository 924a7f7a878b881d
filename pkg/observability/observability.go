// Package observability provides OpenTelemetry tracing and metrics plus the
// structured logger used by every component.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// ServiceName identifies this service in logs, traces and metrics.
const ServiceName = "contractguard"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // e.g., "localhost:4317" for gRPC
	SampleRate     float64
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool // plaintext gRPC (dev only)
}

// DefaultConfig returns telemetry disabled with local collector defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        false,
		Insecure:       true,
	}
}

// Provider manages trace and metric providers and the contract counters.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	accepted metric.Int64Counter
	rejected metric.Int64Counter
	refused  metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates a provider. When telemetry is disabled the global (no-op)
// tracer and meter are used.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.DebugContext(ctx, "observability disabled")
		p.tracer = otel.Tracer(ServiceName)
		p.meter = otel.Meter(ServiceName)
		if err := p.initCounters(); err != nil {
			return nil, err
		}
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = p.tracerProvider.Tracer(ServiceName, trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = p.meterProvider.Meter(ServiceName, metric.WithInstrumentationVersion(config.ServiceVersion))

	if err := p.initCounters(); err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
		"insecure", config.Insecure,
	)
	return p, nil
}

// NewWithProviders wires caller-owned providers, typically SDK providers
// backed by in-memory readers in tests.
func NewWithProviders(tp trace.TracerProvider, mp metric.MeterProvider) (*Provider, error) {
	p := &Provider{
		config: DefaultConfig(),
		tracer: tp.Tracer(ServiceName),
		meter:  mp.Meter(ServiceName),
		logger: slog.Default().With("component", "observability"),
	}
	if err := p.initCounters(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initCounters() error {
	var err error
	if p.accepted, err = p.meter.Int64Counter("contractguard.contracts.accepted",
		metric.WithDescription("Contracts accepted and projected"),
		metric.WithUnit("{contract}"),
	); err != nil {
		return err
	}
	if p.rejected, err = p.meter.Int64Counter("contractguard.contracts.rejected",
		metric.WithDescription("Contracts that failed schema validation"),
		metric.WithUnit("{contract}"),
	); err != nil {
		return err
	}
	if p.refused, err = p.meter.Int64Counter("contractguard.contracts.refused",
		metric.WithDescription("Writes refused while in Air Lock mode"),
		metric.WithUnit("{contract}"),
	); err != nil {
		return err
	}
	if p.errors, err = p.meter.Int64Counter("contractguard.errors.total",
		metric.WithDescription("Store, projection and fatal write errors"),
		metric.WithUnit("{error}"),
	); err != nil {
		return err
	}
	p.duration, err = p.meter.Float64Histogram("contractguard.write.duration",
		metric.WithDescription("WriteContract duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5),
	)
	return err
}

// Shutdown flushes and stops the SDK providers it owns.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// StartSpan starts a new span with the given name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, opts...)
}

// ContractAccepted counts an accepted write.
func (p *Provider) ContractAccepted(ctx context.Context, contractType string) {
	p.accepted.Add(ctx, 1, metric.WithAttributes(attribute.String("contract.type", contractType)))
}

// ContractRejected counts a write rejected by validation.
func (p *Provider) ContractRejected(ctx context.Context, contractType string) {
	p.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("contract.type", contractType)))
}

// ContractRefused counts a write refused in Air Lock mode.
func (p *Provider) ContractRefused(ctx context.Context, contractType string) {
	p.refused.Add(ctx, 1, metric.WithAttributes(attribute.String("contract.type", contractType)))
}

// RecordError counts a failed write by kind.
func (p *Provider) RecordError(ctx context.Context, kind string) {
	p.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("error.kind", kind)))
}

// TrackOperation starts a span and returns a function that ends it and
// records the duration.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	return ctx, func(err error) {
		p.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
