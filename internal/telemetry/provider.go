package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// newResource creates a resource describing the service. It is built
// standalone rather than merged with resource.Default() to avoid schema URL
// conflicts between semconv versions.
func newResource(cfg *Config) (*resource.Resource, error) {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	), nil
}

// newSampler samples roots at SampleRate and follows the parent otherwise.
func newSampler(rate float64) trace.Sampler {
	switch {
	case rate >= 1.0:
		return trace.ParentBased(trace.AlwaysSample())
	case rate <= 0:
		return trace.ParentBased(trace.NeverSample())
	default:
		return trace.ParentBased(trace.TraceIDRatioBased(rate))
	}
}

// newTracerProvider creates a TracerProvider with an OTLP exporter for
// cfg.Protocol unless opts supply an exporter.
func newTracerProvider(ctx context.Context, cfg *Config, res *resource.Resource, opts ...TracerProviderOption) (*trace.TracerProvider, error) {
	o := &tracerProviderOptions{}
	for _, opt := range opts {
		opt(o)
	}

	exporter := o.exporter
	if exporter == nil {
		var err error
		switch cfg.Protocol {
		case ProtocolHTTP:
			httpOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(stripScheme(cfg.Endpoint))}
			if cfg.Insecure {
				httpOpts = append(httpOpts, otlptracehttp.WithInsecure())
			}
			exporter, err = otlptracehttp.New(ctx, httpOpts...)
		default:
			grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(stripScheme(cfg.Endpoint))}
			if cfg.Insecure {
				grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
			}
			exporter, err = otlptracegrpc.New(ctx, grpcOpts...)
		}
		if err != nil {
			return nil, fmt.Errorf("trace exporter: %w", err)
		}
	}

	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(newSampler(cfg.SampleRate)),
	), nil
}

// newMeterProvider creates a MeterProvider with a periodic OTLP reader.
// It returns nil when metrics export is disabled.
func newMeterProvider(ctx context.Context, cfg *Config, res *resource.Resource, opts ...MeterProviderOption) (*metric.MeterProvider, error) {
	if !cfg.Metrics.Enabled {
		return nil, nil
	}
	o := &meterProviderOptions{}
	for _, opt := range opts {
		opt(o)
	}

	exporter := o.exporter
	if exporter == nil {
		var err error
		switch cfg.Protocol {
		case ProtocolHTTP:
			httpOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(stripScheme(cfg.Endpoint))}
			if cfg.Insecure {
				httpOpts = append(httpOpts, otlpmetrichttp.WithInsecure())
			}
			exporter, err = otlpmetrichttp.New(ctx, httpOpts...)
		default:
			grpcOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(stripScheme(cfg.Endpoint))}
			if cfg.Insecure {
				grpcOpts = append(grpcOpts, otlpmetricgrpc.WithInsecure())
			}
			exporter, err = otlpmetricgrpc.New(ctx, grpcOpts...)
		}
		if err != nil {
			return nil, fmt.Errorf("metric exporter: %w", err)
		}
	}

	return metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(exporter,
			metric.WithInterval(cfg.Metrics.ExportInterval.Duration()),
		)),
	), nil
}

// TracerProviderOption overrides how the tracer provider is built.
type TracerProviderOption func(*tracerProviderOptions)

type tracerProviderOptions struct {
	exporter trace.SpanExporter
}

// WithTraceExporter replaces the OTLP span exporter.
func WithTraceExporter(exp trace.SpanExporter) TracerProviderOption {
	return func(o *tracerProviderOptions) { o.exporter = exp }
}

// MeterProviderOption overrides how the meter provider is built.
type MeterProviderOption func(*meterProviderOptions)

type meterProviderOptions struct {
	exporter metric.Exporter
}

// WithMetricExporter replaces the OTLP metric exporter.
func WithMetricExporter(exp metric.Exporter) MeterProviderOption {
	return func(o *meterProviderOptions) { o.exporter = exp }
}
