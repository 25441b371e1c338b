package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/planner/internal/config"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"disabled skips checks", func(c *Config) { c.Enabled = false; c.Endpoint = "" }, ""},
		{"local grpc", func(*Config) {}, ""},
		{"local http", func(c *Config) { c.Protocol = ProtocolHTTP; c.Endpoint = "http://127.0.0.1:4318" }, ""},
		{"ipv6 loopback", func(c *Config) { c.Endpoint = "[::1]:4317" }, ""},
		{"remote tls", func(c *Config) { c.Endpoint = "otel.example.com:4317"; c.Insecure = false }, ""},
		{"no endpoint", func(c *Config) { c.Endpoint = "" }, "endpoint is required"},
		{"no service", func(c *Config) { c.ServiceName = "" }, "service_name"},
		{"bad protocol", func(c *Config) { c.Protocol = "udp" }, "protocol"},
		{"remote insecure", func(c *Config) { c.Endpoint = "otel.example.com:4317" }, "insecure export"},
		{"rate", func(c *Config) { c.SampleRate = 1.5 }, "sample_rate"},
		{"interval", func(c *Config) { c.Metrics.ExportInterval = 0 }, "export_interval"},
		{"shutdown", func(c *Config) { c.Shutdown.Timeout = 0 }, "shutdown timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Enabled = true
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.TelemetryConfig{
		Enabled:        true,
		Endpoint:       "localhost:4318",
		Protocol:       "http",
		Insecure:       true,
		SampleRate:     0.25,
		ExportInterval: config.Duration(time.Minute),
		ServiceName:    "planner-worker",
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, ProtocolHTTP, cfg.Protocol)
	assert.Equal(t, 0.25, cfg.SampleRate)
	assert.Equal(t, time.Minute, cfg.Metrics.ExportInterval.Duration())
	assert.Equal(t, "planner-worker", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.NoError(t, cfg.Validate())

	def := FromSettings(config.TelemetryConfig{}, "")
	assert.Equal(t, "planner", def.ServiceName)
	assert.Equal(t, ProtocolGRPC, def.Protocol)
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, tel.IsEnabled())
	assert.Nil(t, tel.LoggerProvider())
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.Equal(t, HealthStatus{Healthy: true}, tel.Health())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Protocol = "carrier-pigeon"

	tel, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Nil(t, tel)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestNew_ExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Metrics.Enabled = false
	exporter := tracetest.NewInMemoryExporter()

	tel, err := New(context.Background(), cfg, WithTracerProviderOptions(WithTraceExporter(exporter)))
	require.NoError(t, err)
	assert.True(t, tel.IsEnabled())

	_, span := otel.Tracer("planner.test").Start(context.Background(), "stage")
	span.End()
	require.NoError(t, tel.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "stage", spans[0].Name)

	require.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.IsEnabled())
}

// countingExporter records how many metric batches were exported.
type countingExporter struct {
	mu      sync.Mutex
	batches int
}

func (e *countingExporter) Temporality(k sdkmetric.InstrumentKind) metricdata.Temporality {
	return sdkmetric.DefaultTemporalitySelector(k)
}

func (e *countingExporter) Aggregation(k sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(k)
}

func (e *countingExporter) Export(context.Context, *metricdata.ResourceMetrics) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batches++
	return nil
}

func (e *countingExporter) ForceFlush(context.Context) error { return nil }
func (e *countingExporter) Shutdown(context.Context) error   { return nil }

func TestNew_ExportsMetrics(t *testing.T) {
	prevTracer, prevMeter := otel.GetTracerProvider(), otel.GetMeterProvider()
	defer func() {
		otel.SetTracerProvider(prevTracer)
		otel.SetMeterProvider(prevMeter)
	}()

	cfg := NewDefaultConfig()
	cfg.Enabled = true
	exporter := &countingExporter{}

	tel, err := New(context.Background(), cfg,
		WithTracerProviderOptions(WithTraceExporter(tracetest.NewInMemoryExporter())),
		WithMeterProviderOptions(WithMetricExporter(exporter)),
	)
	require.NoError(t, err)

	counter, err := otel.Meter("planner.test").Int64Counter("planner.test.runs")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)
	require.NoError(t, tel.ForceFlush(context.Background()))

	exporter.mu.Lock()
	assert.Positive(t, exporter.batches)
	exporter.mu.Unlock()
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestSetDegraded_Logs(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	tel := &Telemetry{config: NewDefaultConfig(), logger: zap.New(core)}
	tel.healthy.Store(true)

	tel.setDegraded("tracer provider failed: %v", "dial refused")

	h := tel.Health()
	assert.True(t, h.Degraded)
	assert.Equal(t, "tracer provider failed: dial refused", h.Reason)
	require.Equal(t, 1, logs.FilterMessage("telemetry degraded").Len())
}

func TestSampler(t *testing.T) {
	assert.Contains(t, newSampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, newSampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, newSampler(0.5).Description(), "TraceIDRatioBased")
}

func TestNewResource(t *testing.T) {
	cfg := NewDefaultConfig()
	res, err := newResource(cfg)
	require.NoError(t, err)

	name, ok := res.Set().Value(attribute.Key("service.name"))
	require.True(t, ok)
	assert.Equal(t, "planner", name.AsString())
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry
	assert.NotPanics(t, func() {
		_ = tel.Tracer("test")
		_ = tel.Meter("test")
		_ = tel.LoggerProvider()
		_ = tel.IsEnabled()
		_ = tel.Shutdown(context.Background())
		_ = tel.ForceFlush(context.Background())
		tel.SetLoggerProvider(nil)
	})
	assert.Equal(t, HealthStatus{Degraded: true}, tel.Health())
}

func TestTestTelemetry(t *testing.T) {
	tt := NewTestTelemetry()
	restore := tt.Install()
	defer restore()

	_, span := otel.Tracer("planner.test").Start(context.Background(), "lane")
	span.SetAttributes(attribute.String("archetype", "Safety_Signal"), attribute.Int("tasks", 3))
	span.End()

	tt.AssertSpanExists(t, "lane")
	tt.AssertSpanAttribute(t, "lane", "archetype", "Safety_Signal")
	tt.AssertSpanAttribute(t, "lane", "tasks", int64(3))

	counter, err := otel.Meter("planner.test").Int64Counter("runs")
	require.NoError(t, err)
	counter.Add(context.Background(), 2)
	rm, err := tt.Collect(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, rm.ScopeMetrics)

	tt.Reset()
	assert.Empty(t, tt.Spans())
}
