package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/planner/internal/config"
)

// bufferLogger builds a logger writing JSON lines into a buffer.
func bufferLogger(t *testing.T, mutate func(*Config)) (*Logger, *bytes.Buffer) {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.Level = TraceLevel
	if mutate != nil {
		mutate(cfg)
	}
	var buf bytes.Buffer
	core, err := newCore(cfg, zapcore.AddSync(&buf), nil)
	require.NoError(t, err)
	return build(cfg, core), &buf
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestLogger_ContextCorrelation(t *testing.T) {
	logger, buf := bufferLogger(t, nil)

	ctx := WithRunID(context.Background(), "run-7")
	ctx = WithPlanningID(ctx, "pl-1")
	ctx = WithStage(ctx, "S3")
	logger.Info(ctx, "stage finished", zap.String("decision", "PASS"))

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "run-7", got[0][KeyRunID])
	assert.Equal(t, "pl-1", got[0][KeyPlanningID])
	assert.Equal(t, "S3", got[0][KeyStage])
	assert.Equal(t, "PASS", got[0]["decision"])
	assert.Equal(t, "planner", got[0]["service"])
	assert.Contains(t, got[0]["caller"], "logger_test.go")
}

func TestLogger_TraceLevelName(t *testing.T) {
	logger, buf := bufferLogger(t, nil)
	logger.Trace(context.Background(), "prompt payload")
	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "trace", got[0]["level"])
}

func TestLogger_Redaction(t *testing.T) {
	logger, buf := bufferLogger(t, nil)
	logger.Info(context.Background(), "calling provider with Bearer abc.def",
		zap.String("api_key", "sk-abcdefghijklmnopqrstu"),
		zap.String("note", "key is sk-abcdefghijklmnopqrstu"),
		zap.String("model", "gpt-4o-mini"),
		Secret("embedding", config.Secret("hunter2")),
	)

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "[REDACTED]", got[0]["api_key"])
	assert.Equal(t, "[REDACTED:pattern]", got[0]["note"])
	assert.Equal(t, "gpt-4o-mini", got[0]["model"])
	assert.Equal(t, "[REDACTED:7]", got[0]["embedding"])
	assert.NotContains(t, got[0]["msg"], "abc.def")
	assert.NotContains(t, buf.String(), "sk-abcdefghijklmnopqrstu")
}

func TestLogger_RedactionOnChild(t *testing.T) {
	logger, buf := bufferLogger(t, nil)
	logger.With(zap.String("token", "t0k")).Warn(context.Background(), "retry")
	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "[REDACTED]", got[0]["token"])
}

func TestLogger_SamplingNeverDropsErrors(t *testing.T) {
	logger, buf := bufferLogger(t, func(c *Config) {
		c.Sampling.Initial = 1
		c.Sampling.Thereafter = 0
	})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		logger.Info(ctx, "lane started")
		logger.Error(ctx, "lane failed")
	}

	var infos, errs int
	for _, l := range lines(t, buf) {
		switch l["msg"] {
		case "lane started":
			infos++
		case "lane failed":
			errs++
		}
	}
	assert.Equal(t, 1, infos)
	assert.Equal(t, 5, errs)
}

func TestContextFields_Trace(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	keys := map[string]bool{}
	for _, f := range ContextFields(WithRequestID(ctx, "req-1")) {
		keys[f.Key] = true
	}
	assert.True(t, keys["trace_id"])
	assert.True(t, keys["span_id"])
	assert.True(t, keys["trace_sampled"])
	assert.True(t, keys[KeyRequestID])
}

func TestContextAccessors(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, WithRunID(ctx, ""), "empty ids leave ctx untouched")

	ctx = WithPlanID(WithRunID(ctx, "r"), "p")
	assert.Equal(t, "r", RunIDFromContext(ctx))
	assert.Equal(t, "p", PlanIDFromContext(ctx))
	assert.Empty(t, StageFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(ctx))
	assert.Empty(t, PlanningIDFromContext(ctx))
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Named("executor").Warn(WithStage(ctx, "S5"), "lane incomplete")

	tl.AssertLogged(t, zapcore.WarnLevel, "lane incomplete")
	tl.AssertField(t, "lane incomplete", KeyStage, "S5")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "lane incomplete")
	tl.Reset()
	assert.Empty(t, tl.All())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"defaults", func(*Config) {}, ""},
		{"format", func(c *Config) { c.Format = "xml" }, "format"},
		{"no output", func(c *Config) { c.Output.Stdout = false }, "at least one output"},
		{"tick", func(c *Config) { c.Sampling.Tick = 0 }, "sampling tick"},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"("} }, "invalid redaction pattern"},
		{"empty field", func(c *Config) { c.Fields = map[string]string{"": "x"} }, "field key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
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
	cfg, err := FromSettings(config.LogConfig{Level: "trace", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	_, err = FromSettings(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
