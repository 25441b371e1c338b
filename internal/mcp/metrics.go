package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/planner/internal/gate"
	"github.com/fyrsmithlabs/planner/internal/llm"
	"github.com/fyrsmithlabs/planner/internal/plan"
	"github.com/fyrsmithlabs/planner/internal/revision"
	"github.com/fyrsmithlabs/planner/internal/services"
	"github.com/fyrsmithlabs/planner/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/planner/internal/mcp"

// Metrics holds the tool invocation instruments.
type Metrics struct {
	invocations    metric.Int64Counter
	duration       metric.Float64Histogram
	errors         metric.Int64Counter
	activeRequests metric.Int64UpDownCounter
}

// NewMetrics creates the instruments on the global meter. An instrument
// that cannot be created is logged and skipped.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	meter := otel.Meter(instrumentationName)
	m := &Metrics{}

	var err error
	m.invocations, err = meter.Int64Counter(
		"planner.mcp.tool.invocations_total",
		metric.WithDescription("MCP tool invocations by tool."),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		logger.Warn("failed to create invocations counter", zap.Error(err))
	}

	m.duration, err = meter.Float64Histogram(
		"planner.mcp.tool.duration_seconds",
		metric.WithDescription("MCP tool duration by tool."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.errors, err = meter.Int64Counter(
		"planner.mcp.tool.errors_total",
		metric.WithDescription("MCP tool errors by tool and reason."),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		logger.Warn("failed to create errors counter", zap.Error(err))
	}

	m.activeRequests, err = meter.Int64UpDownCounter(
		"planner.mcp.tool.active_requests",
		metric.WithDescription("MCP tool calls in flight."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create active requests gauge", zap.Error(err))
	}
	return m
}

// track marks a tool call active and returns a func that records its
// outcome. Call it with the handler's final error.
func (m *Metrics) track(ctx context.Context, tool string) func(error) {
	start := time.Now()
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	if m.activeRequests != nil {
		m.activeRequests.Add(ctx, 1, attrs)
	}
	return func(err error) {
		if m.activeRequests != nil {
			m.activeRequests.Add(ctx, -1, attrs)
		}
		if m.invocations != nil {
			m.invocations.Add(ctx, 1, attrs)
		}
		if m.duration != nil {
			m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
		}
		if err != nil && m.errors != nil {
			m.errors.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", tool),
				attribute.String("reason", categorizeError(err)),
			))
		}
	}
}

// categorizeError maps an error onto a low-cardinality reason label.
func categorizeError(err error) string {
	var llmErr *llm.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, gate.ErrHalted):
		return "halted"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, plan.ErrUnknownScope),
		errors.Is(err, revision.ErrEmptyRemark),
		errors.Is(err, revision.ErrInvalidRevision),
		errors.Is(err, errInvalidInput):
		return "validation_error"
	case errors.Is(err, services.ErrNotConfigured):
		return "not_configured"
	case errors.As(err, &llmErr):
		return "model_" + string(llmErr.Kind)
	default:
		return "internal_error"
	}
}
