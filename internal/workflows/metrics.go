package workflows

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/planner/internal/workflows"

// Metrics for the plan workflow. Recorded from activities only; workflow
// code must stay deterministic.
var (
	planRunCounter       metric.Int64Counter
	activityDuration     metric.Float64Histogram
	activityErrorCounter metric.Int64Counter
)

// initMetrics initializes OpenTelemetry metrics for workflows.
// This is called once during package initialization.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	planRunCounter, err = meter.Int64Counter(
		"planner.workflows.plan.runs",
		metric.WithDescription("Plan workflow runs by gate decision"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create plan run counter: %v", err))
	}

	activityDuration, err = meter.Float64Histogram(
		"planner.workflows.activity.duration",
		metric.WithDescription("Duration of workflow activity executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity duration: %v", err))
	}

	activityErrorCounter, err = meter.Int64Counter(
		"planner.workflows.activity.errors",
		metric.WithDescription("Number of activity execution errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity error counter: %v", err))
	}
}

func init() {
	initMetrics()
}
