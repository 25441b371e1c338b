// Package metrics exposes the planner's Prometheus collectors.
//
// Example usage:
//
//	m := metrics.New()
//	m.ObserveStage("S1", "PASS", 12*time.Millisecond)
//	m.RecordRun("WARN")
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the planning pipeline.
//
// Every method is safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	// Pipeline
	RunsTotal     *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	GateDecisions *prometheus.CounterVec

	// Lane execution
	LaneTasksTotal  *prometheus.CounterVec
	LLMCallDuration *prometheus.HistogramVec

	// Compliance
	ComplianceScore prometheus.Histogram

	// Research cache
	ResearchCacheHits   prometheus.Counter
	ResearchCacheMisses prometheus.Counter
	ResearchCacheSize   prometheus.Gauge
}

// New creates and registers Prometheus metrics for the planner.
//
// This function uses sync.Once so collectors are registered once per
// process, preventing "duplicate metrics collector registration" panics.
//
// Metrics:
//   - planner_runs_total{decision}
//   - planner_stage_duration_seconds{stage}
//   - planner_gate_decisions_total{stage,decision}
//   - planner_lane_tasks_total{archetype,status}
//   - planner_llm_call_duration_seconds{kind,outcome}
//   - planner_compliance_score
//   - planner_research_cache_hits_total, planner_research_cache_misses_total
//   - planner_research_cache_size
func New() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			RunsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "planner_runs_total",
					Help: "Total number of planning runs by final gate decision",
				},
				[]string{"decision"},
			),

			StageDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "planner_stage_duration_seconds",
					Help:    "Duration of pipeline stages in seconds",
					Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~30s
				},
				[]string{"stage"},
			),

			GateDecisions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "planner_gate_decisions_total",
					Help: "Total number of gate decisions per stage",
				},
				[]string{"stage", "decision"},
			),

			LaneTasksTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "planner_lane_tasks_total",
					Help: "Total number of lane tasks by archetype and status",
				},
				[]string{"archetype", "status"},
			),

			LLMCallDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "planner_llm_call_duration_seconds",
					Help:    "Duration of language model calls in seconds",
					Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
				},
				[]string{"kind", "outcome"},
			),

			ComplianceScore: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "planner_compliance_score",
					Help:    "Weighted compliance adherence score of validated artifacts",
					Buckets: []float64{50, 60, 70, 80, 90, 95, 100},
				},
			),

			ResearchCacheHits: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "planner_research_cache_hits_total",
					Help: "Total number of research cache hits",
				},
			),

			ResearchCacheMisses: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "planner_research_cache_misses_total",
					Help: "Total number of research cache misses",
				},
			),

			ResearchCacheSize: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "planner_research_cache_size",
					Help: "Current number of concerns in the research cache",
				},
			),
		}
	})

	return globalMetrics
}

// ObserveStage records a stage duration and its gate decision.
func (m *Metrics) ObserveStage(stage, decision string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	m.GateDecisions.WithLabelValues(stage, decision).Inc()
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(decision string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(decision).Inc()
}

// RecordLaneTask records one lane task outcome.
func (m *Metrics) RecordLaneTask(archetype, status string) {
	if m == nil {
		return
	}
	m.LaneTasksTotal.WithLabelValues(archetype, status).Inc()
}

// ObserveLLMCall records a language model call.
func (m *Metrics) ObserveLLMCall(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.LLMCallDuration.WithLabelValues(kind, outcome).Observe(d.Seconds())
}

// ObserveCompliance records a compliance score.
func (m *Metrics) ObserveCompliance(score int) {
	if m == nil {
		return
	}
	m.ComplianceScore.Observe(float64(score))
}

// RecordCacheHit records a research cache hit.
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.ResearchCacheHits.Inc()
}

// RecordCacheMiss records a research cache miss.
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.ResearchCacheMisses.Inc()
}

// SetCacheSize updates the research cache size gauge.
func (m *Metrics) SetCacheSize(size int) {
	if m == nil {
		return
	}
	m.ResearchCacheSize.Set(float64(size))
}
