// Package audit delivers per-stage gate records and run reports to
// external consumers.
package audit

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/planner/internal/plan"
)

// StageEvent is one gated stage of a run.
type StageEvent struct {
	RunID      string           `json:"run_id"`
	PlanningID string           `json:"planning_id"`
	Record     plan.StageRecord `json:"record"`
}

// Sink receives audit events. Implementations must be safe for concurrent
// use; a sink error never changes a run's outcome.
type Sink interface {
	RecordStage(ctx context.Context, ev StageEvent) error
	RecordRun(ctx context.Context, report plan.RunReport) error
}

// Nop discards every event.
type Nop struct{}

// RecordStage implements Sink.
func (Nop) RecordStage(context.Context, StageEvent) error { return nil }

// RecordRun implements Sink.
func (Nop) RecordRun(context.Context, plan.RunReport) error { return nil }

// LogSink writes events as structured log entries.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a sink writing to logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("audit")}
}

// RecordStage implements Sink.
func (s *LogSink) RecordStage(_ context.Context, ev StageEvent) error {
	rec := ev.Record
	fields := []zap.Field{
		zap.String("run.id", ev.RunID),
		zap.String("planning.id", ev.PlanningID),
		zap.String("pipeline.stage", string(rec.Stage)),
		zap.String("decision", string(rec.Gate.Decision)),
		zap.Int64("duration_ms", rec.DurationMS),
	}
	if rec.Gate.Reason != "" {
		fields = append(fields, zap.String("reason", rec.Gate.Reason))
	}
	switch rec.Gate.Decision {
	case plan.DecisionHalt:
		s.logger.Error("stage halted", fields...)
	case plan.DecisionWarn:
		s.logger.Warn("stage warned", fields...)
	default:
		s.logger.Info("stage passed", fields...)
	}
	return nil
}

// RecordRun implements Sink.
func (s *LogSink) RecordRun(_ context.Context, r plan.RunReport) error {
	fields := []zap.Field{
		zap.String("run.id", r.RunID),
		zap.String("planning.id", r.PlanningID),
		zap.String("plan.id", r.PlanID),
		zap.String("decision", string(r.Decision)),
		zap.Int("stages", len(r.Records)),
		zap.Int("warnings", len(r.Warnings)),
	}
	if r.HaltedAt != "" {
		fields = append(fields, zap.String("halted_at", string(r.HaltedAt)))
	}
	s.logger.Info("run finished", fields...)
	return nil
}

// Multi fans events out to every sink and joins their errors.
type Multi []Sink

// RecordStage implements Sink.
func (m Multi) RecordStage(ctx context.Context, ev StageEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.RecordStage(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordRun implements Sink.
func (m Multi) RecordRun(ctx context.Context, r plan.RunReport) error {
	var errs []error
	for _, s := range m {
		if err := s.RecordRun(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Memory keeps events in process.
type Memory struct {
	mu     sync.Mutex
	stages []StageEvent
	runs   []plan.RunReport
}

// RecordStage implements Sink.
func (m *Memory) RecordStage(_ context.Context, ev StageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, ev)
	return nil
}

// RecordRun implements Sink.
func (m *Memory) RecordRun(_ context.Context, r plan.RunReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return nil
}

// Stages returns the recorded stage events.
func (m *Memory) Stages() []StageEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StageEvent(nil), m.stages...)
}

// Runs returns the recorded run reports.
func (m *Memory) Runs() []plan.RunReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]plan.RunReport(nil), m.runs...)
}
