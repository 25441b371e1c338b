// Package executor implements S5: lane tasks fan out as one goroutine per
// lane, run sequentially inside each lane, and are joined before the
// synthesis merge.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/planner/internal/llm"
	"github.com/fyrsmithlabs/planner/internal/metrics"
	"github.com/fyrsmithlabs/planner/internal/plan"
	"github.com/fyrsmithlabs/planner/internal/synthesis"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/planner/internal/executor")

// Defaults applied by New.
const (
	DefaultCallTimeout      = 30 * time.Second
	DefaultMaxParallelLanes = 4
)

// Issue codes emitted by S5.
const (
	CodeIncompleteLane = "incomplete_lane"
	CodeNoLaneOutput   = "no_lane_output"
)

// ErrorKindMissingPrompt marks a task whose prompt was absent from the plan.
const ErrorKindMissingPrompt = "missing_prompt"

// Placeholder returns the rationale text that stands in for a failed task.
func Placeholder(kind string) string {
	return fmt.Sprintf("[ENGINE ERROR: %s]", kind)
}

// Config configures an Executor.
type Config struct {
	MaxParallelLanes int
	CallTimeout      time.Duration
}

// Executor runs lane tasks against an LLM client.
type Executor struct {
	client      llm.Client
	maxParallel int
	callTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// New creates an executor. Zero config fields take defaults.
func New(client llm.Client, cfg Config) *Executor {
	e := &Executor{
		client:      client,
		maxParallel: cfg.MaxParallelLanes,
		callTimeout: cfg.CallTimeout,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	if e.maxParallel <= 0 {
		e.maxParallel = DefaultMaxParallelLanes
	}
	if e.callTimeout <= 0 {
		e.callTimeout = DefaultCallTimeout
	}
	return e
}

// SetMetrics sets the metrics tracker for this executor.
func (e *Executor) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// SetLogger sets the logger for this executor.
func (e *Executor) SetLogger(l *zap.Logger) {
	if l != nil {
		e.logger = l
	}
}

type laneFuture struct {
	done   chan struct{}
	result plan.LaneResult
}

// Execute runs every lane of g and then the synthesis merge. A lane
// failure never aborts sibling lanes.
func (e *Executor) Execute(ctx context.Context, s plan.Skeleton, g plan.TaskGraph, pp plan.PromptPlan) (plan.ExecutionResult, plan.ValidationResult) {
	ctx, span := tracer.Start(ctx, "executor.Execute")
	defer span.End()
	span.SetAttributes(attribute.Int("lanes.count", len(g.Lanes)))

	sem := make(chan struct{}, e.maxParallel)
	futures := make([]*laneFuture, len(g.Lanes))
	for i, lane := range g.Lanes {
		f := &laneFuture{done: make(chan struct{})}
		futures[i] = f
		go func(lane plan.Lane) {
			defer close(f.done)
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				f.result = e.abandonLane(lane, string(llm.KindOf(ctx.Err())))
				return
			}
			f.result = e.RunLane(ctx, lane, pp)
		}(lane)
	}

	lanes := make([]plan.LaneResult, len(futures))
	for i, f := range futures {
		<-f.done
		lanes[i] = f.result
	}

	return Synthesize(s, lanes)
}

// RunLane runs the tasks of one lane in order. Each task receives the
// outputs of the tasks before it. After a failure the remaining tasks are
// recorded as skipped placeholders.
func (e *Executor) RunLane(ctx context.Context, lane plan.Lane, pp plan.PromptPlan) plan.LaneResult {
	ctx, span := tracer.Start(ctx, "executor.RunLane")
	defer span.End()
	span.SetAttributes(attribute.String("lane.archetype", string(lane.Archetype)))

	res := plan.LaneResult{Archetype: lane.Archetype, Complete: true}
	var (
		prior      []plan.PriorOutput
		cumulative plan.TaskOutput
		failed     *plan.ExecError
	)

	for i, id := range lane.NodeIDs {
		terminal := i == len(lane.NodeIDs)-1
		if failed != nil {
			tr := plan.TaskResult{
				TaskID:      id,
				Archetype:   lane.Archetype,
				Status:      plan.TaskSkipped,
				Error:       &plan.ExecError{Kind: failed.Kind, Message: "skipped after an earlier task failed"},
				Placeholder: true,
				StartedAt:   e.now(),
				Output:      plan.TaskOutput{SignalGroups: []plan.SignalGroup{}, Rationale: Placeholder(failed.Kind)},
			}
			if terminal {
				tr.Output = withPlaceholder(cumulative, failed.Kind)
			}
			res.Tasks = append(res.Tasks, tr)
			e.metrics.RecordLaneTask(string(lane.Archetype), string(plan.TaskSkipped))
			continue
		}

		tr := e.runTask(ctx, lane.Archetype, id, pp, prior)
		e.metrics.RecordLaneTask(string(lane.Archetype), string(tr.Status))
		if tr.Status == plan.TaskFailed {
			failed = tr.Error
			res.Complete = false
			if terminal {
				tr.Output = withPlaceholder(cumulative, failed.Kind)
			}
			res.Tasks = append(res.Tasks, tr)
			continue
		}

		prior = append(prior, plan.PriorOutput{TaskID: id, Output: tr.Output})
		accumulate(&cumulative, tr.Output)
		if terminal {
			tr.Output = cumulative
		}
		res.Tasks = append(res.Tasks, tr)
	}
	if !res.Complete {
		span.SetStatus(codes.Error, "lane incomplete")
	}
	return res
}

func (e *Executor) runTask(ctx context.Context, a plan.Archetype, id string, pp plan.PromptPlan, prior []plan.PriorOutput) plan.TaskResult {
	tr := plan.TaskResult{TaskID: id, Archetype: a, StartedAt: e.now()}

	p, ok := pp.Prompt(id)
	if !ok {
		return failTask(tr, ErrorKindMissingPrompt, fmt.Sprintf("no prompt for task %s", id))
	}
	req, err := llm.TaskRequest(p, prior)
	if err != nil {
		return failTask(tr, string(llm.KindMalformed), err.Error())
	}

	ctx, span := tracer.Start(ctx, "executor.Task")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", id), attribute.String("task.archetype", string(a)))

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	start := time.Now()
	raw, err := e.client.Complete(callCtx, req)
	if err == nil {
		tr.Output, err = llm.DecodeTaskOutput(raw)
	}
	tr.DurationMS = time.Since(start).Milliseconds()

	if err != nil {
		kind := string(llm.KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		e.logger.Warn("lane task failed",
			zap.String("task", id),
			zap.String("archetype", string(a)),
			zap.String("kind", kind),
			zap.Error(err))
		return failTask(tr, kind, err.Error())
	}

	stamp(&tr.Output, a)
	tr.Status = plan.TaskSucceeded
	e.logger.Debug("lane task completed",
		zap.String("task", id),
		zap.Int64("duration_ms", tr.DurationMS),
		zap.Int("groups", len(tr.Output.SignalGroups)))
	return tr
}

// abandonLane records every task of lane as failed or skipped without
// calling the client.
func (e *Executor) abandonLane(lane plan.Lane, kind string) plan.LaneResult {
	res := plan.LaneResult{Archetype: lane.Archetype}
	for i, id := range lane.NodeIDs {
		tr := plan.TaskResult{TaskID: id, Archetype: lane.Archetype, StartedAt: e.now()}
		if i == 0 {
			tr = failTask(tr, kind, "lane not started")
		} else {
			tr.Status = plan.TaskSkipped
			tr.Placeholder = true
			tr.Error = &plan.ExecError{Kind: kind, Message: "skipped after an earlier task failed"}
			tr.Output = plan.TaskOutput{SignalGroups: []plan.SignalGroup{}, Rationale: Placeholder(kind)}
		}
		res.Tasks = append(res.Tasks, tr)
	}
	return res
}

func failTask(tr plan.TaskResult, kind, msg string) plan.TaskResult {
	tr.Status = plan.TaskFailed
	tr.Placeholder = true
	tr.Error = &plan.ExecError{Kind: kind, Message: msg}
	tr.Output = plan.TaskOutput{SignalGroups: []plan.SignalGroup{}, Rationale: Placeholder(kind)}
	return tr
}

// Synthesize joins lane results into the execution result: the synthesis
// merge plus per-node results. It is exported so durable workflows can run
// lanes as separate activities and merge afterwards.
func Synthesize(s plan.Skeleton, lanes []plan.LaneResult) (plan.ExecutionResult, plan.ValidationResult) {
	f := plan.NewFindings(plan.StageExecute)

	merged, segments, mergeRes := synthesis.Merge(s, synthesis.FromLanes(lanes))
	f.Absorb(mergeRes)

	out := plan.ExecutionResult{
		Results:   map[string]plan.TaskResult{},
		Lanes:     lanes,
		Synthesis: merged,
		Segments:  segments,
	}
	completed := 0
	for _, l := range lanes {
		for _, t := range l.Tasks {
			out.Results[t.TaskID] = t
		}
		if l.Complete {
			completed++
			continue
		}
		kind := "unknown"
		for _, t := range l.Tasks {
			if t.Status == plan.TaskFailed && t.Error != nil {
				kind = t.Error.Kind
				break
			}
		}
		f.Semantic(CodeIncompleteLane, "%s lane incomplete: %s", l.Archetype.DisplayName(), kind)
	}
	out.Results[plan.SynthesisNodeID] = plan.TaskResult{
		TaskID: plan.SynthesisNodeID,
		Status: plan.TaskSucceeded,
		Output: merged,
	}

	if len(lanes) > 0 && completed == 0 && signalCount(merged) == 0 {
		f.Semantic(CodeNoLaneOutput, "every lane failed and no signals were produced")
	}
	return out, f.Result()
}

// stamp tags output items that carry no archetype with the lane's.
func stamp(out *plan.TaskOutput, a plan.Archetype) {
	if out.SignalGroups == nil {
		out.SignalGroups = []plan.SignalGroup{}
	}
	for gi := range out.SignalGroups {
		for si := range out.SignalGroups[gi].Signals {
			if out.SignalGroups[gi].Signals[si].Archetype == "" {
				out.SignalGroups[gi].Signals[si].Archetype = a
			}
		}
	}
	for i := range out.Criteria {
		if out.Criteria[i].Archetype == "" {
			out.Criteria[i].Archetype = a
		}
	}
	for i := range out.Questions {
		if out.Questions[i].Archetype == "" {
			out.Questions[i].Archetype = a
		}
	}
}

// accumulate appends out to acc. Duplicates are resolved by the synthesis
// merge.
func accumulate(acc *plan.TaskOutput, out plan.TaskOutput) {
	for _, g := range out.SignalGroups {
		g.Signals = append([]plan.Signal(nil), g.Signals...)
		acc.SignalGroups = append(acc.SignalGroups, g)
	}
	acc.Criteria = append(acc.Criteria, out.Criteria...)
	acc.Questions = append(acc.Questions, out.Questions...)
	acc.References = append(acc.References, out.References...)
	acc.DifferentiatorsAddressed = append(acc.DifferentiatorsAddressed, out.DifferentiatorsAddressed...)
	if r := strings.TrimSpace(out.Rationale); r != "" {
		if acc.Rationale != "" {
			acc.Rationale += "\n\n"
		}
		acc.Rationale += r
	}
}

func withPlaceholder(acc plan.TaskOutput, kind string) plan.TaskOutput {
	out := acc
	if out.SignalGroups == nil {
		out.SignalGroups = []plan.SignalGroup{}
	}
	if out.Rationale != "" {
		out.Rationale += "\n\n"
	}
	out.Rationale += Placeholder(kind)
	return out
}

func signalCount(out plan.TaskOutput) int {
	n := 0
	for _, g := range out.SignalGroups {
		n += len(g.Signals)
	}
	return n
}
