// Package assembler implements S6: it turns the synthesis output into the
// final PlannerPlan and runs the plan-wide checks.
package assembler

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/planner/internal/plan"
	"github.com/fyrsmithlabs/planner/internal/registry"
)

// Issue codes emitted by S6.
const (
	CodeGroupCount            = "group_count"
	CodeUntracedDiff          = "untraced_differentiator"
	CodeSilentArchetype       = "archetype_without_signals"
	CodeMissingEvidence       = "signal_without_evidence"
	CodeMissingSynthesisInput = "missing_synthesis_input"
)

// Input is everything S6 reads. None of it is modified.
type Input struct {
	Request   plan.NormalizedRequest
	Context   plan.DomainContext
	Skeleton  plan.Skeleton
	Prompts   plan.PromptPlan
	Execution plan.ExecutionResult
}

// Assembler builds plans.
type Assembler struct {
	reg           *registry.Registry
	now           func() time.Time
	newID         func() string
	schemaVersion string
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithClock overrides the creation timestamp source.
func WithClock(fn func() time.Time) Option {
	return func(a *Assembler) {
		a.now = fn
	}
}

// WithIDGenerator overrides plan id generation.
func WithIDGenerator(fn func() string) Option {
	return func(a *Assembler) {
		a.newID = fn
	}
}

// WithSchemaVersion overrides the version stamped on emitted plans.
func WithSchemaVersion(v string) Option {
	return func(a *Assembler) {
		if v != "" {
			a.schemaVersion = v
		}
	}
}

// New creates an assembler reading review phases from reg.
func New(reg *registry.Registry, opts ...Option) *Assembler {
	a := &Assembler{
		reg:           reg,
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
		schemaVersion: plan.SchemaVersion,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble builds the plan and returns it with the S6 findings. Audit and
// the overall gate decision are filled in by the caller once S6 is gated.
func (a *Assembler) Assemble(in Input) (plan.PlannerPlan, plan.ValidationResult) {
	f := plan.NewFindings(plan.StageAssemble)
	exec := in.Execution
	synth := exec.Synthesis

	p := plan.PlannerPlan{
		Metadata: plan.Metadata{
			PlanID:           a.newID(),
			SchemaVersion:    a.schemaVersion,
			PlanningID:       in.Request.PlanningID,
			Concern:          in.Request.Concern,
			Domain:           in.Context.Domain.ID,
			DomainKind:       in.Context.Domain.Kind,
			Archetypes:       in.Context.ArchetypeList(),
			PrimaryArchetype: in.Context.PrimaryArchetype,
			CreatedAt:        a.now(),
			IncompleteLanes:  exec.IncompleteLanes(),
		},
		Rationale: plan.Rationale{
			Summary:  summary(in),
			Text:     synth.Rationale,
			Segments: append([]plan.RationaleSegment(nil), exec.Segments...),
		},
		SignalGroups: cloneGroups(synth.SignalGroups),
		Criteria:     nonNil(synth.Criteria),
		Questions:    nonNil(synth.Questions),
		Phases:       a.reg.Phases(in.Context.Domain.Kind),
		Prompts:      promptSpecs(in.Prompts),
		References:   nonNil(synth.References),
	}
	if p.Phases == nil {
		p.Phases = []plan.ReviewPhase{}
	}

	a.check(f, in, p)
	p.Validation = f.Result()
	p = p.Clone()
	return p, p.Validation
}

func (a *Assembler) check(f *plan.Findings, in Input, p plan.PlannerPlan) {
	if len(in.Execution.Lanes) == 0 {
		f.Structural(CodeMissingSynthesisInput, "no lane results reached assembly")
	}

	seen := map[plan.GroupID]bool{}
	for _, g := range p.SignalGroups {
		if !in.Skeleton.HasGroup(g.ID) || seen[g.ID] {
			f.Structural(CodeGroupCount, "signal group %s is not a distinct skeleton group", g.ID)
		}
		seen[g.ID] = true
	}
	if len(seen) != plan.SkeletonSize {
		f.Structural(CodeGroupCount, "plan has %d signal groups, want %d", len(seen), plan.SkeletonSize)
	}

	contributed := map[plan.Archetype]int{}
	traced := map[string]bool{}
	for _, g := range p.SignalGroups {
		for _, sig := range g.Signals {
			contributed[sig.Archetype]++
			for _, d := range sig.Differentiators {
				traced[d] = true
			}
			if len(sig.EvidenceRefs) == 0 {
				f.Clinical(CodeMissingEvidence, "signal %s in %s cites no evidence", sig.ID, g.ID)
			}
		}
	}
	for _, seg := range p.Rationale.Segments {
		for _, d := range seg.Differentiators {
			traced[d] = true
		}
	}
	for _, d := range in.Context.Differentiators {
		if traced[d.ID] || mentioned(p.Rationale.Segments, d) {
			continue
		}
		f.Semantic(CodeUntracedDiff, "differentiator %s is not addressed by any signal or rationale segment", d.ID)
	}

	for _, arch := range p.Metadata.Archetypes {
		if contributed[arch] == 0 {
			f.Semantic(CodeSilentArchetype, "%s contributed no signals", arch.DisplayName())
		}
	}
}

func mentioned(segments []plan.RationaleSegment, d plan.Differentiator) bool {
	for _, seg := range segments {
		text := strings.ToLower(seg.Text)
		if strings.Contains(text, strings.ToLower(d.ID)) {
			return true
		}
		if d.Label != "" && strings.Contains(text, strings.ToLower(d.Label)) {
			return true
		}
	}
	return false
}

func summary(in Input) string {
	names := make([]string, 0, len(in.Context.Archetypes))
	for _, a := range in.Context.ArchetypeList() {
		names = append(names, a.DisplayName())
	}
	domain := in.Context.Domain.Name
	if domain == "" {
		domain = string(in.Context.Domain.ID)
	}
	return fmt.Sprintf("Review plan for %s (%s) using lanes: %s", in.Request.Concern, domain, strings.Join(names, ", "))
}

func promptSpecs(pp plan.PromptPlan) []plan.PromptSpec {
	out := make([]plan.PromptSpec, 0, len(pp.Prompts))
	for _, pr := range pp.Prompts {
		spec := plan.PromptSpec{TaskID: pr.TaskID, Archetype: pr.Archetype, System: pr.System}
		for _, g := range pr.Payload.Groups {
			spec.Groups = append(spec.Groups, g.ID)
		}
		out = append(out, spec)
	}
	return out
}

func cloneGroups(in []plan.SignalGroup) []plan.SignalGroup {
	out := make([]plan.SignalGroup, len(in))
	for i, g := range in {
		g.Hints = append([]string(nil), g.Hints...)
		sigs := make([]plan.Signal, len(g.Signals))
		for j, s := range g.Signals {
			sigs[j] = s.Clone()
		}
		g.Signals = sigs
		out[i] = g
	}
	return out
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return append([]T(nil), in...)
}
