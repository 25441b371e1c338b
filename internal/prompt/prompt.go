// Package prompt implements S4: one grounded prompt per task graph node.
package prompt

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/planner/internal/plan"
	"github.com/fyrsmithlabs/planner/internal/registry"
)

// Issue codes emitted by S4.
const (
	CodePromptCoverage      = "prompt_coverage"
	CodeUngroundedTaskDiff  = "ungrounded_task_differentiator"
	CodeMissingRankContext  = "missing_rank_context"
	CodeMissingSafetyBundle = "missing_safety_bundle"
	CodeUnknownTaskTemplate = "unknown_task_template"
)

const (
	synthesisInstruction = "Merge the lane outputs into the five signal groups without inventing new groups. " +
		"Deduplicate signals, criteria, questions and references by id and keep each lane's rationale under its own header."

	// OutputContract is appended to every system instruction.
	OutputContract = "Respond with a single JSON object with keys signal_groups, references, criteria, questions, " +
		"rationale and differentiators_addressed. Every signal must carry provenance and evidence_refs. " +
		"Use only the group ids listed in groups."
)

// Builder builds prompt plans.
type Builder struct {
	reg *registry.Registry
}

// New creates a builder over reg.
func New(reg *registry.Registry) *Builder {
	return &Builder{reg: reg}
}

// Build returns one prompt per node of g, in node order.
func (b *Builder) Build(req plan.NormalizedRequest, dc plan.DomainContext, s plan.Skeleton, g plan.TaskGraph) (plan.PromptPlan, plan.ValidationResult) {
	f := plan.NewFindings(plan.StagePrompts)
	pp := plan.PromptPlan{Prompts: make([]plan.Prompt, 0, len(g.Nodes))}

	if dc.Domain.Kind == plan.KindSafety && dc.Safety == nil {
		f.Semantic(CodeMissingSafetyBundle, "safety domain %s has no prevention bundle to ground prompts", dc.Domain.ID)
	}
	if dc.RankingExpected && dc.Ranking == nil {
		f.Semantic(CodeMissingRankContext, "ranking domain %s prompts carry no rank context", dc.Domain.ID)
	}

	facts := groundingFacts(dc)
	for _, n := range g.Nodes {
		system, ok := b.system(n)
		if !ok {
			f.Structural(CodeUnknownTaskTemplate, "node %s has no task template for %s", n.ID, n.Archetype)
			continue
		}
		for _, d := range n.Differentiators {
			if !dc.HasDifferentiator(d) {
				f.Semantic(CodeUngroundedTaskDiff, "node %s references differentiator %s absent from the domain context", n.ID, d)
			}
		}

		ctx := dc.Clone()
		payload := plan.PromptPayload{
			Kind:                plan.PromptTask,
			TaskID:              n.ID,
			Task:                n.Task,
			Archetype:           n.Archetype,
			Concern:             req.Concern,
			Intent:              req.Intent,
			TargetPopulation:    req.TargetPopulation,
			Requirements:        append([]string(nil), req.Requirements...),
			Domain:              ctx.Domain,
			DomainRules:         ctx.DomainRules,
			Differentiators:     ctx.Differentiators,
			TaskDifferentiators: append([]string(nil), n.Differentiators...),
			Benchmarks:          ctx.Benchmarks,
			Groups:              groupContexts(n.Groups, s),
			Safety:              ctx.Safety,
			Ranking:             ctx.Ranking,
			Facts:               append([]plan.SourcedFact(nil), facts...),
			DependsOn:           append([]string(nil), n.DependsOn...),
		}
		pp.Prompts = append(pp.Prompts, plan.Prompt{
			TaskID:    n.ID,
			Archetype: n.Archetype,
			System:    system,
			Payload:   payload,
		})
	}

	for _, issue := range Validate(pp, g) {
		f.Add(plan.TierStructural, issue)
	}
	return pp, f.Result()
}

func (b *Builder) system(n plan.TaskNode) (string, bool) {
	if n.Kind == plan.NodeSynthesis {
		return synthesisInstruction + "\n\n" + OutputContract, true
	}
	spec, ok := b.reg.Archetype(n.Archetype)
	if !ok {
		return "", false
	}
	for _, t := range spec.Tasks {
		if t.Name == n.Task {
			return strings.Join([]string{spec.Instruction, t.Instruction, OutputContract}, "\n\n"), true
		}
	}
	return "", false
}

func groupContexts(ids []plan.GroupID, s plan.Skeleton) []plan.GroupContext {
	out := make([]plan.GroupContext, 0, len(ids))
	for _, id := range ids {
		gc := plan.GroupContext{ID: id}
		for _, g := range s.Groups {
			if g.ID == id {
				gc.Title = g.Title
				gc.Hints = append([]string(nil), g.Hints...)
				break
			}
		}
		out = append(out, gc)
	}
	return out
}

// groundingFacts returns research facts followed by packet facts not already
// present.
func groundingFacts(dc plan.DomainContext) []plan.SourcedFact {
	var out []plan.SourcedFact
	seen := map[string]bool{}
	if dc.Research != nil {
		for _, fact := range dc.Research.Facts {
			if !seen[fact.ID] {
				seen[fact.ID] = true
				out = append(out, fact)
			}
		}
	}
	if dc.Packet != nil {
		for _, fact := range dc.Packet.Facts {
			if !seen[fact.ID] {
				seen[fact.ID] = true
				out = append(out, fact)
			}
		}
	}
	return out
}

// Validate checks that pp covers exactly the nodes of g, one prompt each.
func Validate(pp plan.PromptPlan, g plan.TaskGraph) []plan.Issue {
	var issues []plan.Issue
	add := func(format string, args ...any) {
		issues = append(issues, plan.Issue{Code: CodePromptCoverage, Message: fmt.Sprintf(format, args...), Stage: plan.StagePrompts})
	}

	if len(pp.Prompts) != len(g.Nodes) {
		add("%d prompts for %d task nodes", len(pp.Prompts), len(g.Nodes))
	}
	nodes := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		nodes[n.ID] = true
	}
	seen := make(map[string]bool, len(pp.Prompts))
	for _, p := range pp.Prompts {
		if seen[p.TaskID] {
			add("task %s has more than one prompt", p.TaskID)
		}
		seen[p.TaskID] = true
		if !nodes[p.TaskID] {
			add("prompt targets unknown task %s", p.TaskID)
		}
		if p.Payload.TaskID != p.TaskID {
			add("prompt %s carries payload for %s", p.TaskID, p.Payload.TaskID)
		}
	}
	for _, n := range g.Nodes {
		if !seen[n.ID] {
			add("task %s has no prompt", n.ID)
		}
	}
	return issues
}
