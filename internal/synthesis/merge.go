// Package synthesis merges lane terminal outputs into the skeleton's five
// signal groups. The merge is deterministic and idempotent.
package synthesis

import (
	"sort"
	"strings"

	"github.com/fyrsmithlabs/planner/internal/plan"
)

// CodeUnknownOutputGroup flags lane output for a group outside the skeleton.
const CodeUnknownOutputGroup = "unknown_output_group"

// LaneOutput is the terminal output of one lane.
type LaneOutput struct {
	Archetype plan.Archetype
	Output    plan.TaskOutput
	Complete  bool
}

// FromLanes converts executor lane results to merge inputs.
func FromLanes(lanes []plan.LaneResult) []LaneOutput {
	out := make([]LaneOutput, len(lanes))
	for i, l := range lanes {
		out[i] = LaneOutput{Archetype: l.Archetype, Output: l.Terminal().Output, Complete: l.Complete}
	}
	return out
}

// Merge unions every lane output into the skeleton's groups in lane order.
// Signals are deduplicated by id within each group; criteria, questions
// and references by id across lanes. The first occurrence wins. Groups
// outside the skeleton are dropped.
func Merge(s plan.Skeleton, lanes []LaneOutput) (plan.TaskOutput, []plan.RationaleSegment, plan.ValidationResult) {
	f := plan.NewFindings(plan.StageExecute)

	groups := make([]plan.SignalGroup, len(s.Groups))
	index := make(map[plan.GroupID]int, len(s.Groups))
	for i, g := range s.Groups {
		groups[i] = plan.SignalGroup{ID: g.ID, Title: g.Title, Hints: append([]string(nil), g.Hints...), Signals: []plan.Signal{}}
		index[g.ID] = i
	}
	seenSignal := make([]map[string]bool, len(groups))
	for i := range seenSignal {
		seenSignal[i] = map[string]bool{}
	}

	var (
		out      = plan.TaskOutput{}
		segments = make([]plan.RationaleSegment, 0, len(lanes))
		seenRule = map[string]bool{}
		seenQ    = map[string]bool{}
		seenRef  = map[string]bool{}
		seenDiff = map[string]bool{}
	)

	for _, lane := range lanes {
		for _, g := range lane.Output.SignalGroups {
			idx, ok := index[g.ID]
			if !ok {
				f.Semantic(CodeUnknownOutputGroup, "%s returned signals for group %s outside the skeleton; dropped", lane.Archetype.DisplayName(), g.ID)
				continue
			}
			for _, sig := range g.Signals {
				if sig.ID != "" && seenSignal[idx][sig.ID] {
					continue
				}
				seenSignal[idx][sig.ID] = true
				sig = sig.Clone()
				if sig.Archetype == "" {
					sig.Archetype = lane.Archetype
				}
				groups[idx].Signals = append(groups[idx].Signals, sig)
			}
		}
		for _, r := range lane.Output.Criteria {
			if r.ID != "" && seenRule[r.ID] {
				continue
			}
			seenRule[r.ID] = true
			if r.Archetype == "" {
				r.Archetype = lane.Archetype
			}
			if r.Provenance != nil {
				p := *r.Provenance
				r.Provenance = &p
			}
			out.Criteria = append(out.Criteria, r)
		}
		for _, q := range lane.Output.Questions {
			if q.ID != "" && seenQ[q.ID] {
				continue
			}
			seenQ[q.ID] = true
			if q.Archetype == "" {
				q.Archetype = lane.Archetype
			}
			q.Options = append([]string(nil), q.Options...)
			out.Questions = append(out.Questions, q)
		}
		for _, ref := range lane.Output.References {
			if ref.ID != "" && seenRef[ref.ID] {
				continue
			}
			seenRef[ref.ID] = true
			out.References = append(out.References, ref)
		}

		var diffs []string
		for _, d := range lane.Output.DifferentiatorsAddressed {
			if !containsString(diffs, d) {
				diffs = append(diffs, d)
			}
			if !seenDiff[d] {
				seenDiff[d] = true
				out.DifferentiatorsAddressed = append(out.DifferentiatorsAddressed, d)
			}
		}
		segments = append(segments, plan.RationaleSegment{
			Archetype:       lane.Archetype,
			Header:          SegmentHeader(lane.Archetype),
			Text:            strings.TrimSpace(lane.Output.Rationale),
			Differentiators: diffs,
			Incomplete:      !lane.Complete,
		})
	}

	out.SignalGroups = groups
	sort.Strings(out.DifferentiatorsAddressed)
	out.Rationale = RenderSegments(segments)
	return out, segments, f.Result()
}

// SegmentHeader is the markdown header of an archetype's rationale segment.
func SegmentHeader(a plan.Archetype) string {
	return "## " + a.DisplayName()
}

// RenderSegments joins segments into one rationale text, one headed block
// per lane in lane order.
func RenderSegments(segments []plan.RationaleSegment) string {
	blocks := make([]string, 0, len(segments))
	for _, s := range segments {
		blocks = append(blocks, s.Header+"\n\n"+s.Text)
	}
	return strings.Join(blocks, "\n\n")
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
