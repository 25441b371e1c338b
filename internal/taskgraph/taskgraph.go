// Package taskgraph implements S3: it expands each archetype lane into its
// task template and joins every lane terminal into a single synthesis node.
package taskgraph

import (
	"errors"
	"sort"

	"github.com/fyrsmithlabs/planner/internal/plan"
	"github.com/fyrsmithlabs/planner/internal/registry"
)

// Issue codes emitted by S3.
const (
	CodeNoLanes          = "no_lanes"
	CodeUnknownArchetype = "unknown_archetype"
	CodeInvalidGraph     = "invalid_task_graph"
	CodeGraphCycle       = "task_graph_cycle"
)

const synthesisTask = "synthesis"

// Builder expands DomainContexts into task graphs.
type Builder struct {
	reg *registry.Registry
}

// New creates a builder over reg.
func New(reg *registry.Registry) *Builder {
	return &Builder{reg: reg}
}

// Build returns the task graph for dc. Lanes appear in the archetype order
// fixed by S1; within a lane each task depends on its predecessor.
func (b *Builder) Build(dc plan.DomainContext, s plan.Skeleton) (plan.TaskGraph, plan.ValidationResult) {
	f := plan.NewFindings(plan.StageTaskGraph)
	var g plan.TaskGraph

	if len(dc.Archetypes) == 0 {
		f.Structural(CodeNoLanes, "domain context selects no archetype lanes")
		return g, f.Result()
	}

	terminals := make([]string, 0, len(dc.Archetypes))
	for _, assign := range dc.Archetypes {
		spec, ok := b.reg.Archetype(assign.Archetype)
		if !ok {
			f.Structural(CodeUnknownArchetype, "archetype %s has no lane template", assign.Archetype)
			continue
		}
		groups := laneGroups(spec.Focus, s)
		lane := plan.Lane{Archetype: assign.Archetype}
		prev := ""
		for i, task := range spec.Tasks {
			n := plan.TaskNode{
				ID:              plan.NodeID(assign.Archetype, task.Name),
				Archetype:       assign.Archetype,
				Task:            task.Name,
				Kind:            plan.NodeLane,
				Groups:          groups,
				Differentiators: append([]string(nil), assign.Triggers...),
				Terminal:        i == len(spec.Tasks)-1,
			}
			if prev != "" {
				n.DependsOn = []string{prev}
			}
			g.Nodes = append(g.Nodes, n)
			lane.NodeIDs = append(lane.NodeIDs, n.ID)
			prev = n.ID
		}
		g.Lanes = append(g.Lanes, lane)
		terminals = append(terminals, lane.Terminal())
	}
	if f.Result().HasStructuralErrors() {
		return plan.TaskGraph{}, f.Result()
	}

	g.Nodes = append(g.Nodes, plan.TaskNode{
		ID:        plan.SynthesisNodeID,
		Task:      synthesisTask,
		Kind:      plan.NodeSynthesis,
		DependsOn: terminals,
		Groups:    s.GroupIDs(),
	})

	if err := Validate(g, dc.ArchetypeList()); err != nil {
		code := CodeInvalidGraph
		if errors.Is(err, ErrCycleFound) {
			code = CodeGraphCycle
		}
		f.Structural(code, "%v", err)
	}
	return g, f.Result()
}

// laneGroups returns the archetype's focus groups that exist in the
// skeleton, or every skeleton group when none of them do.
func laneGroups(focus []plan.GroupID, s plan.Skeleton) []plan.GroupID {
	var out []plan.GroupID
	for _, id := range focus {
		if s.HasGroup(id) {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return s.GroupIDs()
	}
	return out
}

// Validate checks that g is a well-formed lane DAG: unique node ids, lanes
// in the given archetype order, linear lanes with no cross-lane edges, and
// one synthesis sink that depends on exactly the lane terminals.
func Validate(g plan.TaskGraph, order []plan.Archetype) error {
	if len(g.Nodes) == 0 {
		return invalidf("no nodes")
	}

	byID := make(map[string]plan.TaskNode, len(g.Nodes))
	var synth *plan.TaskNode
	for i, n := range g.Nodes {
		if n.ID == "" {
			return invalidf("node id is required")
		}
		if _, dup := byID[n.ID]; dup {
			return invalidf("duplicate node id: %q", n.ID)
		}
		byID[n.ID] = n
		if n.Kind == plan.NodeSynthesis {
			if synth != nil {
				return invalidf("more than one synthesis node")
			}
			synth = &g.Nodes[i]
		}
	}
	if synth == nil || synth.ID != plan.SynthesisNodeID {
		return invalidf("missing synthesis node %q", plan.SynthesisNodeID)
	}

	for _, n := range g.Nodes {
		for _, dep := range n.DependsOn {
			if dep == n.ID {
				return invalidf("self-loop: %q", n.ID)
			}
			if _, ok := byID[dep]; !ok {
				return invalidf("node %q depends on unknown node %q", n.ID, dep)
			}
		}
	}

	if len(g.Lanes) != len(order) {
		return invalidf("graph has %d lanes, want %d", len(g.Lanes), len(order))
	}
	laneOf := map[string]plan.Archetype{}
	terminals := map[string]bool{}
	for i, lane := range g.Lanes {
		if lane.Archetype != order[i] {
			return invalidf("lane %d is %s, want %s", i, lane.Archetype, order[i])
		}
		if len(lane.NodeIDs) == 0 {
			return invalidf("lane %s has no tasks", lane.Archetype)
		}
		for j, id := range lane.NodeIDs {
			n, ok := byID[id]
			if !ok {
				return invalidf("lane %s references unknown node %q", lane.Archetype, id)
			}
			if n.Archetype != lane.Archetype {
				return invalidf("node %q belongs to %s, not lane %s", id, n.Archetype, lane.Archetype)
			}
			if _, dup := laneOf[id]; dup {
				return invalidf("node %q appears in more than one lane", id)
			}
			laneOf[id] = lane.Archetype
			if n.Terminal != (j == len(lane.NodeIDs)-1) {
				return invalidf("node %q terminal flag does not match its lane position", id)
			}
			for _, dep := range n.DependsOn {
				if byID[dep].Archetype != lane.Archetype {
					return invalidf("cross-lane edge: %q -> %q", dep, id)
				}
			}
		}
		terminals[lane.Terminal()] = true
	}
	for _, n := range g.Nodes {
		if n.Kind == plan.NodeSynthesis {
			continue
		}
		if _, ok := laneOf[n.ID]; !ok {
			return invalidf("node %q is not in any lane", n.ID)
		}
	}

	if len(synth.DependsOn) != len(terminals) {
		return invalidf("synthesis depends on %d nodes, want the %d lane terminals", len(synth.DependsOn), len(terminals))
	}
	for _, dep := range synth.DependsOn {
		if !terminals[dep] {
			return invalidf("synthesis depends on non-terminal %q", dep)
		}
	}

	if _, err := TopoOrder(g); err != nil {
		return err
	}
	return nil
}

// TopoOrder returns a deterministic topological ordering of node ids using
// Kahn's algorithm, with ties broken by declaration order.
func TopoOrder(g plan.TaskGraph) ([]string, error) {
	index := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		index[n.ID] = i
	}
	indeg := make([]int, len(g.Nodes))
	outgoing := make([][]int, len(g.Nodes))
	for i, n := range g.Nodes {
		for _, dep := range n.DependsOn {
			j, ok := index[dep]
			if !ok {
				return nil, invalidf("node %q depends on unknown node %q", n.ID, dep)
			}
			outgoing[j] = append(outgoing[j], i)
			indeg[i]++
		}
	}

	var ready []int
	for i, d := range indeg {
		if d == 0 {
			ready = append(ready, i)
		}
	}
	out := make([]string, 0, len(g.Nodes))
	for len(ready) > 0 {
		sort.Ints(ready)
		n := ready[0]
		ready = ready[1:]
		out = append(out, g.Nodes[n].ID)
		for _, m := range outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				ready = append(ready, m)
			}
		}
	}
	if len(out) != len(g.Nodes) {
		var remaining []string
		for i, d := range indeg {
			if d > 0 {
				remaining = append(remaining, g.Nodes[i].ID)
			}
		}
		return nil, cycleError(remaining)
	}
	return out, nil
}
