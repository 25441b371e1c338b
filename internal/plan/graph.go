package plan

import "time"

// SynthesisNodeID is the id of the unique sink node of every task graph.
const SynthesisNodeID = "synthesis"

// NodeKind distinguishes lane tasks from the synthesis node.
type NodeKind string

const (
	NodeLane      NodeKind = "lane"
	NodeSynthesis NodeKind = "synthesis"
)

// TaskNode is one node of the task graph.
type TaskNode struct {
	ID              string    `json:"id"`
	Archetype       Archetype `json:"archetype,omitempty"`
	Task            string    `json:"task"`
	Kind            NodeKind  `json:"kind"`
	DependsOn       []string  `json:"depends_on,omitempty"`
	Groups          []GroupID `json:"groups,omitempty"`
	Differentiators []string  `json:"differentiators,omitempty"`
	Terminal        bool      `json:"terminal,omitempty"`
}

// NodeID builds the namespaced id "<archetype>:<task>".
func NodeID(a Archetype, task string) string {
	return string(a) + ":" + task
}

// Lane is the ordered set of tasks belonging to one archetype.
type Lane struct {
	Archetype Archetype `json:"archetype"`
	NodeIDs   []string  `json:"node_ids"`
}

// Terminal returns the id of the lane's last task.
func (l Lane) Terminal() string {
	if len(l.NodeIDs) == 0 {
		return ""
	}
	return l.NodeIDs[len(l.NodeIDs)-1]
}

// TaskGraph is the DAG of lane tasks plus one synthesis node.
type TaskGraph struct {
	Nodes []TaskNode `json:"nodes"`
	Lanes []Lane     `json:"lanes"`
}

// Node returns the node with id.
func (g TaskGraph) Node(id string) (TaskNode, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return TaskNode{}, false
}

// PromptKind distinguishes pipeline task prompts from revision prompts.
type PromptKind string

const (
	PromptTask     PromptKind = "task"
	PromptRevision PromptKind = "revision"
)

// GroupContext is the skeleton context a prompt carries for one group.
type GroupContext struct {
	ID    GroupID  `json:"id"`
	Title string   `json:"title"`
	Hints []string `json:"hints,omitempty"`
}

// PriorOutput is the output of an earlier task in the same lane.
type PriorOutput struct {
	TaskID string     `json:"task_id"`
	Output TaskOutput `json:"output"`
}

// PromptPayload is the grounded instruction bundle for one task.
type PromptPayload struct {
	Kind                PromptKind       `json:"kind"`
	TaskID              string           `json:"task_id"`
	Task                string           `json:"task"`
	Archetype           Archetype        `json:"archetype,omitempty"`
	Concern             string           `json:"concern"`
	Intent              string           `json:"intent,omitempty"`
	TargetPopulation    string           `json:"target_population,omitempty"`
	Requirements        []string         `json:"requirements,omitempty"`
	Domain              Domain           `json:"domain"`
	DomainRules         []string         `json:"domain_rules"`
	Differentiators     []Differentiator `json:"differentiators"`
	TaskDifferentiators []string         `json:"task_differentiators,omitempty"`
	Benchmarks          []Benchmark      `json:"benchmarks"`
	Groups              []GroupContext   `json:"groups"`
	Safety              *SafetyBundle    `json:"safety,omitempty"`
	Ranking             *RankingContext  `json:"ranking,omitempty"`
	Facts               []SourcedFact    `json:"facts,omitempty"`
	DependsOn           []string         `json:"depends_on,omitempty"`
	PriorOutputs        []PriorOutput    `json:"prior_outputs,omitempty"`
}

// Prompt is the instruction for one task node.
type Prompt struct {
	TaskID    string        `json:"task_id"`
	Archetype Archetype     `json:"archetype,omitempty"`
	System    string        `json:"system"`
	Payload   PromptPayload `json:"payload"`
}

// PromptPlan holds exactly one prompt per task graph node.
type PromptPlan struct {
	Prompts []Prompt `json:"prompts"`
}

// Prompt returns the prompt for taskID.
func (p PromptPlan) Prompt(taskID string) (Prompt, bool) {
	for _, pr := range p.Prompts {
		if pr.TaskID == taskID {
			return pr, true
		}
	}
	return Prompt{}, false
}

// TaskOutput is the structured content a task returns.
type TaskOutput struct {
	SignalGroups             []SignalGroup `json:"signal_groups"`
	References               []Reference   `json:"references,omitempty"`
	Criteria                 []Rule        `json:"criteria,omitempty"`
	Questions                []Question    `json:"questions,omitempty"`
	Rationale                string        `json:"rationale"`
	DifferentiatorsAddressed []string      `json:"differentiators_addressed,omitempty"`
}

// TaskStatus is the completion status of a task.
type TaskStatus string

const (
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
)

// ExecError is the typed failure of a task's external call.
type ExecError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// TaskResult is the raw output for one node.
//
// For a lane terminal, Output carries the lane's cumulative output so the
// synthesis node can merge terminals only.
type TaskResult struct {
	TaskID      string     `json:"task_id"`
	Archetype   Archetype  `json:"archetype,omitempty"`
	Status      TaskStatus `json:"status"`
	Output      TaskOutput `json:"output"`
	Error       *ExecError `json:"error,omitempty"`
	Placeholder bool       `json:"placeholder,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	DurationMS  int64      `json:"duration_ms"`
}

// LaneResult is the outcome of one lane.
type LaneResult struct {
	Archetype Archetype    `json:"archetype"`
	Tasks     []TaskResult `json:"tasks"`
	Complete  bool         `json:"complete"`
}

// Terminal returns the lane terminal's result.
func (l LaneResult) Terminal() TaskResult {
	if len(l.Tasks) == 0 {
		return TaskResult{Archetype: l.Archetype}
	}
	return l.Tasks[len(l.Tasks)-1]
}

// ExecutionResult is the S5 output: every node's result keyed by id, the
// per-lane view in archetype order, and the synthesis merge.
type ExecutionResult struct {
	Results   map[string]TaskResult `json:"results"`
	Lanes     []LaneResult          `json:"lanes"`
	Synthesis TaskOutput            `json:"synthesis"`
	Segments  []RationaleSegment    `json:"segments"`
}

// IncompleteLanes returns the archetypes whose lanes did not complete.
func (e ExecutionResult) IncompleteLanes() []Archetype {
	var out []Archetype
	for _, l := range e.Lanes {
		if !l.Complete {
			out = append(out, l.Archetype)
		}
	}
	return out
}
