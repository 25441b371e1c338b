package workflows

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/planner/internal/plan"
)

// Register adds PlanWorkflow and the activities to a worker.
func Register(r worker.Registry, a *Activities) {
	r.RegisterWorkflowWithOptions(PlanWorkflow, workflow.RegisterOptions{Name: PlanWorkflowName})
	r.RegisterActivity(a)
}

// NewWorker returns a worker on taskQueue with the plan workflow registered.
func NewWorker(c client.Client, taskQueue string, a *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	Register(w, a)
	return w
}

// StartPlan starts PlanWorkflow for in. The workflow id is derived from the
// planning id when one is given so duplicate submissions collapse.
func StartPlan(ctx context.Context, c client.Client, taskQueue string, in plan.PlanningInput) (client.WorkflowRun, error) {
	id := "plan-" + uuid.NewString()
	if in.PlanningID != "" {
		id = "plan-" + in.PlanningID
	}
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: taskQueue,
	}, PlanWorkflowName, PlanWorkflowInput{Input: in})
	if err != nil {
		return nil, fmt.Errorf("start plan workflow: %w", err)
	}
	return run, nil
}
