package agent

import (
	"fmt"
	"sort"

	"github.com/netbuddy/taskforge/internal/model"
)

// validatePlan enforces the plan-DAG invariants a planner's raw output
// must satisfy before the runtime will hand it back as a completed
// Outcome: unique order indices, every dependency pointing at an
// earlier step (§4.1's "every dependency index is < the dependent's
// order index"; §4.2: "Planners that emit dependency indices referring
// to later steps fail validation"), and no cycle among the declared
// edges. Every failure carries the specific model.ErrorKind the DAG
// Scheduler's plan-insertion check distinguishes: a step depending on
// itself or on a step that (transitively) depends back on it is
// cyclic_plan; every other structural problem is invalid_plan.
func validatePlan(plan *model.Plan) error {
	if plan == nil || len(plan.Steps) == 0 {
		return model.NewError(model.ErrorKindInvalidPlan, "plan has no steps")
	}

	seen := make(map[int]bool, len(plan.Steps))
	for _, step := range plan.Steps {
		if seen[step.Order] {
			return model.NewError(model.ErrorKindInvalidPlan, fmt.Sprintf("duplicate step order %d", step.Order))
		}
		seen[step.Order] = true
	}

	// runExecuting drives task.Plan.Steps by slice position
	// (task.CurrentStep), so a validated plan's steps must already sit
	// in Order order regardless of what order the planner emitted them.
	sort.Slice(plan.Steps, func(i, j int) bool { return plan.Steps[i].Order < plan.Steps[j].Order })

	for _, step := range plan.Steps {
		for _, dep := range step.Dependencies {
			if dep == step.Order {
				return model.NewError(model.ErrorKindCyclicPlan, fmt.Sprintf("step %d depends on itself", step.Order))
			}
			if !seen[dep] {
				return model.NewError(model.ErrorKindInvalidPlan, fmt.Sprintf("step %d depends on unknown step %d", step.Order, dep))
			}
		}
	}

	// Every multi-step cycle contains at least one edge pointing forward,
	// so cycles are detected before the order-index check below; otherwise
	// a cycle would surface as invalid_plan instead of cyclic_plan.
	if cyc := detectCycle(plan.Steps); cyc != "" {
		return model.NewError(model.ErrorKindCyclicPlan, cyc)
	}

	for _, step := range plan.Steps {
		for _, dep := range step.Dependencies {
			if dep >= step.Order {
				return model.NewError(model.ErrorKindInvalidPlan, fmt.Sprintf("step %d depends on step %d, which is not earlier", step.Order, dep))
			}
		}
	}
	return nil
}

// detectCycle runs Kahn's algorithm over the steps' dependency edges
// (dep -> step) and reports the first step order left unvisited if a
// cycle prevents a full topological ordering, "" otherwise.
func detectCycle(steps []model.PlanStep) string {
	indegree := make(map[int]int, len(steps))
	dependents := make(map[int][]int, len(steps))
	for _, step := range steps {
		indegree[step.Order] += len(step.Dependencies)
		for _, dep := range step.Dependencies {
			dependents[dep] = append(dependents[dep], step.Order)
		}
	}

	var queue []int
	for _, step := range steps {
		if indegree[step.Order] == 0 {
			queue = append(queue, step.Order)
		}
	}

	visited := 0
	for len(queue) > 0 {
		order := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[order] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited < len(steps) {
		for _, step := range steps {
			if indegree[step.Order] > 0 {
				return fmt.Sprintf("step %d is part of a dependency cycle", step.Order)
			}
		}
	}
	return ""
}
