package scheduler

import "context"

// Bottleneck names one plan step and how much downstream work in the
// same plan is transitively waiting on it, per the supplemented
// "step-order bottleneck diagnostic" feature. It is read-only: nothing
// in the dispatch or ready-frontier path consults it, since blocking
// weight is a reporting concern, not a scheduling input.
type Bottleneck struct {
	Order        int    `json:"order"`
	Description  string `json:"description"`
	BlockedCount int    `json:"blocked_count"`
}

// Bottlenecks reports, for the given task's current plan, which steps
// block the most downstream work: for each step, the count of steps
// transitively depending on it, ranked descending. A task with no plan
// yet (or a plan with no steps) returns an empty slice rather than an
// error; a plan whose steps have all completed is still ranked.
func (s *Scheduler) Bottlenecks(ctx context.Context, taskID string) ([]Bottleneck, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Plan == nil || len(task.Plan.Steps) == 0 {
		return nil, nil
	}

	steps := task.Plan.Steps
	descriptionByOrder := make(map[int]string, len(steps))
	dependents := make(map[int][]int, len(steps))
	for _, step := range steps {
		descriptionByOrder[step.Order] = step.Description
		for _, dep := range step.Dependencies {
			dependents[dep] = append(dependents[dep], step.Order)
		}
	}

	results := make([]Bottleneck, 0, len(steps))
	for _, step := range steps {
		results = append(results, Bottleneck{
			Order:        step.Order,
			Description:  descriptionByOrder[step.Order],
			BlockedCount: countTransitiveDependents(step.Order, dependents),
		})
	}

	// Insertion sort by descending BlockedCount, stable on ties so
	// steps keep their plan order when they block equally much work.
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].BlockedCount > results[j-1].BlockedCount; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
	return results, nil
}

// countTransitiveDependents counts the distinct steps reachable from
// order by following the dependents adjacency, i.e. every step that
// directly or indirectly cannot start until order is done.
func countTransitiveDependents(order int, dependents map[int][]int) int {
	seen := make(map[int]bool)
	queue := append([]int(nil), dependents[order]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		queue = append(queue, dependents[next]...)
	}
	return len(seen)
}
