package engine

import (
	"context"
	"strings"

	"github.com/netbuddy/taskforge/internal/agent"
	"github.com/netbuddy/taskforge/internal/model"
)

// publish allocates the next per-task sequence number from the State
// Store's event log and fans the event out on the Event Bus, per §4.5:
// "the State Store's per-task sequence counter is the source of truth
// for ordering."
func (e *Engine) publish(ctx context.Context, taskID string, kind model.EventKind, payload any) {
	event := &model.TaskEvent{TaskID: taskID, Kind: kind, Timestamp: e.clk.Now(), Payload: payload}
	seq, err := e.store.AppendEvent(ctx, event)
	if err != nil {
		if e.logger != nil {
			e.logger.WithTaskID(taskID).WithError(err).Warn("failed to append event log entry")
		}
		return
	}
	event.Seq = seq
	if err := e.bus.Publish(ctx, *event); err != nil && e.logger != nil {
		e.logger.WithTaskID(taskID).WithError(err).Warn("failed to publish event")
	}
}

func (e *Engine) publishPlanReady(ctx context.Context, task *model.Task, plan model.Plan) {
	e.publish(ctx, task.ID, model.EventKindPlanReady, model.PlanReadyPayload{Plan: plan})
}

// recordRun persists the outcome's AgentRun and every VerifiedFileEvent
// it produced, publishing agent_log and file_verified events for each,
// per §4.4's "exactly one VerifiedFileEvent per affected path per tool
// invocation is published on the Event Bus and persisted."
func (e *Engine) recordRun(ctx context.Context, task *model.Task, step int, role model.AgentRole, outcome agent.Outcome) {
	run := outcome.ToAgentRun(task.ID, step, role)
	run.ID = newRunID()
	run.CreatedAt = e.clk.Now()
	if err := e.store.AppendAgentRun(ctx, &run); err != nil && e.logger != nil {
		e.logger.WithTaskID(task.ID).WithError(err).Warn("failed to append agent run")
	}
	e.publish(ctx, task.ID, model.EventKindAgentLog, model.AgentLogPayload{Run: run})

	for _, ev := range outcome.VerifiedEvents {
		event := ev
		if err := e.store.AppendVerifiedFileEvent(ctx, &event); err != nil && e.logger != nil {
			e.logger.WithTaskID(task.ID).WithError(err).Warn("failed to append verified file event")
		}
		if event.UnifiedDiff != "" {
			e.recordChangeSet(ctx, task.ID, event)
		}
		e.publish(ctx, task.ID, model.EventKindFileVerified, model.FileVerifiedPayload{Event: event})
	}
}

// recordChangeSet persists the audit-trail companion to a verified file
// event carrying a diff, per the supplemented changeset model.
func (e *Engine) recordChangeSet(ctx context.Context, taskID string, event model.VerifiedFileEvent) {
	added, removed := countDiffLines(event.UnifiedDiff)
	cs := &model.ChangeSet{
		ID:           newRunID(),
		TaskID:       taskID,
		Path:         event.Path,
		Action:       event.Action,
		UnifiedDiff:  event.UnifiedDiff,
		LinesAdded:   added,
		LinesRemoved: removed,
	}
	if err := e.store.AppendChangeSet(ctx, cs); err != nil && e.logger != nil {
		e.logger.WithTaskID(taskID).WithError(err).Warn("failed to append change set")
	}
}

func countDiffLines(diff string) (added, removed int) {
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			continue
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return added, removed
}
