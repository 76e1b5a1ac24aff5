package engine

import (
	"context"
	"fmt"

	"github.com/netbuddy/taskforge/internal/model"
)

// recoverPanic implements the system-error supplement: a panic during
// any phase is recorded as a synthetic AgentRun with role="system",
// confidence 0, requires_review true, so the event stream always
// explains a failed transition caused by a recovered panic instead of
// the task silently vanishing mid-phase, grounded on
// original_source/backend/app/workers/agent_runner.py's
// log_system_error. r is the value recover() returned in Run's deferred
// closure; nil means no panic occurred.
func (e *Engine) recoverPanic(ctx context.Context, task *model.Task, r any) {
	if r == nil {
		return
	}
	message := fmt.Sprintf("panic: %v", r)

	run := model.AgentRun{
		ID:             newRunID(),
		TaskID:         task.ID,
		Step:           task.CurrentStep,
		Role:           model.RoleSystem,
		Title:          "Internal error",
		Subtitle:       message,
		Confidence:     0,
		RequiresReview: true,
		CreatedAt:      e.clk.Now(),
	}
	if err := e.store.AppendAgentRun(ctx, &run); err != nil && e.logger != nil {
		e.logger.WithTaskID(task.ID).WithError(err).Warn("failed to record panic run")
	}
	e.publish(ctx, task.ID, model.EventKindAgentLog, model.AgentLogPayload{Run: run})

	e.fail(ctx, task, model.ErrorKindTransient, message)

	if e.logger != nil {
		e.logger.WithTaskID(task.ID).Error("recovered panic in task engine", "panic", message)
	}
}
