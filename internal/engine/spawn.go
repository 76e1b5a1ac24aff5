package engine

import (
	"context"
	"fmt"

	"github.com/netbuddy/taskforge/internal/model"
)

// spawnChild creates a fix/write-tests child task, bounded by D_max
// (§4.1: "recursion depth is bounded by D_max").
func (e *Engine) spawnChild(ctx context.Context, parent *model.Task, role model.AgentRole, request, title string) (*model.Task, error) {
	if parent.FixDepth >= e.cfg.MaxFixDepth {
		return nil, fmt.Errorf("fix recursion depth %d reached its bound", parent.FixDepth)
	}

	now := e.clk.Now()
	parentID := parent.ID
	// Fix/write-tests children carry their own single-step plan already,
	// so they skip the planning phase entirely and start straight into
	// executing (task_executor.py's fix tasks never re-plan; they go
	// directly into a coder loop).
	child := &model.Task{
		ID:           newTaskID(),
		ParentTaskID: &parentID,
		RepositoryID: parent.RepositoryID,
		UserRequest:  request,
		Title:        title,
		Status:       model.TaskStatusExecuting,
		FixDepth:     parent.FixDepth + 1,
		Heartbeat:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
		Plan: &model.Plan{
			Summary:    title,
			Confidence: 1,
			Steps:      []model.PlanStep{{Order: 0, Description: request, Role: role}},
		},
	}

	if err := e.store.CreateTask(ctx, child); err != nil {
		return nil, err
	}
	return child, nil
}
