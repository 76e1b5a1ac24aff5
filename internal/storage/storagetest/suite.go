// Package storagetest is a conformance suite shared by every
// storage.StateStore adapter, so the sqlite and postgres implementations
// are exercised against identical behavioral assertions.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netbuddy/taskforge/internal/model"
	"github.com/netbuddy/taskforge/internal/storage"
)

// Run exercises every StateStore method against a fresh, already-migrated
// store. Callers own setup/teardown of the underlying connection.
func Run(t *testing.T, store storage.StateStore) {
	t.Helper()
	ctx := context.Background()

	repo := &model.Repository{
		ID:          "repo-1",
		Path:        "/srv/repo",
		DisplayName: "demo",
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.CreateRepository(ctx, repo))

	got, err := store.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.DisplayName, got.DisplayName)

	repos, err := store.ListRepositories(ctx)
	require.NoError(t, err)
	assert.Len(t, repos, 1)

	_, err = store.GetRepository(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	now := time.Now().UTC()
	task := &model.Task{
		ID:           "task-1",
		RepositoryID: repo.ID,
		UserRequest:  "add a health endpoint",
		Status:       model.TaskStatusPending,
		Heartbeat:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, store.CreateTask(ctx, task))

	fetched, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPending, fetched.Status)
	assert.Nil(t, fetched.Plan)

	plan := &model.Plan{
		Summary: "wire /healthz",
		Steps: []model.PlanStep{
			{Order: 1, Description: "add handler", Role: model.RoleCoder},
		},
		Complexity: 2,
		Confidence: 0.9,
	}
	err = store.UpdateTaskStatus(ctx, task.ID, model.TaskStatusPending, func(t *model.Task) {
		t.Status = model.TaskStatusPlanning
		t.Plan = plan
		t.UpdatedAt = time.Now().UTC()
	})
	require.NoError(t, err)

	fetched, err = store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPlanning, fetched.Status)
	require.NotNil(t, fetched.Plan)
	assert.Equal(t, "wire /healthz", fetched.Plan.Summary)

	// stale precondition is rejected
	err = store.UpdateTaskStatus(ctx, task.ID, model.TaskStatusPending, func(t *model.Task) {
		t.Status = model.TaskStatusExecuting
	})
	assert.ErrorIs(t, err, storage.ErrConflict)

	require.NoError(t, store.UpdateHeartbeat(ctx, task.ID, now.Add(-time.Hour)))
	stale, err := store.ListStaleHeartbeats(ctx, now)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, task.ID, stale[0].ID)

	err = store.UpdateTaskStatus(ctx, task.ID, model.TaskStatusPlanning, func(t *model.Task) {
		t.Status = model.TaskStatusExecuting
	})
	require.NoError(t, err)

	child := &model.Task{
		ID:           "task-1-child",
		ParentTaskID: &task.ID,
		RepositoryID: repo.ID,
		UserRequest:  "fix test",
		Status:       model.TaskStatusPending,
		Heartbeat:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, store.CreateTask(ctx, child))

	children, err := store.ListChildren(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, child.ID, children[0].ID)

	run := &model.AgentRun{
		ID:       "run-1",
		TaskID:   task.ID,
		Step:     1,
		Role:     model.RoleCoder,
		Title:    "implement handler",
		Duration: 2500 * time.Millisecond,
		ToolInvocations: []model.ToolInvocation{
			{ID: "inv-1", Tool: "edit_file", Success: true},
		},
		CreatedAt: now,
	}
	require.NoError(t, store.AppendAgentRun(ctx, run))

	runs, err := store.ListRuns(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 2500*time.Millisecond, runs[0].Duration)
	require.Len(t, runs[0].ToolInvocations, 1)
	assert.Equal(t, "edit_file", runs[0].ToolInvocations[0].Tool)

	fe := &model.VerifiedFileEvent{
		ID:            "vfe-1",
		TaskID:        task.ID,
		Step:          1,
		Path:          "internal/api/health.go",
		Action:        model.FileActionCreate,
		ByteSize:      128,
		QualityChecks: []string{"file_exists", "file_not_empty"},
		Timestamp:     now,
	}
	require.NoError(t, store.AppendVerifiedFileEvent(ctx, fe))

	events, err := store.ListVerifiedFileEvents(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"file_exists", "file_not_empty"}, events[0].QualityChecks)

	cs := &model.ChangeSet{
		ID:          "cs-1",
		TaskID:      task.ID,
		Path:        "internal/api/health.go",
		Action:      model.FileActionCreate,
		UnifiedDiff: "+++ internal/api/health.go\n",
		LinesAdded:  10,
	}
	require.NoError(t, store.AppendChangeSet(ctx, cs))

	seq1, err := store.AppendEvent(ctx, &model.TaskEvent{
		TaskID: task.ID,
		Kind:   model.EventKindStatus,
		Payload: model.StatusPayload{
			From: model.TaskStatusPlanning,
			To:   model.TaskStatusExecuting,
		},
		Timestamp: now,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq1)

	seq2, err := store.AppendEvent(ctx, &model.TaskEvent{
		TaskID:    task.ID,
		Kind:      model.EventKindComplete,
		Timestamp: now,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq2)

	since, err := store.GetEventsSince(ctx, task.ID, 1)
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, model.EventKindComplete, since[0].Kind)

	require.NoError(t, store.DeleteTaskCascade(ctx, task.ID))
	_, err = store.GetTask(ctx, task.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetTask(ctx, child.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
