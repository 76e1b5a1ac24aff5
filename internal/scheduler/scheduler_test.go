package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netbuddy/taskforge/internal/agent"
	"github.com/netbuddy/taskforge/internal/clock"
	"github.com/netbuddy/taskforge/internal/engine"
	"github.com/netbuddy/taskforge/internal/eventbus"
	"github.com/netbuddy/taskforge/internal/model"
	"github.com/netbuddy/taskforge/internal/tools"
)

// alwaysSucceedsClient answers every StructuredOutput call with a
// single-step plan and every ToolCall with an immediate final result,
// enough to drive a task through the full engine state machine without
// exercising fix loops or reviews.
type alwaysSucceedsClient struct{ name string }

func (c *alwaysSucceedsClient) Name() string { return c.name }

func (c *alwaysSucceedsClient) StructuredOutput(_ context.Context, _ agent.StructuredOutputRequest, target any) error {
	plan := model.Plan{
		Summary:    "single step change",
		Confidence: 0.95,
		Steps: []model.PlanStep{
			{Order: 1, Description: "make the change", Role: model.RoleCoder},
		},
	}
	raw, _ := json.Marshal(plan)
	return json.Unmarshal(raw, target)
}

func (c *alwaysSucceedsClient) ToolCall(_ context.Context, _ agent.ToolCallRequest) (agent.ToolCallResponse, error) {
	return agent.ToolCallResponse{FinalText: `{"ui_title":"done","ui_subtitle":"ok","technical_reasoning":"ok","confidence_score":0.9}`}, nil
}

func testEngine(t *testing.T) (*engine.Engine, *fakeStore, eventbus.EventBus, string) {
	t.Helper()
	dir := t.TempDir()
	store := newFakeStore()
	bus := eventbus.NewInProcess(64)
	registry := tools.BuildDefault(nil, "")
	clients := agent.NewRegistry()
	clients.Register(&alwaysSucceedsClient{name: "default"})

	eng := engine.New(store, bus, registry, clients, clock.NewFake(time.Now()), nil, engine.Config{
		HeartbeatInterval:     time.Minute,
		MaxIterations:         4,
		MaxFixRetries:         2,
		MaxFixDepth:           2,
		AutoApproveConfidence: 0.5,
		ReviewConfidence:      0.5,
		DefaultClient:         "default",
	}, nil)

	repo := &model.Repository{ID: "repo-1", Path: dir, DisplayName: "repo"}
	require.NoError(t, store.CreateRepository(context.Background(), repo))
	return eng, store, bus, repo.ID
}

func newPendingTask(id, repoID string, parent *string) *model.Task {
	return &model.Task{
		ID:           id,
		ParentTaskID: parent,
		RepositoryID: repoID,
		UserRequest:  "do something",
		Status:       model.TaskStatusPending,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
		Heartbeat:    time.Now(),
	}
}

func TestSchedulerDispatchRunsTaskToCompletion(t *testing.T) {
	eng, store, bus, repoID := testEngine(t)
	sched := New(store, eng, bus, clock.NewFake(time.Now()), nil, Config{WorkerSlots: 2, PollInterval: 10 * time.Millisecond}, nil)

	taskID := uuid.NewString()
	require.NoError(t, store.CreateTask(context.Background(), newPendingTask(taskID, repoID, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Start(ctx)
	defer sched.Stop()

	sched.Enqueue(taskID)

	require.Eventually(t, func() bool {
		task, err := store.GetTask(context.Background(), taskID)
		return err == nil && task.Status == model.TaskStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerFallbackPollingPicksUpUnenqueuedTask(t *testing.T) {
	eng, store, bus, repoID := testEngine(t)
	sched := New(store, eng, bus, clock.NewFake(time.Now()), nil, Config{WorkerSlots: 2, PollInterval: 10 * time.Millisecond}, nil)

	taskID := uuid.NewString()
	require.NoError(t, store.CreateTask(context.Background(), newPendingTask(taskID, repoID, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Start(ctx)
	defer sched.Stop()

	// No Enqueue call: only the fallback poll should find and run it.
	require.Eventually(t, func() bool {
		task, err := store.GetTask(context.Background(), taskID)
		return err == nil && task.Status == model.TaskStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerCancelCascadesToDescendants(t *testing.T) {
	eng, store, bus, repoID := testEngine(t)
	sched := New(store, eng, bus, clock.NewFake(time.Now()), nil, Config{WorkerSlots: 2, PollInterval: time.Hour}, nil)

	rootID := uuid.NewString()
	childID := uuid.NewString()
	grandchildID := uuid.NewString()

	root := newPendingTask(rootID, repoID, nil)
	root.Status = model.TaskStatusExecuting
	require.NoError(t, store.CreateTask(context.Background(), root))

	child := newPendingTask(childID, repoID, &rootID)
	child.Status = model.TaskStatusExecuting
	require.NoError(t, store.CreateTask(context.Background(), child))

	grandchild := newPendingTask(grandchildID, repoID, &childID)
	grandchild.Status = model.TaskStatusPending
	require.NoError(t, store.CreateTask(context.Background(), grandchild))

	// An already-completed sibling should not be re-failed.
	doneID := uuid.NewString()
	done := newPendingTask(doneID, repoID, &rootID)
	done.Status = model.TaskStatusCompleted
	require.NoError(t, store.CreateTask(context.Background(), done))

	require.NoError(t, sched.Cancel(context.Background(), rootID))

	for _, id := range []string{rootID, childID, grandchildID} {
		task, err := store.GetTask(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusFailed, task.Status)
		assert.Equal(t, model.ErrorKindCancelled, task.ErrorKind)
	}

	doneTask, err := store.GetTask(context.Background(), doneID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, doneTask.Status)

	for _, id := range []string{rootID, childID} {
		events, err := store.GetEventsSince(context.Background(), id, 0)
		require.NoError(t, err)
		require.Len(t, events, 2, "expected a status event followed by an error event for %s", id)
		assert.Equal(t, model.EventKindStatus, events[0].Kind)
		assert.Equal(t, model.EventKindError, events[1].Kind)
		assert.Greater(t, events[1].Seq, events[0].Seq)
	}
}

func TestSchedulerBottlenecksRanksBlockingSteps(t *testing.T) {
	eng, store, bus, repoID := testEngine(t)
	sched := New(store, eng, bus, clock.NewFake(time.Now()), nil, Config{}, nil)

	taskID := uuid.NewString()
	task := newPendingTask(taskID, repoID, nil)
	task.Status = model.TaskStatusExecuting
	task.Plan = &model.Plan{
		Steps: []model.PlanStep{
			{Order: 1, Description: "define schema", Role: model.RoleCoder},
			{Order: 2, Description: "write migration", Role: model.RoleCoder, Dependencies: []int{1}},
			{Order: 3, Description: "write handler", Role: model.RoleCoder, Dependencies: []int{1}},
			{Order: 4, Description: "write tests", Role: model.RoleQA, Dependencies: []int{2, 3}},
		},
	}
	require.NoError(t, store.CreateTask(context.Background(), task))

	got, err := sched.Bottlenecks(context.Background(), taskID)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, 1, got[0].Order)
	assert.Equal(t, 3, got[0].BlockedCount) // steps 2, 3, and 4 all wait on step 1
}

func TestSchedulerBottlenecksNoPlanReturnsEmpty(t *testing.T) {
	eng, store, bus, repoID := testEngine(t)
	sched := New(store, eng, bus, clock.NewFake(time.Now()), nil, Config{}, nil)

	taskID := uuid.NewString()
	require.NoError(t, store.CreateTask(context.Background(), newPendingTask(taskID, repoID, nil)))

	got, err := sched.Bottlenecks(context.Background(), taskID)
	require.NoError(t, err)
	assert.Empty(t, got)
}
