package engine

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netbuddy/taskforge/internal/agent"
	"github.com/netbuddy/taskforge/internal/clock"
	"github.com/netbuddy/taskforge/internal/eventbus"
	"github.com/netbuddy/taskforge/internal/model"
	"github.com/netbuddy/taskforge/internal/tools"
)

// stubClient is a Client whose StructuredOutput and ToolCall behavior is
// driven by small queues, mirroring internal/agent's own runtime_test.go
// fakeClient rather than inventing a new test-double idiom.
type stubClient struct {
	mu sync.Mutex

	name string

	structuredQueue []any
	structuredErr   error

	// qaFailures counts down: while > 0, a ToolCall made by the QA role
	// returns toolErr instead of a final result.
	qaFailures int
	// coderFixFailures counts down: while > 0, a ToolCall made by a
	// coder role answering a fix prompt (as opposed to an ordinary plan
	// step) returns toolErr instead of a final result.
	coderFixFailures int
	toolErr          error
}

func (c *stubClient) Name() string { return c.name }

func (c *stubClient) StructuredOutput(_ context.Context, _ agent.StructuredOutputRequest, target any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.structuredErr != nil {
		return c.structuredErr
	}
	var val any
	if len(c.structuredQueue) > 0 {
		val = c.structuredQueue[0]
		c.structuredQueue = c.structuredQueue[1:]
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}

func (c *stubClient) ToolCall(_ context.Context, req agent.ToolCallRequest) (agent.ToolCallResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if strings.Contains(req.SystemPrompt, "QA agent") && c.qaFailures > 0 {
		c.qaFailures--
		return agent.ToolCallResponse{}, c.toolErr
	}
	if strings.Contains(req.UserPrompt, "failed testing") && c.coderFixFailures > 0 {
		c.coderFixFailures--
		return agent.ToolCallResponse{}, c.toolErr
	}
	return agent.ToolCallResponse{FinalText: `{"ui_title":"done","ui_subtitle":"done","technical_reasoning":"done","confidence_score":0.9}`}, nil
}

func testHarness(t *testing.T, client agent.Client, cfg Config) (*Engine, *fakeStore, string) {
	t.Helper()
	root := t.TempDir()
	store := newFakeStore()
	bus := eventbus.NewInProcess(64)
	registry := tools.BuildDefault(nil, "")
	clients := agent.NewRegistry()
	clients.Register(client)

	if cfg.DefaultClient == "" {
		cfg.DefaultClient = client.Name()
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = time.Minute
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 4
	}
	if cfg.MaxFixRetries == 0 {
		cfg.MaxFixRetries = 2
	}
	if cfg.MaxFixDepth == 0 {
		cfg.MaxFixDepth = 2
	}
	if cfg.AutoApproveConfidence == 0 {
		cfg.AutoApproveConfidence = 0.7
	}
	if cfg.ReviewConfidence == 0 {
		cfg.ReviewConfidence = 0.7
	}

	e := New(store, bus, registry, clients, clock.NewFake(time.Now()), nil, cfg, nil)

	require.NoError(t, store.CreateRepository(context.Background(), &model.Repository{
		ID: "repo-1", Path: root, DisplayName: "demo",
	}))
	return e, store, root
}

func newPendingTask(id string) *model.Task {
	now := time.Now().UTC()
	return &model.Task{
		ID: id, RepositoryID: "repo-1", UserRequest: "add a health endpoint",
		Status: model.TaskStatusPending, Heartbeat: now, CreatedAt: now, UpdatedAt: now,
	}
}

func onePlan(confidence float64) model.Plan {
	return model.Plan{
		Summary: "add the endpoint", Confidence: confidence,
		Steps: []model.PlanStep{{Order: 0, Description: "write the handler", Role: model.RoleCoder}},
	}
}

func TestEngineHappyPath(t *testing.T) {
	client := &stubClient{name: "fake", structuredQueue: []any{onePlan(0.95)}}
	e, store, _ := testHarness(t, client, Config{})

	task := newPendingTask("task-1")
	require.NoError(t, store.CreateTask(context.Background(), task))

	require.NoError(t, e.Run(context.Background(), task.ID))

	final, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, final.Status)
	require.NotNil(t, final.CompletedAt)

	runs, err := store.ListRuns(context.Background(), task.ID)
	require.NoError(t, err)
	// planner, coder step, qa, docs
	assert.Len(t, runs, 4)
}

func TestEnginePlanReviewApprove(t *testing.T) {
	client := &stubClient{name: "fake", structuredQueue: []any{onePlan(0.4)}}
	e, store, _ := testHarness(t, client, Config{})

	task := newPendingTask("task-2")
	require.NoError(t, store.CreateTask(context.Background(), task))

	require.NoError(t, e.Run(context.Background(), task.ID))

	waiting, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPlanReview, waiting.Status)
	assert.True(t, waiting.RequiresReview)
	require.NotNil(t, waiting.Plan)

	require.NoError(t, e.Approve(context.Background(), task.ID))
	require.NoError(t, e.Run(context.Background(), task.ID))

	final, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, final.Status)
}

func TestEnginePlanReviewReject(t *testing.T) {
	client := &stubClient{name: "fake", structuredQueue: []any{onePlan(0.4)}}
	e, store, _ := testHarness(t, client, Config{})

	task := newPendingTask("task-3")
	require.NoError(t, store.CreateTask(context.Background(), task))
	require.NoError(t, e.Run(context.Background(), task.ID))

	require.NoError(t, e.Reject(context.Background(), task.ID, "not what I asked for"))

	final, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, final.Status)
	assert.Equal(t, model.ErrorKindContractViolated, final.ErrorKind)
	assert.Equal(t, "not what I asked for", final.ErrorMessage)
}

func TestEnginePauseResume(t *testing.T) {
	client := &stubClient{name: "fake"}
	e, store, _ := testHarness(t, client, Config{})

	task := newPendingTask("task-4")
	task.Status = model.TaskStatusExecuting
	task.Plan = &model.Plan{Confidence: 1, Steps: []model.PlanStep{{Order: 0, Role: model.RoleCoder, Description: "noop"}}}
	require.NoError(t, store.CreateTask(context.Background(), task))

	require.NoError(t, e.Pause(context.Background(), task.ID))
	paused, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPaused, paused.Status)
	assert.Equal(t, model.TaskStatusExecuting, paused.PausedFromStatus)

	// A worker picking this task up while paused must yield immediately.
	require.NoError(t, e.Run(context.Background(), task.ID))
	stillPaused, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPaused, stillPaused.Status)

	require.NoError(t, e.Resume(context.Background(), task.ID))
	resumed, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusExecuting, resumed.Status)

	require.NoError(t, e.Run(context.Background(), task.ID))
	final, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, final.Status)
}

func TestEngineFixLoopRetriesThenSucceeds(t *testing.T) {
	client := &stubClient{
		name:            "fake",
		structuredQueue: []any{onePlan(0.95)},
		qaFailures:      1,
		toolErr:         &agent.ClientError{Kind: agent.ClientErrTimeout, Message: "flaky test runner"},
	}
	e, store, _ := testHarness(t, client, Config{})

	task := newPendingTask("task-5")
	require.NoError(t, store.CreateTask(context.Background(), task))

	require.NoError(t, e.Run(context.Background(), task.ID))

	final, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, final.Status)
	// The fix child succeeded on its first attempt, so the parent's
	// retry counter (only bumped when a child itself fails) stays at 0.
	assert.Equal(t, 0, final.RetryCount)

	children, err := store.ListChildren(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, model.TaskStatusCompleted, children[0].Status)
	assert.Equal(t, 1, children[0].FixDepth)
}

func TestEngineFixLoopExhaustsRetriesAndFails(t *testing.T) {
	client := &stubClient{
		name:             "fake",
		structuredQueue:  []any{onePlan(0.95)},
		qaFailures:       2,
		coderFixFailures: 1,
		toolErr:          &agent.ClientError{Kind: agent.ClientErrTimeout, Message: "always broken"},
	}
	e, store, _ := testHarness(t, client, Config{MaxFixRetries: 1})

	task := newPendingTask("task-6")
	require.NoError(t, store.CreateTask(context.Background(), task))

	require.NoError(t, e.Run(context.Background(), task.ID))

	final, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, final.Status)
	assert.Equal(t, model.ErrorKindContractViolated, final.ErrorKind)
}

func TestEngineDefinitionOfDoneGateBlocksCompletion(t *testing.T) {
	client := &stubClient{
		name: "fake",
		structuredQueue: []any{
			onePlan(0.95),
			struct {
				Satisfied bool   `json:"satisfied"`
				Reason    string `json:"reason"`
			}{Satisfied: false, Reason: "the endpoint is missing auth"},
		},
	}
	e, store, _ := testHarness(t, client, Config{})

	task := newPendingTask("task-7")
	task.DefinitionOfDone = "the endpoint requires authentication"
	require.NoError(t, store.CreateTask(context.Background(), task))

	require.NoError(t, e.Run(context.Background(), task.ID))

	final, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, final.Status)
	assert.Equal(t, model.ErrorKindContractViolated, final.ErrorKind)
	assert.Contains(t, final.ErrorMessage, "missing auth")
}

// panicStore wraps a fakeStore and panics out of GetRepository, letting
// the test drive a genuine panic through Engine.Run without needing a
// dedicated injection point in the engine itself.
type panicStore struct {
	*fakeStore
}

func (s *panicStore) GetRepository(_ context.Context, _ string) (*model.Repository, error) {
	panic("simulated storage driver crash")
}

func TestEnginePanicRecoveryFailsTaskAndRecordsSystemRun(t *testing.T) {
	client := &stubClient{name: "fake", structuredQueue: []any{onePlan(0.95)}}
	e, store, _ := testHarness(t, client, Config{})
	e.store = &panicStore{fakeStore: store}

	task := newPendingTask("task-8")
	require.NoError(t, store.CreateTask(context.Background(), task))

	require.NoError(t, e.Run(context.Background(), task.ID))

	final, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, final.Status)
	assert.Equal(t, model.ErrorKindTransient, final.ErrorKind)

	runs, err := store.ListRuns(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RoleSystem, runs[0].Role)
	assert.Zero(t, runs[0].Confidence)
	assert.True(t, runs[0].RequiresReview)
}

// TestEngineMaxFixDepthBoundsRecursion pins MaxFixDepth at 0 so a root
// task (FixDepth 0) can never spawn a fix child, exercising D_max's
// bound at the shallowest possible recursion level.
func TestEngineMaxFixDepthBoundsRecursion(t *testing.T) {
	client := &stubClient{
		name:            "fake",
		structuredQueue: []any{onePlan(0.95)},
		qaFailures:      1,
		toolErr:         &agent.ClientError{Kind: agent.ClientErrTimeout, Message: "broken"},
	}
	e, store, _ := testHarness(t, client, Config{MaxFixRetries: 5})
	// testHarness fills in a zero MaxFixDepth with its own default since
	// it can't tell "unset" from "explicitly 0"; set it directly here.
	e.cfg.MaxFixDepth = 0

	task := newPendingTask("task-9")
	require.NoError(t, store.CreateTask(context.Background(), task))

	require.NoError(t, e.Run(context.Background(), task.ID))

	final, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, final.Status)
	assert.Equal(t, model.ErrorKindTransient, final.ErrorKind)

	children, err := store.ListChildren(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Empty(t, children)
}
