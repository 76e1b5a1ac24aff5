package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netbuddy/taskforge/internal/model"
	"github.com/netbuddy/taskforge/internal/tools"
)

type fakeClient struct {
	name          string
	toolResponses []ToolCallResponse
	structured    any
	structuredErr error
	toolErr       error
	calls         int
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) StructuredOutput(_ context.Context, _ StructuredOutputRequest, target any) error {
	if f.structuredErr != nil {
		return f.structuredErr
	}
	raw, _ := json.Marshal(f.structured)
	return json.Unmarshal(raw, target)
}

func (f *fakeClient) ToolCall(_ context.Context, _ ToolCallRequest) (ToolCallResponse, error) {
	if f.toolErr != nil {
		return ToolCallResponse{}, f.toolErr
	}
	if f.calls >= len(f.toolResponses) {
		return ToolCallResponse{FinalText: `{"ui_title":"done","ui_subtitle":"done","technical_reasoning":"done","confidence_score":0.9}`}, nil
	}
	resp := f.toolResponses[f.calls]
	f.calls++
	return resp, nil
}

func newRuntime(t *testing.T) (*Runtime, string) {
	t.Helper()
	root := t.TempDir()
	registry := tools.BuildDefault(nil, "")
	dispatcher, err := tools.NewDispatcher(registry, tools.NewVerifier(root, nil))
	require.NoError(t, err)
	return NewRuntime(registry, dispatcher, nil), root
}

func TestRuntimePlannerReturnsValidPlan(t *testing.T) {
	rt, root := newRuntime(t)
	client := &fakeClient{name: "fake", structured: model.Plan{
		Summary:    "add a feature",
		Confidence: 0.95,
		Steps: []model.PlanStep{
			{Order: 0, Description: "write code", Role: model.RoleCoder},
			{Order: 1, Description: "write tests", Role: model.RoleQA, Dependencies: []int{0}},
		},
	}}

	out := rt.Run(context.Background(), Request{
		Role: model.RolePlanner, Client: client, RepoRoot: root, ReviewThreshold: 0.7,
	})
	require.Equal(t, StatusCompleted, out.Status)
	require.NotNil(t, out.Plan)
	assert.Equal(t, 2, len(out.Plan.Steps))
	assert.False(t, out.RequiresReview)
}

func TestRuntimePlannerRejectsForwardDependency(t *testing.T) {
	rt, root := newRuntime(t)
	client := &fakeClient{name: "fake", structured: model.Plan{
		Summary:    "bad plan",
		Confidence: 0.95,
		Steps: []model.PlanStep{
			{Order: 0, Description: "step0", Role: model.RoleCoder, Dependencies: []int{1}},
			{Order: 1, Description: "step1", Role: model.RoleQA},
		},
	}}

	out := rt.Run(context.Background(), Request{Role: model.RolePlanner, Client: client, RepoRoot: root})
	require.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, model.ErrorKindInvalidPlan, out.ErrorKind)
}

func TestRuntimeCoderLoopExecutesToolsThenFinal(t *testing.T) {
	rt, root := newRuntime(t)
	client := &fakeClient{
		name: "fake",
		toolResponses: []ToolCallResponse{
			{Calls: []ToolCallDecision{
				{Tool: tools.ToolCreateFile, Args: map[string]any{"path": "a.go", "content": "package a\n"}},
			}},
		},
	}

	out := rt.Run(context.Background(), Request{
		Role: model.RoleCoder, Client: client, RepoRoot: root,
		RequiredFiles: []string{"a.go"}, ReviewThreshold: 0.7, MaxIterations: 4,
	})
	require.Equal(t, StatusCompleted, out.Status)
	require.Len(t, out.ToolInvocations, 1)
	require.Len(t, out.VerifiedEvents, 1)
	assert.Equal(t, "done", out.Title)
}

func TestRuntimeCoderFailsAfterRepromptBudgetExhausted(t *testing.T) {
	rt, root := newRuntime(t)
	client := &fakeClient{name: "fake"} // always returns final text with no tool calls

	out := rt.Run(context.Background(), Request{
		Role: model.RoleCoder, Client: client, RepoRoot: root,
		RequiredFiles: []string{"never_written.go"}, ReviewThreshold: 0.7, MaxIterations: 8,
	})
	require.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, model.ErrorKindAgentInvalid, out.ErrorKind)
}

func TestRuntimeExceedingIterationsFails(t *testing.T) {
	rt, root := newRuntime(t)
	client := &fakeClient{
		name: "fake",
		toolResponses: []ToolCallResponse{
			{Calls: []ToolCallDecision{{Tool: tools.ToolScanRepo, Args: map[string]any{}}}},
			{Calls: []ToolCallDecision{{Tool: tools.ToolScanRepo, Args: map[string]any{}}}},
			{Calls: []ToolCallDecision{{Tool: tools.ToolScanRepo, Args: map[string]any{}}}},
		},
	}

	out := rt.Run(context.Background(), Request{Role: model.RoleQA, Client: client, RepoRoot: root, MaxIterations: 2})
	require.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, model.ErrorKindAgentIterations, out.ErrorKind)
}

func TestRuntimeClientErrorMapsToErrorKind(t *testing.T) {
	rt, root := newRuntime(t)
	client := &fakeClient{name: "fake", toolErr: &ClientError{Kind: ClientErrTimeout, Message: "slow"}}

	out := rt.Run(context.Background(), Request{Role: model.RoleQA, Client: client, RepoRoot: root, MaxIterations: 2})
	require.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, model.ErrorKindAgentTimeout, out.ErrorKind)
}

func TestDocsRoleCannotCreateFiles(t *testing.T) {
	rt, _ := newRuntime(t)
	names := toolNamesForRole(rt.registry, model.RoleDocs)
	for _, n := range names {
		assert.NotEqual(t, tools.ToolCreateFile, n)
		assert.NotEqual(t, tools.ToolRunCommand, n)
	}
}
