package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/netbuddy/taskforge/internal/logging"
	"github.com/netbuddy/taskforge/internal/model"
	"github.com/netbuddy/taskforge/internal/tools"
)

// planSchema is the structured-output schema handed to the planner
// role; its shape mirrors model.Plan.
var planSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"summary":         map[string]any{"type": "string"},
		"complexity":      map[string]any{"type": "integer"},
		"affected_files":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"risks":           map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"confidence":      map[string]any{"type": "number"},
		"steps": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"order":        map[string]any{"type": "integer"},
					"description":  map[string]any{"type": "string"},
					"role":         map[string]any{"type": "string", "enum": []string{"coder", "qa", "docs"}},
					"files":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"dependencies": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
				},
				"required": []string{"order", "description", "role"},
			},
		},
	},
	"required": []string{"summary", "steps", "confidence"},
}

// resultPayload is the JSON shape a tool-loop role's final text must
// conform to (§4.3's AgentOutcome fields), grounded on the
// pre-distillation AgentOutput schema (ui_title/ui_subtitle/
// technical_reasoning/confidence_score).
type resultPayload struct {
	Title      string  `json:"ui_title"`
	Subtitle   string  `json:"ui_subtitle"`
	Reasoning  string  `json:"technical_reasoning"`
	Confidence float64 `json:"confidence_score"`
}

// Request is one agent invocation's inputs.
type Request struct {
	TaskID          string
	Step            int
	Role            model.AgentRole
	Client          Client
	SystemPrompt    string
	UserPrompt      string
	MaxIterations   int
	Temperature     float64
	RepoRoot        string
	Policy          *tools.FileAccessPolicy
	RequiredFiles   []string // coder role only
	ReviewThreshold float64
}

// Runtime drives one agent invocation's request/tool-call loop.
type Runtime struct {
	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	logger     *logging.Logger
}

func NewRuntime(registry *tools.Registry, dispatcher *tools.Dispatcher, logger *logging.Logger) *Runtime {
	return &Runtime{registry: registry, dispatcher: dispatcher, logger: logger}
}

// Run drives req to completion or failure. It never panics for
// ordinary agent/tool failures; those are reported as Outcome.Status ==
// StatusFailed with an ErrorKind, per §4.3's failure-handling contract.
func (rt *Runtime) Run(ctx context.Context, req Request) Outcome {
	if req.MaxIterations <= 0 {
		req.MaxIterations = 8
	}
	if req.Role == model.RolePlanner {
		return rt.runPlanner(ctx, req)
	}
	return rt.runToolLoop(ctx, req)
}

func (rt *Runtime) runPlanner(ctx context.Context, req Request) Outcome {
	var plan model.Plan
	err := req.Client.StructuredOutput(ctx, StructuredOutputRequest{
		SystemPrompt: req.SystemPrompt,
		UserPrompt:   req.UserPrompt,
		Schema:       planSchema,
		Temperature:  req.Temperature,
	}, &plan)
	if err != nil {
		return failed(clientErrorKind(err), err.Error())
	}

	if err := validatePlan(&plan); err != nil {
		return failed(model.KindOf(err), err.Error())
	}

	return Outcome{
		Status:         StatusCompleted,
		Title:          "Plan created",
		Subtitle:       plan.Summary,
		Reasoning:      fmt.Sprintf("%d steps, complexity %d", len(plan.Steps), plan.Complexity),
		Plan:           &plan,
		Confidence:     plan.Confidence,
		RequiresReview: plan.Confidence < req.ReviewThreshold,
	}
}

func (rt *Runtime) runToolLoop(ctx context.Context, req Request) Outcome {
	rc := &tools.RunContext{RepoRoot: req.RepoRoot, Policy: req.Policy, Role: req.Role, TaskID: req.TaskID, Step: req.Step}
	descriptorNames := toolNamesForRole(rt.registry, req.Role)
	descriptors := rt.registry.Descriptors(descriptorNames)

	var transcript []Message
	var invocations []model.ToolInvocation
	var verifiedEvents []model.VerifiedFileEvent
	touched := make(map[string]bool)
	rePrompts := 0

	for iter := 0; iter < req.MaxIterations; iter++ {
		if ctx.Err() != nil {
			return failed(model.ErrorKindCancelled, "cancelled before completion")
		}

		resp, err := req.Client.ToolCall(ctx, ToolCallRequest{
			SystemPrompt: req.SystemPrompt,
			UserPrompt:   req.UserPrompt,
			Transcript:   transcript,
			Tools:        descriptors,
			ToolChoice:   ToolChoiceAuto,
			Temperature:  req.Temperature,
		})
		if err != nil {
			return failed(clientErrorKind(err), err.Error())
		}

		if resp.IsFinal() {
			if req.Role == model.RoleCoder {
				if missing := unmetFiles(req.RequiredFiles, touched); len(missing) > 0 {
					if rePrompts < 3 {
						rePrompts++
						transcript = append(transcript,
							Message{Role: "assistant", Content: resp.FinalText},
							Message{Role: "tool", Content: fmt.Sprintf("You declared files %v but have not yet verifiably written: %v. Continue.", req.RequiredFiles, missing)},
						)
						continue
					}
					return failed(model.ErrorKindAgentInvalid, fmt.Sprintf("declared files not written after re-prompting: %v", missing))
				}
			}
			return finalOutcome(resp.FinalText, invocations, verifiedEvents, req.ReviewThreshold)
		}

		transcript = append(transcript, Message{Role: "assistant", Content: resp.FinalText})
		for _, call := range resp.Calls {
			outcome := rt.dispatcher.Execute(ctx, rc, tools.Invocation{Tool: call.Tool, Args: call.Args})
			invocations = append(invocations, outcome.Invocation)
			verifiedEvents = append(verifiedEvents, outcome.VerifiedEvents...)
			for _, ev := range outcome.VerifiedEvents {
				touched[ev.Path] = true
			}

			resultText := outcome.Invocation.Result
			if !outcome.Invocation.Success {
				resultText = fmt.Sprintf("error(%s): %s", outcome.Invocation.ErrorKind, outcome.Invocation.Error)
			}
			transcript = append(transcript, Message{Role: "tool", ToolName: call.Tool, Content: resultText})

			if rt.logger != nil {
				rt.logger.ToolLog(req.TaskID, call.Tool, outcome.Invocation.Success, outcome.Invocation.Duration, string(outcome.Invocation.ErrorKind))
			}
		}
	}

	out := failed(model.ErrorKindAgentIterations, fmt.Sprintf("exceeded %d iterations without a final result", req.MaxIterations))
	out.ToolInvocations = invocations
	out.VerifiedEvents = verifiedEvents
	return out
}

func finalOutcome(finalText string, invocations []model.ToolInvocation, events []model.VerifiedFileEvent, reviewThreshold float64) Outcome {
	var payload resultPayload
	if err := json.Unmarshal([]byte(extractJSON(finalText)), &payload); err != nil || payload.Title == "" {
		payload = resultPayload{Title: "Task step completed", Subtitle: truncateText(finalText, 200), Reasoning: finalText, Confidence: 0.75}
	}
	return Outcome{
		Status:          StatusCompleted,
		Title:           payload.Title,
		Subtitle:        payload.Subtitle,
		Reasoning:       payload.Reasoning,
		ToolInvocations: invocations,
		VerifiedEvents:  events,
		Confidence:      payload.Confidence,
		RequiresReview:  payload.Confidence < reviewThreshold,
	}
}

func unmetFiles(required []string, touched map[string]bool) []string {
	var missing []string
	for _, f := range required {
		if !touched[f] {
			missing = append(missing, f)
		}
	}
	return missing
}

func toolNamesForRole(registry *tools.Registry, role model.AgentRole) []string {
	var names []string
	for _, t := range registry.ForRole(string(role)) {
		names = append(names, t.Name())
	}
	return names
}

func clientErrorKind(err error) model.ErrorKind {
	ce, ok := err.(*ClientError)
	if !ok {
		return model.ErrorKindTransient
	}
	switch ce.Kind {
	case ClientErrTimeout:
		return model.ErrorKindAgentTimeout
	case ClientErrInvalidOutput:
		return model.ErrorKindAgentInvalid
	default:
		return model.ErrorKindTransient
	}
}

func extractJSON(s string) string {
	start := -1
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth == 0 && start != -1 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
