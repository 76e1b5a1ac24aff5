// Package agent drives one role-specialized generative-agent invocation:
// issuing prompts to a generative client, executing any requested tool
// calls through the Tool Registry, and folding the results into a single
// AgentOutcome for the Task Engine to persist and publish.
package agent

import (
	"context"
	"fmt"

	"github.com/netbuddy/taskforge/internal/tools"
)

// ToolChoice mirrors the tool-call contract's tool-choice policy: the
// generative client may be forced to call a tool, left free to decide,
// or pointed at one specific tool.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
	ToolChoiceSpecific ToolChoice = "specific"
)

// Message is one turn of the running transcript fed back to the
// generative client on every loop iteration: the assistant's own
// reasoning/tool-call turns, and the tool results that answer them.
type Message struct {
	Role       string // "assistant" or "tool"
	Content    string
	ToolName   string
	ToolCallID string
}

// ToolCallRequest is one iteration's input to Client.ToolCall.
type ToolCallRequest struct {
	SystemPrompt string
	UserPrompt   string
	Transcript   []Message
	Tools        []tools.Descriptor
	ToolChoice   ToolChoice
	SpecificTool string
	Temperature  float64
}

// ToolCallDecision is one tool the client asked the runtime to invoke.
type ToolCallDecision struct {
	Tool string
	Args map[string]any
}

// ToolCallResponse is the client's answer to one ToolCall iteration:
// either a final text (loop ends) or one or more tool calls to execute.
type ToolCallResponse struct {
	FinalText string
	Calls     []ToolCallDecision
}

func (r ToolCallResponse) IsFinal() bool { return len(r.Calls) == 0 }

// StructuredOutputRequest asks the client for a value matching Schema
// instead of free text or tool calls; used by the planner role.
type StructuredOutputRequest struct {
	SystemPrompt string
	UserPrompt   string
	Schema       map[string]any
	Temperature  float64
}

// ClientErrorKind is the closed failure taxonomy the contract requires
// of every generative-client implementation.
type ClientErrorKind string

const (
	ClientErrRateLimit     ClientErrorKind = "rate_limit"
	ClientErrInvalidOutput ClientErrorKind = "invalid_output"
	ClientErrNetwork       ClientErrorKind = "network"
	ClientErrTimeout       ClientErrorKind = "timeout"
)

// ClientError is the error type every Client implementation must return
// on failure, so the runtime can decide whether a failure is retryable.
type ClientError struct {
	Kind    ClientErrorKind
	Message string
}

func (e *ClientError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

// Retryable reports whether the runtime should re-issue the same
// request rather than fail the agent invocation outright.
func (e *ClientError) Retryable() bool {
	return e.Kind == ClientErrRateLimit || e.Kind == ClientErrNetwork
}

// Client is the opaque generative-agent contract the runtime consumes.
// Implementations must be cancelable via ctx and must honor the
// requested tool-choice policy.
type Client interface {
	Name() string
	StructuredOutput(ctx context.Context, req StructuredOutputRequest, target any) error
	ToolCall(ctx context.Context, req ToolCallRequest) (ToolCallResponse, error)
}
