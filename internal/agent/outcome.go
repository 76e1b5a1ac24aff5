package agent

import (
	"github.com/netbuddy/taskforge/internal/model"
)

// Status is the terminal disposition of one agent invocation.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Outcome is the Agent Runtime's result of one invocation (§4.3's
// "AgentOutcome containing a user-facing title, a user-facing subtitle,
// technical reasoning, the tool-invocation list, confidence, and a
// review flag").
type Outcome struct {
	Status          Status
	Title           string
	Subtitle        string
	Reasoning       string
	ToolInvocations []model.ToolInvocation
	VerifiedEvents  []model.VerifiedFileEvent
	Plan            *model.Plan
	Confidence      float64
	RequiresReview  bool
	ErrorKind       model.ErrorKind
	ErrorMessage    string
}

// ToAgentRun projects the Outcome onto the persisted AgentRun shape.
func (o Outcome) ToAgentRun(taskID string, step int, role model.AgentRole) model.AgentRun {
	return model.AgentRun{
		TaskID:          taskID,
		Step:            step,
		Role:            role,
		Title:           o.Title,
		Subtitle:        o.Subtitle,
		Reasoning:       o.Reasoning,
		ToolInvocations: o.ToolInvocations,
		Confidence:      o.Confidence,
		RequiresReview:  o.RequiresReview,
	}
}

func failed(kind model.ErrorKind, message string) Outcome {
	return Outcome{Status: StatusFailed, ErrorKind: kind, ErrorMessage: message, Title: "Agent failed", Subtitle: message}
}
