package model

import "time"

// EventKind is the closed set of event kinds the Event Bus delivers, per
// the component design's Event Bus section.
type EventKind string

const (
	EventKindStatus       EventKind = "status"
	EventKindPlanReady    EventKind = "plan_ready"
	EventKindAgentLog     EventKind = "agent_log"
	EventKindFileVerified EventKind = "file_verified"
	EventKindComplete     EventKind = "complete"
	EventKindError        EventKind = "error"
)

// TaskEvent is one entry in a task's per-task totally-ordered event log.
// Seq is monotonically increasing per TaskID and is the key subscribers use
// for idempotent, at-least-once delivery.
type TaskEvent struct {
	TaskID    string    `json:"task_id" db:"task_id"`
	Seq       int64     `json:"seq" db:"seq"`
	Kind      EventKind `json:"kind" db:"kind"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Payload   any       `json:"payload,omitempty" db:"payload"`
}

// StatusPayload backs EventKindStatus.
type StatusPayload struct {
	From      TaskStatus `json:"from"`
	To        TaskStatus `json:"to"`
	Reason    string     `json:"reason,omitempty"`
}

// PlanReadyPayload backs EventKindPlanReady.
type PlanReadyPayload struct {
	Plan Plan `json:"plan"`
}

// AgentLogPayload backs EventKindAgentLog.
type AgentLogPayload struct {
	Run AgentRun `json:"run"`
}

// FileVerifiedPayload backs EventKindFileVerified.
type FileVerifiedPayload struct {
	Event VerifiedFileEvent `json:"event"`
}

// CompletePayload backs EventKindComplete.
type CompletePayload struct {
	Status TaskStatus `json:"status"`
}

// ErrorPayload backs EventKindError.
type ErrorPayload struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}
