// Package model defines the orchestrator's persisted data model: Task,
// Plan, AgentRun, ToolInvocation, VerifiedFileEvent, and Repository, per
// the data model section of the governing specification.
package model

import "time"

// TaskStatus is the Task Engine's state machine position.
type TaskStatus string

const (
	TaskStatusPending     TaskStatus = "pending"
	TaskStatusPlanning    TaskStatus = "planning"
	TaskStatusPlanReview  TaskStatus = "plan_review"
	TaskStatusExecuting   TaskStatus = "executing"
	TaskStatusTesting     TaskStatus = "testing"
	TaskStatusDocumenting TaskStatus = "documenting"
	TaskStatusCompleted   TaskStatus = "completed"
	TaskStatusFailed      TaskStatus = "failed"
	TaskStatusPaused      TaskStatus = "paused"
)

// IsTerminal reports whether no further transition is possible.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// IsExecuting reports whether a task in this status owes a heartbeat.
func (s TaskStatus) IsExecuting() bool {
	switch s {
	case TaskStatusPlanning, TaskStatusExecuting, TaskStatusTesting, TaskStatusDocumenting:
		return true
	default:
		return false
	}
}

// AgentRole identifies a role-specialized agent invocation.
type AgentRole string

const (
	RolePlanner AgentRole = "planner"
	RoleCoder   AgentRole = "coder"
	RoleQA      AgentRole = "qa"
	RoleDocs    AgentRole = "docs"
	RoleSystem  AgentRole = "system" // synthetic entry for a recovered panic, per §9 supplement
)

// Task is the unit of work driven by the Task Engine.
type Task struct {
	ID               string     `json:"id" db:"id"`
	ParentTaskID     *string    `json:"parent_task_id,omitempty" db:"parent_task_id"`
	RepositoryID     string     `json:"repo_id" db:"repository_id"`
	UserRequest      string     `json:"user_request" db:"user_request"`
	Title            string     `json:"title,omitempty" db:"title"`
	Status           TaskStatus `json:"status" db:"status"`
	CurrentPhaseRole AgentRole  `json:"current_phase_role,omitempty" db:"current_phase_role"`
	CurrentStep      int        `json:"current_step" db:"current_step"`
	Plan             *Plan      `json:"plan,omitempty" db:"plan"`
	RetryCount       int        `json:"retry_count" db:"retry_count"`
	FixDepth         int        `json:"fix_depth" db:"fix_depth"`
	RequiresReview   bool       `json:"requires_review" db:"requires_review"`
	ErrorKind        ErrorKind  `json:"error_kind,omitempty" db:"error_kind"`
	ErrorMessage     string     `json:"error_message,omitempty" db:"error_message"`
	DefinitionOfDone string     `json:"definition_of_done,omitempty" db:"definition_of_done"`
	Heartbeat        time.Time  `json:"heartbeat" db:"heartbeat"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	// PausedFromStatus records the status to restore on resume; only
	// meaningful while Status == TaskStatusPaused.
	PausedFromStatus TaskStatus `json:"paused_from_status,omitempty" db:"paused_from_status"`

	// Embedded runs, populated by GET /tasks/{id}; not a persisted column.
	Runs []AgentRun `json:"runs,omitempty" db:"-"`
}

// IsRoot reports whether the task has no parent.
func (t *Task) IsRoot() bool { return t.ParentTaskID == nil }

// StepCount returns the number of declared plan steps, 0 if no plan yet.
func (t *Task) StepCount() int {
	if t.Plan == nil {
		return 0
	}
	return len(t.Plan.Steps)
}

// Plan is a task's decomposition into an ordered, dependency-linked
// sequence of steps.
type Plan struct {
	Summary         string     `json:"summary"`
	Steps           []PlanStep `json:"steps"`
	Complexity      int        `json:"complexity"` // 1-10
	AffectedFiles   []string   `json:"affected_files"`
	Risks           []string   `json:"risks,omitempty"`
	Confidence      float64    `json:"confidence"`
}

// PlanStep is one node of the plan DAG.
type PlanStep struct {
	Order        int       `json:"order"`
	Description  string    `json:"description"`
	Role         AgentRole `json:"role"`
	Files        []string  `json:"files"`
	Dependencies []int     `json:"dependencies"`
}

// AgentRun is one invocation of an agent during a task.
type AgentRun struct {
	ID               string           `json:"id" db:"id"`
	TaskID           string           `json:"task_id" db:"task_id"`
	Step             int              `json:"step" db:"step"`
	Role             AgentRole        `json:"role" db:"role"`
	Title            string           `json:"title" db:"title"`
	Subtitle         string           `json:"subtitle,omitempty" db:"subtitle"`
	Reasoning        string           `json:"reasoning,omitempty" db:"reasoning"`
	ToolInvocations  []ToolInvocation `json:"tool_invocations,omitempty" db:"-"`
	Confidence       float64          `json:"confidence" db:"confidence"`
	RequiresReview   bool             `json:"requires_review" db:"requires_review"`
	Duration         time.Duration    `json:"duration_ms" db:"duration_ms"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
}

// ToolInvocation is one call by an agent to a named capability.
type ToolInvocation struct {
	ID        string        `json:"id" db:"id"`
	AgentRunID string       `json:"agent_run_id" db:"agent_run_id"`
	Tool      string        `json:"tool" db:"tool"`
	Args      map[string]any `json:"args" db:"args"`
	Success   bool          `json:"success" db:"success"`
	Result    string        `json:"result,omitempty" db:"result"`
	Error     string        `json:"error,omitempty" db:"error"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty" db:"error_kind"`
	Duration  time.Duration `json:"duration_ms" db:"duration_ms"`
}

// FileAction enumerates the kinds of filesystem effects a tool may produce.
type FileAction string

const (
	FileActionCreate FileAction = "create"
	FileActionUpdate FileAction = "update"
	FileActionDelete FileAction = "delete"
)

// VerifiedFileEvent is emitted only after the Reality Verifier confirms a
// filesystem effect matches the tool's reported effect.
type VerifiedFileEvent struct {
	ID               string     `json:"id" db:"id"`
	TaskID           string     `json:"task_id" db:"task_id"`
	Step             int        `json:"step" db:"step"`
	Path             string     `json:"path" db:"path"`
	Action           FileAction `json:"action" db:"action"`
	ByteSize         int64      `json:"byte_size" db:"byte_size"`
	QualityChecks    []string   `json:"quality_checks,omitempty" db:"quality_checks"`
	QualityWarnings  []string   `json:"quality_warnings,omitempty" db:"quality_warnings"`
	UnifiedDiff      string     `json:"unified_diff,omitempty" db:"unified_diff"`
	Timestamp        time.Time  `json:"timestamp" db:"timestamp"`
}

// Repository is a registered target of orchestrated work.
type Repository struct {
	ID          string    `json:"id" db:"id"`
	Path        string    `json:"path" db:"path"`
	DisplayName string    `json:"display_name" db:"display_name"`
	ProjectType string    `json:"project_type,omitempty" db:"project_type"`
	Framework   string    `json:"framework,omitempty" db:"framework"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
