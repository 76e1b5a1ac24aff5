// Package storage is the orchestrator's State Store (§4.6): the durable
// record of repositories, tasks, agent runs, verified file events, and
// each task's per-task event log. Grounded on the teacher's
// internal/shared/storage/interface.go composed-interface pattern (one
// interface segment per aggregate) and internal/shared/storage/errors.go
// (sentinel errors wrapped with %w), trimmed to the five logical tables
// of §6.4.
package storage

import (
	"context"
	"time"

	"github.com/netbuddy/taskforge/internal/model"
)

// TaskFilter narrows ListTasks, mirroring the query parameters accepted
// by GET /tasks in §6.1.
type TaskFilter struct {
	RepositoryID string
	ParentTaskID string
	Status       model.TaskStatus
	Limit        int
	Offset       int
}

// RepositoryStore persists registered target repositories.
type RepositoryStore interface {
	CreateRepository(ctx context.Context, repo *model.Repository) error
	GetRepository(ctx context.Context, id string) (*model.Repository, error)
	ListRepositories(ctx context.Context) ([]*model.Repository, error)
}

// TaskStore is the Task/Plan aggregate's persistence contract. Every
// status-changing write goes through UpdateTaskStatus so the Task Engine
// can enforce §4.1's "committed only if the current status matches the
// expected precondition."
type TaskStore interface {
	CreateTask(ctx context.Context, task *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*model.Task, error)
	ListChildren(ctx context.Context, parentID string) ([]*model.Task, error)

	// UpdateTaskStatus performs a compare-and-swap transition: it applies
	// mutate to the current row only if the row's status equals
	// expectedStatus, and reports ErrConflict otherwise so the caller can
	// retry per §4.1's "read-modify-write retry (bounded)."
	UpdateTaskStatus(ctx context.Context, id string, expectedStatus model.TaskStatus, mutate func(*model.Task)) error

	// UpdateHeartbeat bumps a task's heartbeat timestamp without going
	// through the status compare-and-swap path (heartbeats do not change
	// status and must never be blocked by a concurrent transition retry).
	UpdateHeartbeat(ctx context.Context, id string, at time.Time) error

	// ListStaleHeartbeats returns executing-status tasks whose heartbeat
	// is older than olderThan, for the Lease Sweeper (§4.1, §8 property 2).
	ListStaleHeartbeats(ctx context.Context, olderThan time.Time) ([]*model.Task, error)

	// DeleteTaskCascade removes a task, all descendants, their runs, tool
	// invocations, verified-file events, and event log, per §3's
	// "delete is explicit and cascades to all descendants."
	DeleteTaskCascade(ctx context.Context, id string) error
}

// RunStore is the AgentRun/ToolInvocation aggregate's persistence
// contract; runs are append-only per §6.4.
type RunStore interface {
	AppendAgentRun(ctx context.Context, run *model.AgentRun) error
	ListRuns(ctx context.Context, taskID string) ([]model.AgentRun, error)
}

// FileEventStore is the VerifiedFileEvent aggregate's persistence
// contract; events are append-only per §6.4.
type FileEventStore interface {
	AppendVerifiedFileEvent(ctx context.Context, event *model.VerifiedFileEvent) error
	ListVerifiedFileEvents(ctx context.Context, taskID string) ([]model.VerifiedFileEvent, error)
	AppendChangeSet(ctx context.Context, cs *model.ChangeSet) error
}

// EventLogStore is the per-task event log keyed (task_id, seq), backing
// both the Event Bus's durable replay path and the stream API's
// reconnect-and-resume semantics (§4.5, §6.1).
type EventLogStore interface {
	// AppendEvent atomically allocates and returns the next per-task sequence
	// number, then appends event with that seq. It is the single writer
	// of task sequence numbers so concurrent publishers never collide.
	AppendEvent(ctx context.Context, event *model.TaskEvent) (int64, error)
	GetEventsSince(ctx context.Context, taskID string, sinceSeq int64) ([]model.TaskEvent, error)
}

// StateStore composes every aggregate's contract into the one dependency
// the kernel's components take at construction.
type StateStore interface {
	RepositoryStore
	TaskStore
	RunStore
	FileEventStore
	EventLogStore

	// Migrate brings the schema to the version this binary requires,
	// per §6.4: "the core requires the current version before accepting
	// writes."
	Migrate(ctx context.Context) error

	Close() error
}
