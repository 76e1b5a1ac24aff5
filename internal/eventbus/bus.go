// Package eventbus fans task-scoped state deltas out to subscribers,
// unifying an in-process transport and a durable cross-process transport
// behind one interface, per the redesign notes' call to "unify under one
// interface with two transports; consumers depend only on the interface."
package eventbus

import (
	"context"

	"github.com/netbuddy/taskforge/internal/model"
)

// EventBus publishes and replays a task's totally-ordered event log.
// Implementations must deliver events within one topic (task ID) in
// commit order; ordering across topics is not guaranteed.
type EventBus interface {
	// Publish appends event to task's topic and fans it out to live
	// subscribers. event.Seq must already be assigned by the caller
	// (the State Store's per-task sequence counter is the source of
	// truth for ordering, per §4.5/§4.6).
	Publish(ctx context.Context, event model.TaskEvent) error

	// Subscribe returns a channel of events for taskID starting after
	// sinceSeq (0 to receive the full retained log), then switches to
	// live delivery. The channel closes when ctx is cancelled or the
	// subscription is otherwise torn down.
	Subscribe(ctx context.Context, taskID string, sinceSeq int64) (<-chan model.TaskEvent, error)

	// Close releases transport resources.
	Close() error
}

// Replayer is implemented by an EventBus transport that can serve the
// events it retained after sinceSeq for reconnect replay: InProcess from
// its own bounded backlog, the Redis transport from its stream, and
// Fanout by delegating to its Secondary transport, or else its Primary,
// whichever is a Replayer.
type Replayer interface {
	EventsSince(ctx context.Context, taskID string, sinceSeq int64) ([]model.TaskEvent, error)
}
