package eventbus

import (
	"context"
	"sync"

	"github.com/netbuddy/taskforge/internal/model"
)

// InProcess is a same-process EventBus: a topic-keyed fan-out over Go
// channels, retaining a bounded per-task backlog so a subscriber that
// connects with sinceSeq > 0 can replay recent history without going
// back to the State Store.
type InProcess struct {
	mu         sync.Mutex
	topics     map[string]*topic
	backlogCap int
}

type topic struct {
	mu      sync.Mutex
	backlog []model.TaskEvent
	subs    map[chan model.TaskEvent]struct{}
}

// NewInProcess constructs an in-process bus retaining up to backlogCap
// events per task topic for replay.
func NewInProcess(backlogCap int) *InProcess {
	if backlogCap <= 0 {
		backlogCap = 256
	}
	return &InProcess{topics: make(map[string]*topic), backlogCap: backlogCap}
}

func (b *InProcess) topicFor(taskID string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[taskID]
	if !ok {
		t = &topic{subs: make(map[chan model.TaskEvent]struct{})}
		b.topics[taskID] = t
	}
	return t
}

// Publish appends event to its task topic's backlog and delivers it to
// every live subscriber; delivery to a slow subscriber never blocks the
// publisher (§5: no ordering guarantee is owed across tasks, and a
// blocked in-process fan-out must not stall the Task Engine).
func (b *InProcess) Publish(ctx context.Context, event model.TaskEvent) error {
	t := b.topicFor(event.TaskID)
	t.mu.Lock()
	defer t.mu.Unlock()

	t.backlog = append(t.backlog, event)
	if len(t.backlog) > b.backlogCap {
		t.backlog = t.backlog[len(t.backlog)-b.backlogCap:]
	}
	for ch := range t.subs {
		select {
		case ch <- event:
		default:
			// subscriber is behind; it will catch up via State Store
			// replay on reconnect (§4.5 at-least-once, not guaranteed
			// delivery over a full in-process channel).
		}
	}
	return nil
}

// Subscribe returns a channel delivering events after sinceSeq from the
// in-memory backlog, then live events as they are published.
func (b *InProcess) Subscribe(ctx context.Context, taskID string, sinceSeq int64) (<-chan model.TaskEvent, error) {
	t := b.topicFor(taskID)
	ch := make(chan model.TaskEvent, 64)

	t.mu.Lock()
	for _, e := range t.backlog {
		if e.Seq > sinceSeq {
			select {
			case ch <- e:
			default:
			}
		}
	}
	t.subs[ch] = struct{}{}
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		t.mu.Lock()
		delete(t.subs, ch)
		t.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

// EventsSince satisfies Replayer directly from the in-memory backlog.
func (b *InProcess) EventsSince(ctx context.Context, taskID string, sinceSeq int64) ([]model.TaskEvent, error) {
	t := b.topicFor(taskID)
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.TaskEvent, 0, len(t.backlog))
	for _, e := range t.backlog {
		if e.Seq > sinceSeq {
			out = append(out, e)
		}
	}
	return out, nil
}

// Close is a no-op; the in-process bus owns no external resources.
func (b *InProcess) Close() error { return nil }

var _ EventBus = (*InProcess)(nil)
var _ Replayer = (*InProcess)(nil)
