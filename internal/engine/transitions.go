package engine

import (
	"context"
	"errors"

	"github.com/netbuddy/taskforge/internal/model"
	"github.com/netbuddy/taskforge/internal/storage"
)

// maxTransitionRetries bounds the read-modify-write retry §4.1 requires
// on a conflicting concurrent update.
const maxTransitionRetries = 3

// transition performs the compare-and-swap from expected to to, logs it,
// and publishes the corresponding status event, retrying a bounded
// number of times on ErrConflict by re-reading the row. A retry happens
// only while the re-read row still holds expected; once the task has left
// expected (another actor moved it, or the Lease Sweeper failed it), the
// conflict is returned.
func (e *Engine) transition(ctx context.Context, task *model.Task, expected, to model.TaskStatus, reason string, mutate func(*model.Task)) error {
	return e.transitionWithSideEffect(ctx, task, expected, to, reason, mutate, nil)
}

// transitionWithSideEffect is transition plus an onCommitted hook run
// after the compare-and-swap succeeds but before the status event
// publishes, so a transition's documented side effect (e.g. plan_ready)
// orders ahead of the status event it accompanies in the task's event log.
func (e *Engine) transitionWithSideEffect(ctx context.Context, task *model.Task, expected, to model.TaskStatus, reason string, mutate func(*model.Task), onCommitted func()) error {
	return e.compareAndSwap(ctx, task, expected, to, reason, mutate, onCommitted, false)
}

// compareAndSwap is the retry loop behind transitionWithSideEffect and
// transitionAny. With anyFrom false a conflict is retried only while the
// re-read status still equals expected; with anyFrom true the retry
// adopts whatever non-terminal status the re-read row holds.
func (e *Engine) compareAndSwap(ctx context.Context, task *model.Task, expected, to model.TaskStatus, reason string, mutate func(*model.Task), onCommitted func(), anyFrom bool) error {
	id := task.ID
	current := expected
	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		err := e.store.UpdateTaskStatus(ctx, id, current, func(t *model.Task) {
			if mutate != nil {
				mutate(t)
			}
			t.Status = to
		})
		if err == nil {
			if e.logger != nil {
				e.logger.TransitionLog(id, string(current), string(to), reason)
			}
			task.Status = to
			e.metrics.RecordTransition(string(current), string(to))
			if onCommitted != nil {
				onCommitted()
			}
			e.publish(ctx, id, model.EventKindStatus, model.StatusPayload{From: current, To: to, Reason: reason})
			return nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return err
		}
		fresh, getErr := e.store.GetTask(ctx, id)
		if getErr != nil {
			return getErr
		}
		if fresh.Status.IsTerminal() || (!anyFrom && fresh.Status != expected) {
			return err
		}
		current = fresh.Status
	}
	return storage.ErrConflict
}

// transitionAny transitions from whatever status task currently holds,
// for callers reached from "any non-terminal state" edges (pause, lease
// expiry) rather than a single named precondition.
func (e *Engine) transitionAny(ctx context.Context, task *model.Task, to model.TaskStatus, reason string, mutate func(*model.Task)) error {
	return e.compareAndSwap(ctx, task, task.Status, to, reason, mutate, nil, true)
}

// handleTransitionErr classifies a non-conflict transition error: a
// conflict that survived retries means another actor (typically the
// Lease Sweeper) already moved the task past this phase, which is not
// an engine failure and simply ends this worker's drive.
func (e *Engine) handleTransitionErr(ctx context.Context, task *model.Task, err error) error {
	if errors.Is(err, storage.ErrConflict) {
		return nil
	}
	return err
}

// fail transitions task to failed from whatever status it currently
// holds, per the "any non-terminal -> failed" edges in §4.1.
func (e *Engine) fail(ctx context.Context, task *model.Task, kind model.ErrorKind, message string) {
	err := e.transitionAny(ctx, task, model.TaskStatusFailed, message, func(t *model.Task) {
		t.ErrorKind = kind
		t.ErrorMessage = message
	})
	if err != nil && e.logger != nil {
		e.logger.WithTaskID(task.ID).WithError(err).Warn("failed to record task failure")
	}
	e.publish(ctx, task.ID, model.EventKindError, model.ErrorPayload{Kind: kind, Message: message})
}
