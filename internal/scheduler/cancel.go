package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/netbuddy/taskforge/internal/model"
	"github.com/netbuddy/taskforge/internal/storage"
)

// Cancel fails taskID and cascades the failure to every descendant that
// has not already reached a terminal status, per §4.2's cancellation
// cascade. Descendants already completed or failed are left untouched;
// their outcome stands regardless of the ancestor's later cancellation.
func (s *Scheduler) Cancel(ctx context.Context, taskID string) error {
	if err := s.failOne(ctx, taskID, "task cancelled"); err != nil {
		return err
	}
	return s.cancelChildren(ctx, taskID)
}

func (s *Scheduler) cancelChildren(ctx context.Context, parentID string) error {
	children, err := s.store.ListChildren(ctx, parentID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := s.failOne(ctx, child.ID, "parent cancelled"); err != nil {
			return err
		}
		if err := s.cancelChildren(ctx, child.ID); err != nil {
			return err
		}
	}
	return nil
}

// maxCancelRetries bounds failOne's compare-and-swap retry against a
// task whose status keeps moving out from under it.
const maxCancelRetries = 5

// failOne transitions a single task to failed, retrying the
// compare-and-swap against whatever status the task actually holds. A
// task already terminal is left alone rather than re-failed with a
// cancellation reason that would overwrite its real outcome. On a
// successful commit it publishes a status(failed) event followed by an
// error event, the same publish-after-commit order engine.fail uses, so
// a cancelled task's event log ends in a final error event with a
// sequence number strictly greater than everything already logged.
func (s *Scheduler) failOne(ctx context.Context, taskID, reason string) error {
	for attempt := 0; attempt < maxCancelRetries; attempt++ {
		task, err := s.store.GetTask(ctx, taskID)
		if err != nil {
			if err == storage.ErrNotFound {
				return nil
			}
			return err
		}
		if task.Status.IsTerminal() {
			return nil
		}
		from := task.Status

		now := s.clk.Now()
		err = s.store.UpdateTaskStatus(ctx, taskID, task.Status, func(t *model.Task) {
			t.Status = model.TaskStatusFailed
			t.ErrorKind = model.ErrorKindCancelled
			t.ErrorMessage = reason
			t.UpdatedAt = now
			completedAt := now
			t.CompletedAt = &completedAt
		})
		if errors.Is(err, storage.ErrConflict) {
			time.Sleep(time.Millisecond)
			continue
		}
		if err == nil {
			s.publish(ctx, taskID, model.EventKindStatus, model.StatusPayload{From: from, To: model.TaskStatusFailed, Reason: reason})
			s.publish(ctx, taskID, model.EventKindError, model.ErrorPayload{Kind: model.ErrorKindCancelled, Message: reason})
		}
		return err
	}
	return storage.ErrConflict
}
