package engine

import (
	"context"
	"time"

	"github.com/netbuddy/taskforge/internal/clock"
	"github.com/netbuddy/taskforge/internal/logging"
	"github.com/netbuddy/taskforge/internal/storage"
)

// startHeartbeat writes a heartbeat immediately and then every interval
// until the returned stop func is called, per §4.1's "a task in any
// executing status publishes a heartbeat every T_beat." It runs for the
// duration of one agent invocation, the Task Engine's only long-running
// suspension point per §5.
func startHeartbeat(ctx context.Context, clk clock.Clock, store storage.TaskStore, logger *logging.Logger, taskID string, interval time.Duration) func() {
	done := make(chan struct{})
	beat := func() {
		err := store.UpdateHeartbeat(ctx, taskID, clk.Now())
		if logger != nil {
			logger.HeartbeatLog(taskID, err == nil, 0, err)
		}
	}
	beat()

	ticker := clk.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				beat()
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() { close(done) }
}
