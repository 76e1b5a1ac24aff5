package lease

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netbuddy/taskforge/internal/clock"
	"github.com/netbuddy/taskforge/internal/eventbus"
	"github.com/netbuddy/taskforge/internal/model"
)

func newExecutingTask(id string, heartbeat time.Time) *model.Task {
	return &model.Task{
		ID:           id,
		RepositoryID: "repo-1",
		UserRequest:  "do something",
		Status:       model.TaskStatusExecuting,
		Heartbeat:    heartbeat,
		CreatedAt:    heartbeat,
		UpdatedAt:    heartbeat,
	}
}

func TestSweeperReclaimsExpiredLease(t *testing.T) {
	store := newFakeStore()
	bus := eventbus.NewInProcess(16)
	now := time.Now()
	fake := clock.NewFake(now)

	stale := newExecutingTask("stale-task", now.Add(-time.Minute))
	require.NoError(t, store.CreateTask(context.Background(), stale))

	sub, err := bus.Subscribe(context.Background(), stale.ID, 0)
	require.NoError(t, err)

	sw := New(store, bus, fake, nil, Config{SweepInterval: time.Hour, LeaseTimeout: 30 * time.Second}, nil)
	sw.sweep(context.Background())

	task, err := store.GetTask(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, task.Status)
	assert.Equal(t, model.ErrorKindLeaseExpired, task.ErrorKind)
	assert.Equal(t, "lease expired", task.ErrorMessage)
	require.NotNil(t, task.CompletedAt)

	select {
	case ev := <-sub:
		assert.Equal(t, model.EventKindStatus, ev.Kind)
		payload, ok := ev.Payload.(model.StatusPayload)
		require.True(t, ok)
		assert.Equal(t, model.TaskStatusFailed, payload.To)
		assert.Equal(t, "lease expired", payload.Reason)
	default:
		t.Fatal("expected a status event to be published")
	}
}

func TestSweeperLeavesFreshHeartbeatAlone(t *testing.T) {
	store := newFakeStore()
	bus := eventbus.NewInProcess(16)
	now := time.Now()
	fake := clock.NewFake(now)

	fresh := newExecutingTask("fresh-task", now)
	require.NoError(t, store.CreateTask(context.Background(), fresh))

	sw := New(store, bus, fake, nil, Config{SweepInterval: time.Hour, LeaseTimeout: 30 * time.Second}, nil)
	sw.sweep(context.Background())

	task, err := store.GetTask(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusExecuting, task.Status)
}

func TestSweeperDoesNotReclaimTerminalTasks(t *testing.T) {
	store := newFakeStore()
	bus := eventbus.NewInProcess(16)
	now := time.Now()
	fake := clock.NewFake(now)

	completed := newExecutingTask("done-task", now.Add(-time.Hour))
	completed.Status = model.TaskStatusCompleted
	require.NoError(t, store.CreateTask(context.Background(), completed))

	sw := New(store, bus, fake, nil, Config{SweepInterval: time.Hour, LeaseTimeout: 30 * time.Second}, nil)
	sw.sweep(context.Background())

	task, err := store.GetTask(context.Background(), completed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, task.Status)
	assert.Empty(t, task.ErrorKind)
}
