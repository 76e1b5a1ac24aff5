package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netbuddy/taskforge/internal/model"
)

func TestInProcessPublishSubscribeOrdering(t *testing.T) {
	bus := NewInProcess(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "task-1", 0)
	require.NoError(t, err)

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, bus.Publish(ctx, model.TaskEvent{TaskID: "task-1", Seq: i, Kind: model.EventKindStatus}))
	}

	var seqs []int64
	for i := 0; i < 3; i++ {
		select {
		case e := <-ch:
			seqs = append(seqs, e.Seq)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
	assert.Equal(t, []int64{1, 2, 3}, seqs)
}

func TestInProcessReplaySinceSeq(t *testing.T) {
	bus := NewInProcess(16)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, bus.Publish(ctx, model.TaskEvent{TaskID: "task-1", Seq: i}))
	}

	events, err := bus.EventsSince(ctx, "task-1", 3)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(4), events[0].Seq)
	assert.Equal(t, int64(5), events[1].Seq)
}

func TestInProcessSubscribeReplaysBacklogThenLive(t *testing.T) {
	bus := NewInProcess(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Publish(ctx, model.TaskEvent{TaskID: "t", Seq: 1}))
	require.NoError(t, bus.Publish(ctx, model.TaskEvent{TaskID: "t", Seq: 2}))

	ch, err := bus.Subscribe(ctx, "t", 1)
	require.NoError(t, err)

	select {
	case e := <-ch:
		assert.Equal(t, int64(2), e.Seq)
	case <-time.After(time.Second):
		t.Fatal("expected replayed backlog event")
	}

	require.NoError(t, bus.Publish(ctx, model.TaskEvent{TaskID: "t", Seq: 3}))
	select {
	case e := <-ch:
		assert.Equal(t, int64(3), e.Seq)
	case <-time.After(time.Second):
		t.Fatal("expected live event")
	}
}

func TestInProcessSubscribeClosesOnContextCancel(t *testing.T) {
	bus := NewInProcess(16)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bus.Subscribe(ctx, "t", 0)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("expected channel to close after context cancel")
	}
}
