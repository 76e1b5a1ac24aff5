// Package redis is the durable, cross-process EventBus transport backed
// by Redis Streams, grounded on the teacher's
// internal/shared/eventbus/redis/workflow_events.go XADD/XREAD mechanics
// and internal/shared/queue/redis's consumer-group idiom.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/netbuddy/taskforge/internal/eventbus"
	"github.com/netbuddy/taskforge/internal/logging"
	"github.com/netbuddy/taskforge/internal/model"
)

const (
	keyPrefix       = "task:"
	maxStreamLength = 2000
)

// Bus is a Redis Streams-backed eventbus.EventBus. Each task gets its own
// stream keyed "task:{id}"; XADD appends, XRANGE replays history, XREAD
// with a blocking read delivers live events.
type Bus struct {
	client *goredis.Client
	log    *logging.Logger
}

// New wraps an existing go-redis client.
func New(client *goredis.Client, log *logging.Logger) *Bus {
	return &Bus{client: client, log: log}
}

func streamKey(taskID string) string { return keyPrefix + taskID }

// Publish XADDs the event, trimming the stream to maxStreamLength.
func (b *Bus) Publish(ctx context.Context, event model.TaskEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	args := &goredis.XAddArgs{
		Stream: streamKey(event.TaskID),
		MaxLen: maxStreamLength,
		Approx: true,
		Values: map[string]interface{}{
			"seq":       event.Seq,
			"kind":      string(event.Kind),
			"timestamp": event.Timestamp.Format(time.RFC3339Nano),
			"payload":   string(payload),
		},
	}
	id, err := b.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("publish task event: %w", err)
	}
	if b.log != nil {
		b.log.Debug("event published", "task_id", event.TaskID, "seq", event.Seq, "kind", event.Kind, "stream_id", id)
	}
	return nil
}

// EventsSince satisfies eventbus.Replayer via XRANGE.
func (b *Bus) EventsSince(ctx context.Context, taskID string, sinceSeq int64) ([]model.TaskEvent, error) {
	msgs, err := b.client.XRange(ctx, streamKey(taskID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("read task events: %w", err)
	}
	var out []model.TaskEvent
	for _, msg := range msgs {
		e, err := decode(taskID, msg)
		if err != nil {
			continue
		}
		if e.Seq > sinceSeq {
			out = append(out, e)
		}
	}
	return out, nil
}

// Subscribe replays history since sinceSeq, then blocks on XREAD for live
// events until ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, taskID string, sinceSeq int64) (<-chan model.TaskEvent, error) {
	ch := make(chan model.TaskEvent, 64)

	history, err := b.EventsSince(ctx, taskID, sinceSeq)
	if err != nil {
		return nil, err
	}

	go func() {
		defer close(ch)
		lastID := "$"
		for _, e := range history {
			select {
			case ch <- e:
			case <-ctx.Done():
				return
			}
		}

		key := streamKey(taskID)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			streams, err := b.client.XRead(ctx, &goredis.XReadArgs{
				Streams: []string{key, lastID},
				Count:   16,
				Block:   5 * time.Second,
			}).Result()
			if err != nil {
				if err == goredis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				if b.log != nil {
					b.log.Warn("event subscription read failed", "task_id", taskID, "error", err)
				}
				time.Sleep(time.Second)
				continue
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					e, err := decode(taskID, msg)
					if err != nil {
						continue
					}
					select {
					case ch <- e:
						lastID = msg.ID
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch, nil
}

func decode(taskID string, msg goredis.XMessage) (model.TaskEvent, error) {
	e := model.TaskEvent{TaskID: taskID}
	if kind, ok := msg.Values["kind"].(string); ok {
		e.Kind = model.EventKind(kind)
	}
	if seq, ok := msg.Values["seq"]; ok {
		switch v := seq.(type) {
		case string:
			fmt.Sscanf(v, "%d", &e.Seq)
		case int64:
			e.Seq = v
		}
	}
	if ts, ok := msg.Values["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = t
		}
	}
	if payload, ok := msg.Values["payload"].(string); ok {
		var v any
		if err := json.Unmarshal([]byte(payload), &v); err == nil {
			e.Payload = v
		}
	}
	return e, nil
}

// Close closes the underlying Redis client.
func (b *Bus) Close() error { return b.client.Close() }

var _ eventbus.EventBus = (*Bus)(nil)
var _ eventbus.Replayer = (*Bus)(nil)
