package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/punchamoorthee/parimutuel/internal/domain"
)

const (
	// DefaultStream is the stream committed engine events are appended to.
	DefaultStream = "parimutuel:events"

	// streamMaxLen is enforced approximately via XADD MAXLEN ~.
	streamMaxLen int64 = 10000
)

// StreamEvent is one event read back from the stream with its entry ID.
type StreamEvent struct {
	ID    string
	Event domain.Event
}

// EventStream implements domain.EventSink on a Redis stream so downstream
// readers can follow the ledger without polling the store.
type EventStream struct {
	rdb    *redis.Client
	stream string
}

// NewEventStream appends to stream, or DefaultStream when empty.
func NewEventStream(c *Client, stream string) *EventStream {
	if stream == "" {
		stream = DefaultStream
	}
	return &EventStream{rdb: c.Underlying(), stream: stream}
}

func (es *EventStream) Publish(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: marshal event %s: %w", ev.ID, err)
	}
	args := &redis.XAddArgs{
		Stream: es.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":      string(ev.Type),
			"market_id": ev.MarketID,
			"payload":   payload,
		},
	}
	if err := es.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", es.stream, err)
	}
	return nil
}

// Read returns up to count events after lastID. Use "0" to read from the
// beginning. An empty stream yields an empty slice, not an error.
func (es *EventStream) Read(ctx context.Context, lastID string, count int) ([]StreamEvent, error) {
	results, err := es.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{es.stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", es.stream, err)
	}

	var out []StreamEvent
	for _, s := range results {
		for _, msg := range s.Messages {
			raw, ok := msg.Values["payload"].(string)
			if !ok {
				continue
			}
			var ev domain.Event
			if err := json.Unmarshal([]byte(raw), &ev); err != nil {
				return nil, fmt.Errorf("redis: decode event %s: %w", msg.ID, err)
			}
			out = append(out, StreamEvent{ID: msg.ID, Event: ev})
		}
	}
	return out, nil
}

var _ domain.EventSink = (*EventStream)(nil)
