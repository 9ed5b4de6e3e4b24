package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"market-booking/internal/domain/event"
	"market-booking/internal/metrics"

	json "github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"
)

// Pending key pattern:
// - pending:{recipient} - list of undelivered events, oldest first, TTL refreshed on enqueue

// ErrCorruptPending reports backlog entries that could not be decoded. They are
// removed with the rest of the backlog.
var ErrCorruptPending = errors.New("corrupt pending entries")

// PendingConfig bounds offline retention.
type PendingConfig struct {
	TTL    time.Duration // how long an idle backlog survives
	MaxLen int64         // newest entries kept; older ones are dropped
}

// DefaultPendingConfig returns 24h retention and 100 entries per recipient.
func DefaultPendingConfig() PendingConfig {
	return PendingConfig{
		TTL:    24 * time.Hour,
		MaxLen: 100,
	}
}

// PendingQueue is a per-recipient backlog of events that found no live
// connection.
type PendingQueue struct {
	client *goredis.Client
	config PendingConfig
}

func NewPendingQueue(client *goredis.Client, config PendingConfig) *PendingQueue {
	return &PendingQueue{client: client, config: config}
}

func pendingKey(recipient string) string {
	return fmt.Sprintf("pending:%s", recipient)
}

// Enqueue appends evt to the recipient's backlog, trimming the oldest entries
// past MaxLen.
func (q *PendingQueue) Enqueue(ctx context.Context, recipient string, evt event.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	key := pendingKey(recipient)
	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	if q.config.MaxLen > 0 {
		pipe.LTrim(ctx, key, -q.config.MaxLen, -1)
	}
	pipe.Expire(ctx, key, q.config.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue pending event: %w", err)
	}
	return nil
}

// Drain atomically reads and deletes the backlog. An empty or missing backlog
// returns an empty slice. Entries that fail to decode are counted and
// reported through ErrCorruptPending alongside the events that did decode.
func (q *PendingQueue) Drain(ctx context.Context, recipient string) ([]event.Event, error) {
	key := pendingKey(recipient)

	pipe := q.client.TxPipeline()
	rangeCmd := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && err != goredis.Nil {
		return nil, fmt.Errorf("drain pending events: %w", err)
	}

	raw := rangeCmd.Val()
	out := make([]event.Event, 0, len(raw))
	var corrupt int
	for _, item := range raw {
		var evt event.Event
		if err := json.Unmarshal([]byte(item), &evt); err != nil {
			corrupt++
			continue
		}
		out = append(out, evt)
	}
	if corrupt > 0 {
		metrics.PendingCorrupt.Add(float64(corrupt))
		return out, fmt.Errorf("%w: %d of %d entries for %s", ErrCorruptPending, corrupt, len(raw), recipient)
	}
	return out, nil
}

// Len returns the backlog size.
func (q *PendingQueue) Len(ctx context.Context, recipient string) (int64, error) {
	return q.client.LLen(ctx, pendingKey(recipient)).Result()
}
