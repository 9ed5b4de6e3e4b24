package events

import (
	"context"
	"fmt"
	"sync"

	"market-booking/internal/domain/event"
	"market-booking/pkg/logger"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const seenWindow = 4096

// RedisEventBus implements Bus using Redis Pub/Sub so every node receives
// every event. An event that targets both a merchant and a user arrives on two
// channels and is dispatched once.
type RedisEventBus struct {
	client   *redis.Client
	resolver ChannelResolver
	logger   *logger.Logger

	mu       sync.RWMutex
	handlers []Handler

	ready     chan struct{}
	readyOnce sync.Once

	seen      map[int64]struct{}
	seenOrder []int64
}

func NewRedisEventBus(client *redis.Client, resolver ChannelResolver, l *logger.Logger) *RedisEventBus {
	return &RedisEventBus{
		client:   client,
		resolver: resolver,
		logger:   l,
		ready:    make(chan struct{}),
		seen:     make(map[int64]struct{}),
	}
}

func (b *RedisEventBus) Publish(ctx context.Context, evt event.Event) error {
	channels := b.resolver.ResolveChannels(evt)
	if len(channels) == 0 {
		return nil
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var firstErr error
	for _, channel := range channels {
		if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
			b.logger.Logger.Error("failed to publish event",
				zap.String("channel", channel), zap.Int64("event_id", evt.ID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (b *RedisEventBus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Ready is closed once the pattern subscription is confirmed.
func (b *RedisEventBus) Ready() <-chan struct{} {
	return b.ready
}

// Serve listens until ctx is cancelled. It is meant to run under a supervisor,
// which restarts it when the connection drops.
func (b *RedisEventBus) Serve(ctx context.Context) error {
	pubsub := b.client.PSubscribe(ctx, "channel:*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to event channels: %w", err)
	}
	b.readyOnce.Do(func() { close(b.ready) })

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("event subscription closed")
			}
			var evt event.Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				b.logger.Logger.Warn("dropping malformed event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if b.markSeen(evt.ID) {
				continue
			}
			b.dispatch(ctx, evt)
		}
	}
}

// markSeen records id and reports whether it was already dispatched.
func (b *RedisEventBus) markSeen(id int64) bool {
	if _, ok := b.seen[id]; ok {
		return true
	}
	b.seen[id] = struct{}{}
	b.seenOrder = append(b.seenOrder, id)
	if len(b.seenOrder) > seenWindow {
		delete(b.seen, b.seenOrder[0])
		b.seenOrder = b.seenOrder[1:]
	}
	return false
}

func (b *RedisEventBus) dispatch(ctx context.Context, evt event.Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, evt)
	}
}

func (b *RedisEventBus) String() string {
	return "redis-event-bus"
}
