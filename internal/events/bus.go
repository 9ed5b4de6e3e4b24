package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"market-booking/internal/domain/event"
)

// Handler consumes published events. Handlers must not block for long: they
// run on the bus's dispatch path.
type Handler func(ctx context.Context, evt event.Event)

// Bus routes reservation events to subscribers.
type Bus interface {
	Publish(ctx context.Context, evt event.Event) error
	Subscribe(h Handler)
}

// Sequencer issues monotonically increasing event ids.
type Sequencer interface {
	Next(ctx context.Context) (int64, error)
}

// AtomicSequencer is a process-local Sequencer. It starts from the current
// time in microseconds so ids keep increasing across restarts.
type AtomicSequencer struct {
	n atomic.Int64
}

func NewAtomicSequencer() *AtomicSequencer {
	s := &AtomicSequencer{}
	s.n.Store(time.Now().UnixMicro())
	return s
}

func (s *AtomicSequencer) Next(ctx context.Context) (int64, error) {
	return s.n.Add(1), nil
}

// LocalBus dispatches in-process, synchronously and in publish order.
type LocalBus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

func (b *LocalBus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

func (b *LocalBus) Publish(ctx context.Context, evt event.Event) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, evt)
	}
	return nil
}
