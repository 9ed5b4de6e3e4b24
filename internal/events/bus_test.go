package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"market-booking/internal/domain/event"
	"market-booking/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func targetBoth() event.Target {
	return event.Target{
		MerchantID: uuid.NullUUID{UUID: uuid.New(), Valid: true},
		UserID:     uuid.NullUUID{UUID: uuid.New(), Valid: true},
	}
}

func TestLocalBus_DispatchesInOrder(t *testing.T) {
	bus := NewLocalBus()
	var got []int64
	bus.Subscribe(func(ctx context.Context, evt event.Event) { got = append(got, evt.ID) })

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, bus.Publish(context.Background(), event.Event{ID: i}))
	}
	assert.Equal(t, []int64{1, 2, 3}, got)
}

func TestAtomicSequencer_IsMonotonic(t *testing.T) {
	seq := NewAtomicSequencer()
	var wg sync.WaitGroup
	ids := make(chan int64, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _ := seq.Next(context.Background())
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, 100)
}

func TestTargetChannelResolver(t *testing.T) {
	target := targetBoth()
	channels := NewTargetChannelResolver().ResolveChannels(event.Event{Target: target})
	assert.Equal(t, []string{
		"channel:merchant:" + target.MerchantID.UUID.String(),
		"channel:user:" + target.UserID.UUID.String(),
	}, channels)

	assert.Empty(t, NewTargetChannelResolver().ResolveChannels(event.Event{}))
}

func TestRedisEventBus_DeliversOncePerEvent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	bus := NewRedisEventBus(client, NewTargetChannelResolver(), logger.NewNop())
	received := make(chan event.Event, 10)
	bus.Subscribe(func(ctx context.Context, evt event.Event) { received <- evt })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Serve(ctx)

	select {
	case <-bus.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("bus did not subscribe")
	}

	require.NoError(t, bus.Publish(ctx, event.Event{ID: 7, Type: event.TypeCreated, Target: targetBoth()}))
	require.NoError(t, bus.Publish(ctx, event.Event{ID: 8, Type: event.TypeConfirmed, Target: targetBoth()}))

	var ids []int64
	timeout := time.After(2 * time.Second)
	for len(ids) < 2 {
		select {
		case evt := <-received:
			ids = append(ids, evt.ID)
		case <-timeout:
			t.Fatalf("received only %v", ids)
		}
	}
	assert.Equal(t, []int64{7, 8}, ids)

	select {
	case evt := <-received:
		t.Fatalf("duplicate dispatch of event %d", evt.ID)
	case <-time.After(100 * time.Millisecond):
	}
}
