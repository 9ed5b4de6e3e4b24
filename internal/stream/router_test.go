package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"market-booking/internal/domain/event"
	"market-booking/internal/domain/identity"
	"market-booking/internal/domain/reservation"
	bookingredis "market-booking/internal/redis"
	"market-booking/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordWriter struct {
	mu     sync.Mutex
	frames []Frame
}

func (w *recordWriter) WriteFrame(f Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = append(w.frames, f)
	return nil
}

func (w *recordWriter) Close() error { return nil }

func (w *recordWriter) events() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.frames))
	for i, f := range w.frames {
		out[i] = f.Event + "#" + f.ID
	}
	return out
}

func (w *recordWriter) waitFor(t *testing.T, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(w.events()) >= n }, 2*time.Second, 5*time.Millisecond)
	return w.events()
}

func setupRouter(t *testing.T) (*Router, *Registry, *bookingredis.PendingQueue) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	pending := bookingredis.NewPendingQueue(client, bookingredis.DefaultPendingConfig())
	registry := NewRegistry(logger.NewNop())
	return NewRouter(registry, pending, logger.NewNop()), registry, pending
}

func customer() identity.Identity {
	return identity.Identity{UserID: uuid.New(), Role: identity.RoleCustomer}
}

func merchantStaff(merchantID uuid.UUID) identity.Identity {
	return identity.Identity{
		UserID:     uuid.New(),
		MerchantID: uuid.NullUUID{UUID: merchantID, Valid: true},
		Role:       identity.RoleMerchant,
	}
}

func admin() identity.Identity {
	return identity.Identity{UserID: uuid.New(), Role: identity.RoleAdmin}
}

func newEvent(id int64, typ event.Type, merchantID uuid.UUID, userID uuid.UUID) event.Event {
	return event.Event{
		ID:   id,
		Type: typ,
		Target: event.Target{
			MerchantID: uuid.NullUUID{UUID: merchantID, Valid: merchantID != uuid.Nil},
			UserID:     uuid.NullUUID{UUID: userID, Valid: userID != uuid.Nil},
		},
		Payload:    event.Payload{Reservation: reservation.Reservation{ID: uuid.New(), Status: reservation.Status(typ)}},
		OccurredAt: time.Now().UTC(),
	}
}

// open starts a pumped connection and attaches it.
func open(t *testing.T, router *Router, id identity.Identity, lastEventID int64) (*Conn, *recordWriter) {
	t.Helper()
	w := &recordWriter{}
	conn := NewConn(id, w, 16)
	go conn.WritePump()
	t.Cleanup(conn.Close)
	require.NoError(t, router.Attach(context.Background(), conn, lastEventID))
	return conn, w
}

func TestRouter_BacklogPrecedesLiveEvents(t *testing.T) {
	router, _, _ := setupRouter(t)
	ctx := context.Background()
	user := customer()
	merchantID := uuid.New()

	router.Deliver(ctx, newEvent(1, event.TypeConfirmed, merchantID, user.UserID))
	router.Deliver(ctx, newEvent(2, event.TypeCancelled, merchantID, user.UserID))

	_, w := open(t, router, user, 0)
	router.Deliver(ctx, newEvent(3, event.TypeCreated, merchantID, user.UserID))

	got := w.waitFor(t, 4)
	assert.Equal(t, []string{
		"connected#",
		"reservation.confirmed#1",
		"reservation.cancelled#2",
		"reservation.created#3",
	}, got)
}

func TestRouter_OfflineEventDeliveredExactlyOnce(t *testing.T) {
	router, _, pending := setupRouter(t)
	ctx := context.Background()
	user := customer()

	router.Deliver(ctx, newEvent(10, event.TypeConfirmed, uuid.New(), user.UserID))

	conn, w := open(t, router, user, 0)
	assert.Equal(t, []string{"connected#", "reservation.confirmed#10"}, w.waitFor(t, 2))

	n, err := pending.Len(ctx, event.UserKey(user.UserID))
	require.NoError(t, err)
	assert.Zero(t, n)

	router.Detach(conn)
	_, w2 := open(t, router, user, 0)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"connected#"}, w2.waitFor(t, 1))
}

func TestRouter_SkipsEventsAtOrBelowLastEventID(t *testing.T) {
	router, _, _ := setupRouter(t)
	ctx := context.Background()
	user := customer()
	for i := int64(1); i <= 3; i++ {
		router.Deliver(ctx, newEvent(i, event.TypeConfirmed, uuid.Nil, user.UserID))
	}

	_, w := open(t, router, user, 2)
	assert.Equal(t, []string{"connected#", "reservation.confirmed#3"}, w.waitFor(t, 2))
}

func TestRouter_MerchantStaffReceivesOnceForOwnBooking(t *testing.T) {
	router, _, _ := setupRouter(t)
	ctx := context.Background()
	merchantID := uuid.New()
	staff := merchantStaff(merchantID)

	// A staff member booking at their own merchant owns both target keys.
	router.Deliver(ctx, newEvent(5, event.TypeCreated, merchantID, staff.UserID))
	_, w := open(t, router, staff, 0)
	router.Deliver(ctx, newEvent(6, event.TypeConfirmed, merchantID, staff.UserID))

	got := w.waitFor(t, 3)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"connected#", "reservation.created#5", "reservation.confirmed#6"}, w.events())
	assert.Len(t, got, 3)
}

func TestRouter_AdminObservesWithoutAbsorbingPending(t *testing.T) {
	router, _, pending := setupRouter(t)
	ctx := context.Background()
	merchantID := uuid.New()

	_, adminW := open(t, router, admin(), 0)
	router.Deliver(ctx, newEvent(7, event.TypeCreated, merchantID, uuid.Nil))

	assert.Equal(t, []string{"connected#", "reservation.created#7"}, adminW.waitFor(t, 2))

	n, err := pending.Len(ctx, event.MerchantKey(merchantID))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, staffW := open(t, router, merchantStaff(merchantID), 0)
	assert.Equal(t, []string{"connected#", "reservation.created#7"}, staffW.waitFor(t, 2))
}

func TestRouter_SlowConnectionFallsBackToPending(t *testing.T) {
	router, registry, pending := setupRouter(t)
	ctx := context.Background()
	user := customer()

	// No pump: the buffer fills and is never drained.
	conn := NewConn(user, &recordWriter{}, 1)
	registry.Register(conn)

	router.Deliver(ctx, newEvent(1, event.TypeConfirmed, uuid.Nil, user.UserID))
	router.Deliver(ctx, newEvent(2, event.TypeCompleted, uuid.Nil, user.UserID))

	_, ok := registry.Get(conn.ID())
	assert.False(t, ok)
	n, err := pending.Len(ctx, event.UserKey(user.UserID))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRegistry_LookupAndStats(t *testing.T) {
	registry := NewRegistry(logger.NewNop())
	merchantID := uuid.New()
	user := customer()

	c1 := NewConn(user, &recordWriter{}, 1)
	c2 := NewConn(merchantStaff(merchantID), &recordWriter{}, 1)
	c3 := NewConn(admin(), &recordWriter{}, 1)
	for _, c := range []*Conn{c1, c2, c3} {
		registry.Register(c)
	}

	target := event.Target{
		MerchantID: uuid.NullUUID{UUID: merchantID, Valid: true},
		UserID:     uuid.NullUUID{UUID: user.UserID, Valid: true},
	}
	assert.Len(t, registry.Lookup(target), 3)
	assert.Len(t, registry.Lookup(event.Target{UserID: target.UserID}), 1)

	assert.Equal(t, map[identity.Role]int{
		identity.RoleCustomer: 1,
		identity.RoleMerchant: 1,
		identity.RoleAdmin:    1,
	}, registry.Stats())

	assert.True(t, registry.Unregister(c1.ID()))
	assert.False(t, registry.Unregister(c1.ID()))
	assert.Equal(t, 2, registry.Count())

	select {
	case <-c1.Done():
	default:
		t.Fatal("unregistered connection was not closed")
	}
}

func TestHeartbeat_EvictsIdleConnections(t *testing.T) {
	registry := NewRegistry(logger.NewNop())
	hb := NewHeartbeat(registry, 30*time.Second, 60*time.Second, logger.NewNop())

	fresh := NewConn(customer(), &recordWriter{}, 4)
	stale := NewConn(customer(), &recordWriter{}, 4)
	registry.Register(fresh)
	registry.Register(stale)

	now := time.Now().Add(61 * time.Second)
	fresh.lastActivity.Store(now.Add(-time.Second).UnixNano())

	assert.Equal(t, 1, hb.Sweep(now))
	_, ok := registry.Get(fresh.ID())
	assert.True(t, ok)
	_, ok = registry.Get(stale.ID())
	assert.False(t, ok)

	f := <-fresh.send
	assert.Equal(t, EventPing, f.Event)
}

func TestReplayOrder(t *testing.T) {
	evts := []event.Event{{ID: 4}, {ID: 2}, {ID: 4}, {ID: 1}, {ID: 3}}
	out := replayOrder(evts, 1)

	ids := make([]int64, len(out))
	for i, e := range out {
		ids[i] = e.ID
	}
	assert.Equal(t, []int64{2, 3, 4}, ids)
}

func TestServeWS_SendsConnectedThenEvents(t *testing.T) {
	router, _, _ := setupRouter(t)
	user := customer()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	router.Deliver(context.Background(), newEvent(1, event.TypeConfirmed, uuid.Nil, user.UserID))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		router.ServeWS(ws, r, user, 0, 16)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() Frame {
		var f Frame
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		require.NoError(t, conn.ReadJSON(&f))
		return f
	}

	assert.Equal(t, EventConnected, read().Event)
	f := read()
	assert.Equal(t, "reservation.confirmed", f.Event)
	assert.Equal(t, "1", f.ID)

	router.Deliver(context.Background(), newEvent(2, event.TypeCompleted, uuid.Nil, user.UserID))
	f = read()
	assert.Equal(t, "reservation.completed", f.Event)
	assert.Equal(t, "2", f.ID)
}

func TestServeSSE_WritesEventStream(t *testing.T) {
	router, registry, _ := setupRouter(t)
	user := customer()
	router.Deliver(context.Background(), newEvent(9, event.TypeConfirmed, uuid.Nil, user.UserID))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		router.ServeSSE(w, r, user, 0, 16)
	}))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return registry.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	buf := make([]byte, 4096)
	var body strings.Builder
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !strings.Contains(body.String(), "id:9") {
		n, err := resp.Body.Read(buf)
		body.Write(buf[:n])
		if err != nil {
			break
		}
	}
	out := body.String()
	assert.Contains(t, out, "event:connected")
	assert.Contains(t, out, "event:reservation.confirmed")
	assert.Contains(t, out, "id:9")
	assert.Less(t, strings.Index(out, "event:connected"), strings.Index(out, "id:9"))
}

// cluster builds two nodes sharing one Redis, as with the Redis event bus where
// every node sees every event.
func cluster(t *testing.T) (nodeA, nodeB *Router, pending *bookingredis.PendingQueue) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	pending = bookingredis.NewPendingQueue(client, bookingredis.DefaultPendingConfig())
	node := func() *Router {
		registry := NewRegistry(logger.NewNop())
		registry.TrackPresence(bookingredis.NewPresenceStore(client, time.Minute))
		return NewRouter(registry, pending, logger.NewNop())
	}
	return node(), node(), pending
}

func TestRouter_RemoteOwnerSuppressesPending(t *testing.T) {
	nodeA, nodeB, pending := cluster(t)
	ctx := context.Background()
	user := customer()

	conn, w := open(t, nodeA, user, 0)
	evt := newEvent(7, event.TypeConfirmed, uuid.Nil, user.UserID)
	nodeA.Deliver(ctx, evt)
	nodeB.Deliver(ctx, evt)

	assert.Equal(t, []string{"connected#", "reservation.confirmed#7"}, w.waitFor(t, 2))
	n, err := pending.Len(ctx, event.UserKey(user.UserID))
	require.NoError(t, err)
	assert.Zero(t, n)

	nodeA.Detach(conn)
	_, w2 := open(t, nodeB, user, 0)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"connected#"}, w2.waitFor(t, 1))
}

func TestRouter_QueuesOnceOwnerLeavesCluster(t *testing.T) {
	nodeA, nodeB, pending := cluster(t)
	ctx := context.Background()
	user := customer()

	conn, _ := open(t, nodeA, user, 0)
	nodeA.Detach(conn)

	evt := newEvent(8, event.TypeCompleted, uuid.Nil, user.UserID)
	nodeA.Deliver(ctx, evt)
	nodeB.Deliver(ctx, evt)

	// Both nodes queue; replay collapses the duplicate.
	n, err := pending.Len(ctx, event.UserKey(user.UserID))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, w := open(t, nodeB, user, 0)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"connected#", "reservation.completed#8"}, w.waitFor(t, 2))
}

type ackWriter struct {
	recordWriter
}

func (w *ackWriter) peerAcknowledges() bool { return true }

func TestConn_WritesDoNotKeepAcknowledgingPeerAlive(t *testing.T) {
	registry := NewRegistry(logger.NewNop())
	hb := NewHeartbeat(registry, 30*time.Second, 60*time.Second, logger.NewNop())

	silent := NewConn(customer(), &ackWriter{}, 4)
	oneWay := NewConn(customer(), &recordWriter{}, 4)
	for _, c := range []*Conn{silent, oneWay} {
		registry.Register(c)
		go c.WritePump()
		t.Cleanup(c.Close)
	}

	past := time.Now().Add(-2 * time.Minute).UnixNano()
	silent.lastActivity.Store(past)
	oneWay.lastActivity.Store(past)
	require.True(t, silent.Enqueue(PingFrame(time.Now())))
	require.True(t, oneWay.Enqueue(PingFrame(time.Now())))
	require.Eventually(t, func() bool {
		return time.Since(oneWay.LastActivity()) < time.Minute
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, hb.Sweep(time.Now()))
	_, ok := registry.Get(silent.ID())
	assert.False(t, ok, "a peer that never answers is evicted")
	_, ok = registry.Get(oneWay.ID())
	assert.True(t, ok)
}

type brokenPending struct {
	PendingStore
	evts []event.Event
}

func (b *brokenPending) Drain(ctx context.Context, recipient string) ([]event.Event, error) {
	return b.evts, bookingredis.ErrCorruptPending
}

func TestRouter_ReplaysReadablePartOfBacklog(t *testing.T) {
	_, registry, pending := setupRouter(t)
	user := customer()
	router := NewRouter(registry, &brokenPending{
		PendingStore: pending,
		evts:         []event.Event{newEvent(4, event.TypeConfirmed, uuid.Nil, user.UserID)},
	}, logger.NewNop())

	_, w := open(t, router, user, 0)
	assert.Equal(t, []string{"connected#", "reservation.confirmed#4"}, w.waitFor(t, 2))
}
