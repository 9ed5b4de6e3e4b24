package stream

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"

	"market-booking/internal/domain/event"
	"market-booking/internal/metrics"
	"market-booking/pkg/logger"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

const lockStripes = 64

// PendingStore holds events for recipients with no live connection. Drain may
// return events together with an error when part of the backlog was unreadable.
type PendingStore interface {
	Enqueue(ctx context.Context, recipient string, evt event.Event) error
	Drain(ctx context.Context, recipient string) ([]event.Event, error)
}

// keyLocks serializes work per recipient key. Keys hash onto a fixed set of
// stripes which are always taken in ascending order.
type keyLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (k *keyLocks) lock(keys []string) func() {
	idx := make([]int, 0, len(keys))
	seen := make(map[int]bool, len(keys))
	for _, key := range keys {
		h := fnv.New32a()
		h.Write([]byte(key))
		i := int(h.Sum32() % lockStripes)
		if !seen[i] {
			seen[i] = true
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)
	for _, i := range idx {
		k.stripes[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			k.stripes[idx[j]].Unlock()
		}
	}
}

// Router delivers bus events to live connections and falls back to the
// pending queue. Opening a connection drains its backlog under the same
// per-key lock, so backlog frames always precede live ones.
type Router struct {
	registry *Registry
	pending  PendingStore
	logger   *logger.Logger
	locks    keyLocks
}

func NewRouter(registry *Registry, pending PendingStore, l *logger.Logger) *Router {
	return &Router{
		registry: registry,
		pending:  pending,
		logger:   l,
	}
}

// Handle adapts Deliver to the bus handler signature.
func (r *Router) Handle(ctx context.Context, evt event.Event) {
	r.Deliver(ctx, evt)
}

// Deliver pushes evt to every matching connection. A recipient key with no
// owning connection that accepted the frame gets the event queued instead,
// unless a connection on another node owns it.
func (r *Router) Deliver(ctx context.Context, evt event.Event) {
	keys := evt.Target.Keys()
	if len(keys) == 0 {
		return
	}
	unlock := r.locks.lock(keys)
	defer unlock()

	frame := EventFrame(evt)
	sent := make(map[string]bool)
	push := func(c *Conn) bool {
		if sent[c.ID()] {
			return true
		}
		if !c.Enqueue(frame) {
			r.logger.Logger.Warn("dropping slow stream connection",
				zap.String("connection_id", c.ID()), zap.Int64("event_id", evt.ID))
			r.registry.Unregister(c.ID())
			return false
		}
		sent[c.ID()] = true
		metrics.RecordDelivery(metrics.OutcomeLive)
		return true
	}

	for _, key := range keys {
		delivered := false
		for _, c := range r.registry.Owners(key) {
			if push(c) {
				delivered = true
			}
		}
		if delivered {
			continue
		}
		// Another node with a live owner delivers it from its own bus subscription.
		remote, err := r.registry.RemoteOnline(ctx, key)
		if err != nil {
			r.logger.Logger.Warn("presence check failed, queueing event",
				zap.String("recipient", key), zap.Int64("event_id", evt.ID), zap.Error(err))
		}
		if remote {
			metrics.RecordDelivery(metrics.OutcomeRemote)
			continue
		}
		if err := r.pending.Enqueue(ctx, key, evt); err != nil {
			metrics.RecordDelivery(metrics.OutcomeDropped)
			r.logger.Logger.Error("failed to queue pending event",
				zap.String("recipient", key), zap.Int64("event_id", evt.ID), zap.Error(err))
			continue
		}
		metrics.RecordDelivery(metrics.OutcomePending)
	}

	if evt.Target.MerchantID.Valid {
		for _, c := range r.registry.Admins() {
			push(c)
		}
	}
}

// Attach registers conn and replays its backlog. The first frame is the
// connected acknowledgment; backlog events follow in id order, skipping ids at
// or below lastEventID. conn's write pump must already be running.
func (r *Router) Attach(ctx context.Context, conn *Conn, lastEventID int64) error {
	keys := conn.Identity().Keys()
	unlock := r.locks.lock(keys)
	defer unlock()

	r.registry.Register(conn)
	if err := conn.EnqueueWait(ctx, ConnectedFrame(conn.ID())); err != nil {
		r.registry.Unregister(conn.ID())
		return errors.Wrap(err, "send connected frame")
	}

	var backlog []event.Event
	for _, key := range keys {
		// Drain may return the decodable part of a backlog together with an error.
		evts, err := r.pending.Drain(ctx, key)
		if err != nil {
			r.logger.Logger.Error("pending backlog not fully drained",
				zap.String("recipient", key), zap.Int("recovered", len(evts)), zap.Error(err))
		}
		backlog = append(backlog, evts...)
	}
	backlog = replayOrder(backlog, lastEventID)

	for i, evt := range backlog {
		if err := conn.EnqueueWait(ctx, EventFrame(evt)); err != nil {
			r.requeue(keys, backlog[i:])
			r.registry.Unregister(conn.ID())
			return errors.Wrap(err, "replay pending events")
		}
		metrics.PendingDrained.Inc()
	}

	if len(backlog) > 0 {
		r.logger.Logger.Info("replayed pending events",
			zap.String("connection_id", conn.ID()), zap.Int("count", len(backlog)))
	}
	return nil
}

// Detach unregisters and closes conn.
func (r *Router) Detach(conn *Conn) {
	r.registry.Unregister(conn.ID())
}

// requeue puts undelivered backlog back for the keys it was drained from.
// Callers hold the key locks.
func (r *Router) requeue(keys []string, evts []event.Event) {
	ctx := context.Background()
	owned := make(map[string]bool, len(keys))
	for _, k := range keys {
		owned[k] = true
	}
	for _, evt := range evts {
		for _, key := range evt.Target.Keys() {
			if !owned[key] {
				continue
			}
			if err := r.pending.Enqueue(ctx, key, evt); err != nil {
				r.logger.Logger.Error("failed to requeue pending event",
					zap.String("recipient", key), zap.Int64("event_id", evt.ID), zap.Error(err))
			}
		}
	}
}

// replayOrder sorts by id, removes duplicates (an event can be queued under a
// user key and a merchant key owned by the same identity) and skips ids the
// client has already seen.
func replayOrder(evts []event.Event, lastEventID int64) []event.Event {
	sort.SliceStable(evts, func(i, j int) bool { return evts[i].ID < evts[j].ID })
	out := evts[:0]
	for _, evt := range evts {
		if evt.ID <= lastEventID {
			continue
		}
		if len(out) > 0 && out[len(out)-1].ID == evt.ID {
			continue
		}
		out = append(out, evt)
	}
	return out
}
