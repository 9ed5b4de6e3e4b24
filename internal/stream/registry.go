package stream

import (
	"context"
	"sync"
	"time"

	"market-booking/internal/domain/event"
	"market-booking/internal/domain/identity"
	"market-booking/internal/metrics"
	"market-booking/pkg/logger"

	"go.uber.org/zap"
)

const presenceTimeout = 2 * time.Second

// Presence publishes which recipient keys have a live connection on some node.
// Without it the registry only knows about local connections.
type Presence interface {
	Online(ctx context.Context, recipients []string, connectionID string) error
	Offline(ctx context.Context, recipients []string, connectionID string) error
	IsOnline(ctx context.Context, recipient string) (bool, error)
}

// Registry tracks the live connections of this node.
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]*Conn
	byKey    map[string]map[string]*Conn
	admins   map[string]*Conn
	presence Presence
	logger   *logger.Logger
}

func NewRegistry(l *logger.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]*Conn),
		byKey:  make(map[string]map[string]*Conn),
		admins: make(map[string]*Conn),
		logger: l,
	}
}

// TrackPresence shares this node's connections through p. Call before serving.
func (r *Registry) TrackPresence(p Presence) {
	r.presence = p
}

// RemoteOnline reports whether a connection on another node owns key. It is
// false when presence is not tracked.
func (r *Registry) RemoteOnline(ctx context.Context, key string) (bool, error) {
	if r.presence == nil {
		return false, nil
	}
	return r.presence.IsOnline(ctx, key)
}

// RefreshPresence extends the presence entries of c.
func (r *Registry) RefreshPresence(c *Conn) {
	r.announce(c, true)
}

func (r *Registry) announce(c *Conn, online bool) {
	if r.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()

	var err error
	if online {
		err = r.presence.Online(ctx, c.Identity().Keys(), c.ID())
	} else {
		err = r.presence.Offline(ctx, c.Identity().Keys(), c.ID())
	}
	if err != nil {
		r.logger.Logger.Warn("failed to update stream presence",
			zap.String("connection_id", c.ID()), zap.Bool("online", online), zap.Error(err))
	}
}

func (r *Registry) Register(c *Conn) {
	r.mu.Lock()
	r.conns[c.ID()] = c
	for _, key := range c.Identity().Keys() {
		if r.byKey[key] == nil {
			r.byKey[key] = make(map[string]*Conn)
		}
		r.byKey[key][c.ID()] = c
	}
	if c.Identity().IsAdmin() {
		r.admins[c.ID()] = c
	}
	r.mu.Unlock()

	metrics.StreamConnections.WithLabelValues(string(c.Identity().Role)).Inc()
	r.announce(c, true)

	r.logger.Logger.Info("stream connection registered",
		zap.String("connection_id", c.ID()),
		zap.String("user_id", c.Identity().UserID.String()),
		zap.String("role", string(c.Identity().Role)))
}

// Unregister removes and closes the connection. It reports whether the id was
// registered.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
		for _, key := range c.Identity().Keys() {
			if set := r.byKey[key]; set != nil {
				delete(set, id)
				if len(set) == 0 {
					delete(r.byKey, key)
				}
			}
		}
		delete(r.admins, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	c.Close()
	r.announce(c, false)
	metrics.StreamConnections.WithLabelValues(string(c.Identity().Role)).Dec()
	r.logger.Logger.Info("stream connection unregistered",
		zap.String("connection_id", id),
		zap.String("user_id", c.Identity().UserID.String()))
	return true
}

func (r *Registry) Get(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Owners returns the connections that own the recipient key.
func (r *Registry) Owners(key string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return collect(r.byKey[key])
}

func (r *Registry) Admins() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return collect(r.admins)
}

// Lookup resolves a target to its live connections without duplicates.
// Merchant targets also reach every admin.
func (r *Registry) Lookup(target event.Target) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []*Conn
	add := func(set map[string]*Conn) {
		for id, c := range set {
			if !seen[id] {
				seen[id] = true
				out = append(out, c)
			}
		}
	}
	for _, key := range target.Keys() {
		add(r.byKey[key])
	}
	if target.MerchantID.Valid {
		add(r.admins)
	}
	return out
}

func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return collect(r.conns)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Stats counts connections by role.
func (r *Registry) Stats() map[identity.Role]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := map[identity.Role]int{
		identity.RoleCustomer: 0,
		identity.RoleMerchant: 0,
		identity.RoleAdmin:    0,
	}
	for _, c := range r.conns {
		stats[c.Identity().Role]++
	}
	return stats
}

// CloseAll unregisters every connection. Used on shutdown.
func (r *Registry) CloseAll() {
	for _, c := range r.All() {
		r.Unregister(c.ID())
	}
}

func collect(set map[string]*Conn) []*Conn {
	out := make([]*Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}
