package stream

import (
	"context"
	"time"

	"market-booking/internal/metrics"
	"market-booking/pkg/logger"

	"go.uber.org/zap"
)

// Heartbeat pings every connection on an interval and evicts the ones that
// have been silent for longer than the timeout.
type Heartbeat struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
	logger   *logger.Logger
}

func NewHeartbeat(registry *Registry, interval, timeout time.Duration, l *logger.Logger) *Heartbeat {
	return &Heartbeat{
		registry: registry,
		interval: interval,
		timeout:  timeout,
		logger:   l,
	}
}

func (h *Heartbeat) Serve(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			h.Sweep(now)
		}
	}
}

// Sweep runs one heartbeat round and returns the number of evicted connections.
func (h *Heartbeat) Sweep(now time.Time) int {
	evicted := 0
	for _, c := range h.registry.All() {
		idle := now.Sub(c.LastActivity())
		if idle > h.timeout || !c.Enqueue(PingFrame(now)) {
			if h.registry.Unregister(c.ID()) {
				evicted++
				metrics.HeartbeatEvictions.Inc()
				h.logger.Logger.Info("evicted idle stream connection",
					zap.String("connection_id", c.ID()), zap.Duration("idle", idle))
			}
			continue
		}
		h.registry.RefreshPresence(c)
	}
	return evicted
}

func (h *Heartbeat) String() string {
	return "stream-heartbeat"
}
