package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Presence key pattern:
// - presence:{recipient} - sorted set of connection ids owning the recipient key on
//   any node, scored by expiry in unix milliseconds

// PresenceStore tracks which recipient keys have a live connection somewhere in
// the cluster. Entries expire unless refreshed, so a crashed node stops
// claiming its recipients after one TTL.
type PresenceStore struct {
	client *goredis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewPresenceStore(client *goredis.Client, ttl time.Duration) *PresenceStore {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &PresenceStore{client: client, ttl: ttl, now: time.Now}
}

func presenceKey(recipient string) string {
	return fmt.Sprintf("presence:%s", recipient)
}

// Online marks the connection as live for each recipient. Calling it again
// extends the expiry.
func (p *PresenceStore) Online(ctx context.Context, recipients []string, connectionID string) error {
	expiry := float64(p.now().Add(p.ttl).UnixMilli())

	pipe := p.client.Pipeline()
	for _, r := range recipients {
		key := presenceKey(r)
		pipe.ZAdd(ctx, key, goredis.Z{Score: expiry, Member: connectionID})
		pipe.Expire(ctx, key, p.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark connection online: %w", err)
	}
	return nil
}

func (p *PresenceStore) Offline(ctx context.Context, recipients []string, connectionID string) error {
	pipe := p.client.Pipeline()
	for _, r := range recipients {
		pipe.ZRem(ctx, presenceKey(r), connectionID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark connection offline: %w", err)
	}
	return nil
}

// IsOnline reports whether any unexpired connection owns the recipient.
func (p *PresenceStore) IsOnline(ctx context.Context, recipient string) (bool, error) {
	key := presenceKey(recipient)
	now := strconv.FormatInt(p.now().UnixMilli(), 10)

	pipe := p.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", now)
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("check presence: %w", err)
	}
	return card.Val() > 0, nil
}
