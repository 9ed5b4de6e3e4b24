package redis

import (
	"context"

	goredis "github.com/redis/go-redis/v9"
)

const eventSequenceKey = "sequence:events"

// Sequence hands out event ids shared by every node using the same Redis.
type Sequence struct {
	client *goredis.Client
	key    string
}

func NewSequence(client *goredis.Client) *Sequence {
	return &Sequence{client: client, key: eventSequenceKey}
}

func (s *Sequence) Next(ctx context.Context) (int64, error) {
	return s.client.Incr(ctx, s.key).Result()
}
