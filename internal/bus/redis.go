package bus

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-governance/internal/domain"
)

// RedisForwarder публикует события шины в канал Redis
type RedisForwarder struct {
	rdb     *redis.Client
	channel string
}

func NewRedisForwarder(rdb *redis.Client, channel string) *RedisForwarder {
	return &RedisForwarder{rdb: rdb, channel: channel}
}

func (f *RedisForwarder) Forward(ctx context.Context, ev domain.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return f.rdb.Publish(ctx, f.channel, raw).Err()
}
