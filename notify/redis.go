package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/warp/funds-engine/ledger"
)

// DefaultRedisChannel is the pub/sub channel notifications go to.
const DefaultRedisChannel = "funds.notifications"

// Publisher is the slice of the go-redis client this adapter needs.
// *redis.Client, *redis.ClusterClient and redis.UniversalClient satisfy it.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Redis publishes notifications on a pub/sub channel.
type Redis struct {
	client  Publisher
	channel string
}

func NewRedis(client Publisher, channel string) *Redis {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &Redis{client: client, channel: channel}
}

// NewRedisClient builds a client from a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (r *Redis) Notify(ctx context.Context, n ledger.Notification) error {
	_, payload, err := encode(n)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

var _ ledger.Notifier = (*Redis)(nil)
