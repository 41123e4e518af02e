package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is used when no channel is configured.
const DefaultChannel = "jaskledger:events"

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Redis publishes each notification as a JSON Event on a pub/sub channel.
type Redis struct {
	client  publisher
	channel string
	now     func() time.Time
}

func NewRedis(client *redis.Client, channel string) *Redis {
	return newRedis(client, channel)
}

func newRedis(client publisher, channel string) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{client: client, channel: channel, now: func() time.Time { return time.Now().UTC() }}
}

func (r *Redis) Notify(ctx context.Context, ownerID, kind string, payload map[string]any) error {
	msg, err := json.Marshal(Event{Kind: kind, OwnerID: ownerID, At: r.now(), Payload: payload})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", kind, err)
	}
	if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", kind, r.channel, err)
	}
	return nil
}

// Dial connects to Redis at addr and checks the connection.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return client, nil
}
