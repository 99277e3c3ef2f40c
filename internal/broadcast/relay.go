package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRelayChannel is the pub/sub channel shared by all instances.
const DefaultRelayChannel = "lingua:broadcast"

type relayMessage struct {
	Origin   string   `json:"origin"`
	Exclude  string   `json:"exclude,omitempty"`
	Envelope Envelope `json:"envelope"`
}

// RedisRelay forwards room broadcasts through Redis pub/sub so rooms span
// several server instances.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	origin  string
}

// NewRedisRelay connects to Redis and verifies connectivity.
func NewRedisRelay(ctx context.Context, url, channel string) (*RedisRelay, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{rdb: rdb, channel: channel, origin: uuid.NewString()}, nil
}

// Publish implements Relay.
func (r *RedisRelay) Publish(ctx context.Context, env Envelope, exclude string) error {
	data, err := r.encode(env, exclude)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, data).Err()
}

// Subscribe implements Relay.
func (r *RedisRelay) Subscribe(ctx context.Context, deliver func(env Envelope, exclude string)) error {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			env, exclude, remote, err := r.decode(msg.Payload)
			if err != nil {
				slog.Warn("Dropping malformed relay message", "error", err)
				continue
			}
			if remote {
				deliver(env, exclude)
			}
		}
	}
}

// Close releases the Redis client.
func (r *RedisRelay) Close() error {
	return r.rdb.Close()
}

func (r *RedisRelay) encode(env Envelope, exclude string) (string, error) {
	data, err := json.Marshal(relayMessage{Origin: r.origin, Exclude: exclude, Envelope: env})
	if err != nil {
		return "", fmt.Errorf("encode relay message: %w", err)
	}
	return string(data), nil
}

// decode reports remote=false for messages this instance published itself.
func (r *RedisRelay) decode(payload string) (Envelope, string, bool, error) {
	var m relayMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return Envelope{}, "", false, err
	}
	return m.Envelope, m.Exclude, m.Origin != r.origin, nil
}
