package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel scores are published to.
const DefaultChannel = "framewatch:ssim"

// RedisSink publishes samples as JSON on a Redis pub/sub channel. Subscribers
// that are not connected at publish time miss the sample.
type RedisSink struct {
	client  *redis.Client
	channel string
	timeout time.Duration
}

// NewRedisSink connects to Redis and verifies the connection with a PING.
func NewRedisSink(addr, password string, db int, channel string) (*RedisSink, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if channel == "" {
		channel = DefaultChannel
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		WriteTimeout: time.Second,
		PoolSize:     2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisSink{client: client, channel: channel, timeout: time.Second}, nil
}

// Channel returns the channel samples are published to.
func (r *RedisSink) Channel() string { return r.channel }

func (r *RedisSink) Publish(ctx context.Context, s Sample) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish sample %d: %w", s.Seq, err)
	}
	return nil
}

// Close closes the Redis client.
func (r *RedisSink) Close() error {
	err := r.client.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}
