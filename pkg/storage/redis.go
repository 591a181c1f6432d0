package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps snapshots in Redis as JSON values under
// "framewatch:weights:{name}". It lets a robot fleet share trained weights or a
// replacement unit pick up where a previous one stopped.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.RWMutex
}

// NewRedisStore connects to Redis and verifies the connection with a PING.
// A zero ttl keeps snapshots until they are overwritten.
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}
	if ttl < 0 {
		return nil, errors.New("redis ttl cannot be negative")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     4,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisStore{
		client: client,
		ttl:    ttl,
	}, nil
}

func snapshotKey(name string) string {
	return "framewatch:weights:" + name
}

// Put stores the snapshot, replacing any previous one with the same name.
func (r *RedisStore) Put(ctx context.Context, s Snapshot) error {
	if err := ValidateName(s.Name); err != nil {
		return err
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.client == nil {
		return errors.New("redis store is closed")
	}

	if err := r.client.Set(ctx, snapshotKey(s.Name), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot in redis: %w", err)
	}
	return nil
}

// GetLatest retrieves the snapshot stored under name.
func (r *RedisStore) GetLatest(ctx context.Context, name string) (Snapshot, bool, error) {
	if err := ValidateName(name); err != nil {
		return Snapshot{}, false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.client == nil {
		return Snapshot{}, false, errors.New("redis store is closed")
	}

	data, err := r.client.Get(ctx, snapshotKey(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("failed to get snapshot from redis: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return Snapshot{}, false, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snapshot, true, nil
}

// Close closes the Redis client. It is safe to call multiple times.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}

	err := r.client.Close()
	r.client = nil
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

// Ping checks the Redis connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.client == nil {
		return errors.New("redis store is closed")
	}
	return r.client.Ping(ctx).Err()
}
