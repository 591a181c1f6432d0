//go:build integration

package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"
)

// setupRedisContainer starts a Redis container for testing
func setupRedisContainer(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	redisContainer, err := redis.Run(ctx,
		"redis:7-alpine",
		redis.WithSnapshotting(10, 1),
		redis.WithLogLevel(redis.LogLevelVerbose),
	)
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}

	endpoint, err := redisContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(redisContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	return strings.TrimPrefix(endpoint, "redis://")
}

func newTestRedisStore(t *testing.T, ttl time.Duration) *RedisStore {
	t.Helper()
	store, err := NewRedisStore(setupRedisContainer(t), "", 0, ttl)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStore_NewRedisStore_Success(t *testing.T) {
	store := newTestRedisStore(t, time.Minute)

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestRedisStore_NewRedisStore_InvalidAddr(t *testing.T) {
	_, err := NewRedisStore("invalid:99999", "", 0, time.Minute)
	if err == nil {
		t.Fatal("expected error for invalid address, got nil")
	}
}

func TestRedisStore_NewRedisStore_InvalidArgs(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		db      int
		ttl     time.Duration
		wantErr string
	}{
		{"empty addr", "", 0, 0, "redis address cannot be empty"},
		{"negative db", "localhost:6379", -1, 0, "redis database number must be >= 0"},
		{"negative ttl", "localhost:6379", 0, -time.Second, "redis ttl cannot be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRedisStore(tt.addr, "", tt.db, tt.ttl)
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestRedisStore_PutAndGet(t *testing.T) {
	store := newTestRedisStore(t, time.Minute)
	ctx := context.Background()

	want := testSnapshot("detector")
	if err := store.Put(ctx, want); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	exists, err := store.client.Exists(ctx, "framewatch:weights:detector").Result()
	if err != nil {
		t.Fatalf("failed to check key existence: %v", err)
	}
	if exists != 1 {
		t.Error("expected key to exist in Redis")
	}

	got, found, err := store.GetLatest(ctx, "detector")
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if !found {
		t.Fatal("expected snapshot to be found")
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestRedisStore_GetLatest_NotFound(t *testing.T) {
	store := newTestRedisStore(t, time.Minute)

	_, found, err := store.GetLatest(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if found {
		t.Error("expected snapshot not to be found")
	}
}

func TestRedisStore_InvalidName(t *testing.T) {
	store := newTestRedisStore(t, time.Minute)

	if err := store.Put(context.Background(), testSnapshot("invalid/name")); err == nil {
		t.Error("expected error for invalid name")
	}
	if _, _, err := store.GetLatest(context.Background(), ""); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestRedisStore_TTL(t *testing.T) {
	store := newTestRedisStore(t, 2*time.Second)
	ctx := context.Background()

	if err := store.Put(ctx, testSnapshot("detector")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	ttl, err := store.client.TTL(ctx, "framewatch:weights:detector").Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > 2*time.Second {
		t.Errorf("ttl = %v, want (0, 2s]", ttl)
	}

	time.Sleep(3 * time.Second)

	_, found, err := store.GetLatest(ctx, "detector")
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if found {
		t.Error("expected snapshot to expire")
	}
}

func TestRedisStore_NoExpiry(t *testing.T) {
	store := newTestRedisStore(t, 0)
	ctx := context.Background()

	if err := store.Put(ctx, testSnapshot("detector")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	ttl, err := store.client.TTL(ctx, "framewatch:weights:detector").Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl != -1 {
		t.Errorf("ttl = %v, want -1 (no expiry)", ttl)
	}
}

func TestRedisStore_Close(t *testing.T) {
	store := newTestRedisStore(t, time.Minute)

	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if err := store.Put(context.Background(), testSnapshot("detector")); err == nil {
		t.Error("Put on closed store should fail")
	}
	if err := store.Ping(context.Background()); err == nil {
		t.Error("Ping on closed store should fail")
	}
}

func TestRedisStore_ConcurrentPuts(t *testing.T) {
	store := newTestRedisStore(t, time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				s := testSnapshot(fmt.Sprintf("detector-%d", id))
				s.FrameCount = j
				if err := store.Put(ctx, s); err != nil {
					t.Errorf("Put failed: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		got, found, err := store.GetLatest(ctx, fmt.Sprintf("detector-%d", i))
		if err != nil || !found {
			t.Fatalf("GetLatest(detector-%d) found=%v err=%v", i, found, err)
		}
		if got.FrameCount != 9 {
			t.Errorf("detector-%d FrameCount = %d, want 9", i, got.FrameCount)
		}
	}
}
