//go:build integration

package sink

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"
)

func setupRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	return strings.TrimPrefix(endpoint, "redis://")
}

func TestRedisSink_Publish(t *testing.T) {
	addr := setupRedis(t)

	sink, err := NewRedisSink(addr, "", 0, "")
	if err != nil {
		t.Fatalf("NewRedisSink() error = %v", err)
	}
	defer sink.Close()

	sub := goredis.NewClient(&goredis.Options{Addr: addr})
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ps := sub.Subscribe(ctx, sink.Channel())
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		t.Fatalf("subscribe confirmation: %v", err)
	}

	want := Sample{Seq: 3, FrameCount: 91, Score: 0.42, Anomaly: true, At: time.Now().UTC().Truncate(time.Millisecond)}
	if err := sink.Publish(ctx, want); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	msg, err := ps.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("ReceiveMessage() error = %v", err)
	}
	if msg.Channel != DefaultChannel {
		t.Errorf("channel = %q, want %q", msg.Channel, DefaultChannel)
	}

	var got Sample
	if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if got.Seq != want.Seq || got.Score != want.Score || !got.Anomaly || !got.At.Equal(want.At) {
		t.Errorf("sample = %+v, want %+v", got, want)
	}
}
