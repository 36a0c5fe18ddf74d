//go:build integration

package ratelimit

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestTracker_Integration_SharedCooldown(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	ctx := context.Background()

	// two trackers stand in for two processes sharing one Redis
	a := NewTracker(redisClient, logger)
	b := NewTracker(redisClient, logger)

	state, err := b.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Active() {
		t.Fatal("empty Redis should have no cooldown")
	}

	h := http.Header{}
	h.Set("Retry-After", "20")
	if err := a.UpdateFromResponse(ctx, http.StatusTooManyRequests, h); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	state, err = b.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if !state.Active() {
		t.Fatal("cooldown recorded by a should be visible to b")
	}
	if state.Hits != 1 {
		t.Errorf("Hits = %d, want 1", state.Hits)
	}
	if r := state.Remaining(); r < 15*time.Second || r > 20*time.Second {
		t.Errorf("Remaining() = %v, want about 20s", r)
	}

	ttl, err := redisClient.TTL(ctx, RedisKeyCooldownUntil).Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 0 {
		t.Errorf("cooldown key TTL = %v, want positive", ttl)
	}

	if err := b.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	state, _ = a.GetState(ctx)
	if state.Active() {
		t.Error("cooldown should be cleared for every tracker")
	}
}

func TestTracker_Integration_WaitCancelled(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	tracker := NewTracker(redisClient, zerolog.New(os.Stderr).Level(zerolog.Disabled))

	h := http.Header{}
	h.Set("Retry-After", "60")
	if err := tracker.UpdateFromResponse(context.Background(), http.StatusTooManyRequests, h); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := tracker.Wait(ctx); err == nil {
		t.Error("Wait() should fail when the context expires during a cooldown")
	}
}
