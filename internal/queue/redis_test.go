package queue

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedisStreams(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	cfg := RedisConfig{Stream: "test:events", Group: "advisor", Consumer: "a", MinIdle: 50 * time.Millisecond, Block: 100 * time.Millisecond}
	busA, err := NewRedisStreams(ctx, rdb, cfg)
	require.NoError(t, err)
	cfg.Consumer = "b"
	busB, err := NewRedisStreams(ctx, rdb, cfg)
	require.NoError(t, err, "creating an existing group is not an error")

	t.Run("publish is guarded", func(t *testing.T) {
		ok, err := busA.Publish(ctx, chatEvent("m1"))
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = busB.Publish(ctx, chatEvent("m1"))
		require.NoError(t, err)
		assert.False(t, ok)

		d, err := busA.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, "m1", d.Event.MessageID)
		assert.Equal(t, 1, d.Attempt)
		require.NoError(t, busA.Ack(ctx, d))
	})

	t.Run("unacked delivery is reclaimed by another consumer", func(t *testing.T) {
		require.NoError(t, busA.Requeue(ctx, chatEvent("m2")))
		d, err := busA.Receive(ctx)
		require.NoError(t, err)
		require.Equal(t, "m2", d.Event.MessageID)
		require.NoError(t, busA.Nack(ctx, d))

		time.Sleep(100 * time.Millisecond)
		claimed, err := busB.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, d.ID, claimed.ID)
		assert.GreaterOrEqual(t, claimed.Attempt, 2)
		require.NoError(t, busB.Ack(ctx, claimed))

		pending, err := rdb.XPending(ctx, cfg.Stream, cfg.Group).Result()
		require.NoError(t, err)
		assert.Zero(t, pending.Count)
	})

	t.Run("receive returns on cancellation", func(t *testing.T) {
		cctx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
		defer cancel()
		_, err := busA.Receive(cctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
