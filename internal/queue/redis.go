package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"finadvisor/backend/internal/apperr"
	"finadvisor/backend/pkg/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisConfig names the stream, group and timings of a RedisStreams bus.
type RedisConfig struct {
	Stream   string        `mapstructure:"stream"`
	Group    string        `mapstructure:"group"`
	Consumer string        `mapstructure:"consumer"`
	GuardTTL time.Duration `mapstructure:"guard_ttl"`
	// MinIdle is how long a delivery may stay unacknowledged before another
	// consumer claims it.
	MinIdle time.Duration `mapstructure:"min_idle"`
	Block   time.Duration `mapstructure:"block"`
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Stream:   "finadvisor:chat-events",
		Group:    "advisor",
		GuardTTL: 24 * time.Hour,
		MinIdle:  2 * time.Minute,
		Block:    2 * time.Second,
	}
}

const eventField = "event"

// RedisStreams is a Bus on a Redis stream with one consumer group. Unacked
// entries stay in the group's pending list and are reclaimed with
// XAUTOCLAIM once idle for MinIdle, so a crashed worker's events are picked
// up by the others.
type RedisStreams struct {
	rdb *redis.Client
	cfg RedisConfig
}

// NewRedisStreams creates the consumer group if needed.
func NewRedisStreams(ctx context.Context, rdb *redis.Client, cfg RedisConfig) (*RedisStreams, error) {
	def := DefaultRedisConfig()
	if cfg.Stream == "" {
		cfg.Stream = def.Stream
	}
	if cfg.Group == "" {
		cfg.Group = def.Group
	}
	if cfg.GuardTTL <= 0 {
		cfg.GuardTTL = def.GuardTTL
	}
	if cfg.MinIdle <= 0 {
		cfg.MinIdle = def.MinIdle
	}
	if cfg.Block <= 0 {
		cfg.Block = def.Block
	}
	if cfg.Consumer == "" {
		host, _ := os.Hostname()
		cfg.Consumer = host + "-" + uuid.NewString()[:8]
	}
	err := rdb.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}
	return &RedisStreams{rdb: rdb, cfg: cfg}, nil
}

func (b *RedisStreams) guardKey(evt models.ChatEvent) string {
	return b.cfg.Stream + ":enqueued:" + evt.IdempotencyKey()
}

func (b *RedisStreams) Publish(ctx context.Context, evt models.ChatEvent) (bool, error) {
	ok, err := b.rdb.SetNX(ctx, b.guardKey(evt), 1, b.cfg.GuardTTL).Result()
	if err != nil {
		return false, apperr.Transient(fmt.Errorf("failed to set enqueue guard: %w", err))
	}
	if !ok {
		return false, nil
	}
	if err := b.add(ctx, evt); err != nil {
		// Without the entry the guard would block every retry.
		b.rdb.Del(context.WithoutCancel(ctx), b.guardKey(evt))
		return false, err
	}
	return true, nil
}

func (b *RedisStreams) Requeue(ctx context.Context, evt models.ChatEvent) error {
	return b.add(ctx, evt)
}

func (b *RedisStreams) add(ctx context.Context, evt models.ChatEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.cfg.Stream,
		Values: map[string]any{eventField: body},
	}).Err(); err != nil {
		return apperr.Transient(fmt.Errorf("failed to add event: %w", err))
	}
	return nil
}

func (b *RedisStreams) Receive(ctx context.Context) (Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Delivery{}, err
		}
		if d, ok, err := b.claim(ctx); err != nil || ok {
			return d, err
		}

		streams, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.cfg.Group,
			Consumer: b.cfg.Consumer,
			Streams:  []string{b.cfg.Stream, ">"},
			Count:    1,
			Block:    b.cfg.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Delivery{}, ctx.Err()
			}
			return Delivery{}, apperr.Transient(fmt.Errorf("failed to read stream: %w", err))
		}
		if len(streams) > 0 && len(streams[0].Messages) > 0 {
			return b.decode(ctx, streams[0].Messages[0], 1)
		}
	}
}

// claim takes over one entry another consumer left idle.
func (b *RedisStreams) claim(ctx context.Context) (Delivery, bool, error) {
	msgs, _, err := b.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   b.cfg.Stream,
		Group:    b.cfg.Group,
		Consumer: b.cfg.Consumer,
		MinIdle:  b.cfg.MinIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		if ctx.Err() != nil {
			return Delivery{}, false, ctx.Err()
		}
		return Delivery{}, false, apperr.Transient(fmt.Errorf("failed to claim idle events: %w", err))
	}
	if len(msgs) == 0 {
		return Delivery{}, false, nil
	}
	attempt := 2
	pending, err := b.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: b.cfg.Stream,
		Group:  b.cfg.Group,
		Start:  msgs[0].ID,
		End:    msgs[0].ID,
		Count:  1,
	}).Result()
	if err == nil && len(pending) == 1 {
		attempt = int(pending[0].RetryCount)
	}
	d, err := b.decode(ctx, msgs[0], attempt)
	return d, true, err
}

func (b *RedisStreams) decode(ctx context.Context, msg redis.XMessage, attempt int) (Delivery, error) {
	raw, _ := msg.Values[eventField].(string)
	var evt models.ChatEvent
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		// A poison entry is acked so it does not circulate forever.
		b.rdb.XAck(ctx, b.cfg.Stream, b.cfg.Group, msg.ID)
		return Delivery{}, apperr.Wrap(apperr.CodeValidation, "undecodable stream entry "+msg.ID, err)
	}
	return Delivery{ID: msg.ID, Event: evt, Attempt: attempt}, nil
}

func (b *RedisStreams) Ack(ctx context.Context, d Delivery) error {
	if err := b.rdb.XAck(ctx, b.cfg.Stream, b.cfg.Group, d.ID).Err(); err != nil {
		return apperr.Transient(fmt.Errorf("failed to ack %s: %w", d.ID, err))
	}
	return nil
}

// Nack leaves the entry pending; it is reclaimed after MinIdle.
func (b *RedisStreams) Nack(ctx context.Context, d Delivery) error { return nil }

// Close does not close the shared client.
func (b *RedisStreams) Close() error { return nil }
