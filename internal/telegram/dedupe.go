package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// updateTTL is how long a processed update id stays remembered. The
// provider retries undelivered webhooks for at most a day.
const updateTTL = 24 * time.Hour

// Deduper suppresses webhook retries of updates that were already
// processed.
type Deduper interface {
	// Seen marks the update id as processed and reports whether it had
	// been processed before.
	Seen(ctx context.Context, updateID int64) bool
}

type redisDeduper struct {
	client *redis.Client
	log    *slog.Logger
}

// NewRedisDeduper builds a Deduper backed by Redis SETNX with expiry.
func NewRedisDeduper(client *redis.Client, log *slog.Logger) Deduper {
	if log == nil {
		log = slog.Default()
	}

	return &redisDeduper{client: client, log: log}
}

func (d *redisDeduper) Seen(ctx context.Context, updateID int64) bool {
	key := fmt.Sprintf("tg:update:%d", updateID)

	fresh, err := d.client.SetNX(ctx, key, 1, updateTTL).Result()
	if err != nil {
		// Fail open. Processing a retry twice is annoying, dropping a
		// real update is worse.
		d.log.Error("update dedup check failed", slog.Int64("update_id", updateID), slog.Any("error", err))
		return false
	}

	return !fresh
}

type nopDeduper struct{}

// NewNopDeduper returns a Deduper that never suppresses anything.
func NewNopDeduper() Deduper {
	return nopDeduper{}
}

func (nopDeduper) Seen(context.Context, int64) bool { return false }
