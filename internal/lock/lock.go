// Package lock serializes reading transactions per user so that two
// concurrent webhooks cannot both pass the duplicate-for-today check.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	readingLockKeyPattern = "reading:lock:%d"
	lockTTL               = 5 * time.Second
)

// ErrLocked indicates that a concurrent transaction for the same user is
// still in flight.
var ErrLocked = errors.New("reading transaction already in progress")

// UserLocker acquires a short-lived exclusive lock for one user.
type UserLocker interface {
	Acquire(ctx context.Context, userID int64) (release func(), err error)
}

type redisLocker struct {
	client *redis.Client
	log    *slog.Logger
}

// NewRedisLocker builds a UserLocker backed by Redis SET NX with a TTL,
// so a crashed holder cannot block the user forever.
func NewRedisLocker(client *redis.Client, log *slog.Logger) UserLocker {
	if log == nil {
		log = slog.Default()
	}

	return &redisLocker{client: client, log: log}
}

func (l *redisLocker) Acquire(ctx context.Context, userID int64) (func(), error) {
	key := fmt.Sprintf(readingLockKeyPattern, userID)

	acquired, err := l.client.SetNX(ctx, key, 1, lockTTL).Result()
	if err != nil {
		l.log.Error("failed to acquire reading lock", slog.Int64("user_id", userID), slog.Any("error", err))
		return nil, err
	}

	if !acquired {
		l.log.Warn("reading lock already held", slog.Int64("user_id", userID))
		return nil, ErrLocked
	}

	release := func() {
		if err := l.client.Del(context.Background(), key).Err(); err != nil {
			l.log.Error("failed to release reading lock", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}

	return release, nil
}

type nopLocker struct{}

// NewNopLocker returns a locker that always succeeds. Used when Redis is
// not configured; the database unique constraint still guards the race.
func NewNopLocker() UserLocker {
	return nopLocker{}
}

func (nopLocker) Acquire(context.Context, int64) (func(), error) {
	return func() {}, nil
}
