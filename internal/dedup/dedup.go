// Package dedup drops transport events that were already accepted.
//
// Chat transports redeliver on reconnects and HTTP clients retry; a Store
// remembers event keys for a TTL so the orchestrator sees each event once.
package dedup

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/tbourn/go-order-bot/internal/repo"
)

// Store reports whether key was seen before, recording it if not. Release
// forgets a key whose event was never accepted.
type Store interface {
	Seen(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Checker reports whether key was already recorded without recording it.
type Checker interface {
	Claimed(ctx context.Context, key string) (bool, error)
}

// redisCmds is the subset of redis.Cmdable used by Redis.
type redisCmds interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Redis keeps keys in Redis with SETNX and a TTL.
type Redis struct {
	rdb    redisCmds
	ttl    time.Duration
	prefix string
}

// NewRedis returns a Redis-backed Store.
func NewRedis(rdb redisCmds, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl, prefix: "orderbot:event:"}
}

// Seen implements Store.
func (s *Redis) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.prefix+key, "1", s.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Release implements Store.
func (s *Redis) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.prefix+key).Err()
}

// Claimed implements Checker.
func (s *Redis) Claimed(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SQL keeps keys in the processed_events table.
type SQL struct {
	DB  *gorm.DB
	TTL time.Duration
	Now func() time.Time
}

// Seen implements Store.
func (s *SQL) Seen(ctx context.Context, key string) (bool, error) {
	err := repo.ClaimEvent(ctx, s.DB, key, s.TTL, s.now())
	if errors.Is(err, repo.ErrDuplicate) {
		return true, nil
	}
	return false, err
}

// Release implements Store.
func (s *SQL) Release(ctx context.Context, key string) error {
	return repo.ReleaseEvent(ctx, s.DB, key)
}

// Claimed implements Checker.
func (s *SQL) Claimed(ctx context.Context, key string) (bool, error) {
	return repo.EventClaimed(ctx, s.DB, key, s.now())
}

// Purge removes expired keys. Run it periodically.
func (s *SQL) Purge(ctx context.Context) (int64, error) {
	return repo.PurgeExpiredEvents(ctx, s.DB, s.now())
}

func (s *SQL) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}
