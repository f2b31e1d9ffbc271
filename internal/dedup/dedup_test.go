package dedup

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-order-bot/internal/repo"
)

type fakeRedis struct {
	keys map[string]time.Duration
	err  error
}

func (f *fakeRedis) SetNX(_ context.Context, key string, _ interface{}, exp time.Duration) *redis.BoolCmd {
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = exp
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			delete(f.keys, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedis_Seen(t *testing.T) {
	f := &fakeRedis{keys: map[string]time.Duration{}}
	s := NewRedis(f, time.Hour)
	ctx := context.Background()

	if seen, err := s.Seen(ctx, "tg:1"); err != nil || seen {
		t.Fatalf("first Seen = %v,%v; want false,nil", seen, err)
	}
	if seen, err := s.Seen(ctx, "tg:1"); err != nil || !seen {
		t.Fatalf("second Seen = %v,%v; want true,nil", seen, err)
	}
	if ttl := f.keys["orderbot:event:tg:1"]; ttl != time.Hour {
		t.Fatalf("ttl = %v; want 1h", ttl)
	}

	if ok, err := s.Claimed(ctx, "tg:1"); err != nil || !ok {
		t.Fatalf("Claimed(tg:1) = %v,%v; want true,nil", ok, err)
	}
	if ok, _ := s.Claimed(ctx, "tg:9"); ok {
		t.Fatalf("Claimed(tg:9) = true for unseen key")
	}

	if err := s.Release(ctx, "tg:1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if seen, err := s.Seen(ctx, "tg:1"); err != nil || seen {
		t.Fatalf("Seen after Release = %v,%v; want false,nil", seen, err)
	}

	f.err = errors.New("conn refused")
	if err := s.Release(ctx, "tg:1"); err == nil {
		t.Fatalf("expected redis error from Release")
	}
	if _, err := s.Seen(ctx, "tg:2"); err == nil {
		t.Fatalf("expected redis error to propagate")
	}
	if _, err := s.Claimed(ctx, "tg:2"); err == nil {
		t.Fatalf("expected redis error from Claimed")
	}
}

func TestSQL_SeenAndPurge(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &SQL{DB: db, TTL: time.Minute, Now: func() time.Time { return now }}
	ctx := context.Background()

	if seen, err := s.Seen(ctx, "tg:7"); err != nil || seen {
		t.Fatalf("first Seen = %v,%v", seen, err)
	}
	if seen, err := s.Seen(ctx, "tg:7"); err != nil || !seen {
		t.Fatalf("second Seen = %v,%v", seen, err)
	}
	if ok, err := s.Claimed(ctx, "tg:7"); err != nil || !ok {
		t.Fatalf("Claimed = %v,%v; want true,nil", ok, err)
	}

	if err := s.Release(ctx, "tg:7"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ok, _ := s.Claimed(ctx, "tg:7"); ok {
		t.Fatalf("released key still claimed")
	}
	if seen, err := s.Seen(ctx, "tg:7"); err != nil || seen {
		t.Fatalf("Seen after Release = %v,%v; want false,nil", seen, err)
	}
	if err := s.Release(ctx, "tg:unknown"); err != nil {
		t.Fatalf("Release of unknown key: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if n, err := s.Purge(ctx); err != nil || n != 1 {
		t.Fatalf("Purge = %d,%v; want 1,nil", n, err)
	}
	if seen, _ := s.Seen(ctx, "tg:7"); seen {
		t.Fatalf("expired key should be accepted again")
	}
}
