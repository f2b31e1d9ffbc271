package repo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-order-bot/internal/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// Use a unique in-memory database per test to avoid schema leakage across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func sampleTx(id, user string) *domain.Transaction {
	return &domain.Transaction{
		ID:        id,
		UserID:    user,
		ChatID:    "chat-" + user,
		ProductID: "art_fantasy",
		Amount:    4500,
		ProofRef:  "proof-" + id,
		CreatedAt: time.Now().UTC(),
	}
}

func countUserRows(t *testing.T, db *gorm.DB, userID string) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&domain.Transaction{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestAppendTransaction_InsertAndCount(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := AppendTransaction(ctx, db, sampleTx("01J0000000000000000000000A", "u1")); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if err := AppendTransaction(ctx, db, sampleTx("01J0000000000000000000000B", "u1")); err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if err := AppendTransaction(ctx, db, sampleTx("01J0000000000000000000000C", "u2")); err != nil {
		t.Fatalf("append 3: %v", err)
	}

	if n := countUserRows(t, db, "u1"); n != 2 {
		t.Fatalf("rows for u1 = %d; want 2", n)
	}

	var got domain.Transaction
	if err := db.First(&got, "id = ?", "01J0000000000000000000000A").Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if got.Amount != 4500 || got.ProductID != "art_fantasy" || got.ProofRef != "proof-01J0000000000000000000000A" {
		t.Fatalf("unexpected row: %+v", got)
	}
}

func TestAppendTransaction_DuplicateID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := AppendTransaction(ctx, db, sampleTx("01J0000000000000000000000D", "u1")); err != nil {
		t.Fatalf("append: %v", err)
	}
	err := AppendTransaction(ctx, db, sampleTx("01J0000000000000000000000D", "u1"))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestAppendTransaction_RejectsNonPositiveAmount(t *testing.T) {
	db := newTestDB(t)
	tx := sampleTx("01J0000000000000000000000E", "u1")
	tx.Amount = 0
	if err := AppendTransaction(context.Background(), db, tx); err == nil {
		t.Fatalf("expected check constraint error")
	}
}

func TestAppendTransaction_ConcurrentWritersKeepEveryRow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	// Shared-cache memory databases report table locks across connections.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("01J%023d", i)
			errs <- AppendTransaction(ctx, db, sampleTx(id, "u1"))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent append: %v", err)
		}
	}
	if n := countUserRows(t, db, "u1"); n != writers {
		t.Fatalf("rows = %d; want %d", n, writers)
	}
}

func TestEndpoint_GetMissing_PutThenOverwrite(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if rec, err := GetEndpoint(ctx, db); rec != nil || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected (nil, ErrNotFound), got (%v, %v)", rec, err)
	}

	if err := PutEndpoint(ctx, db, "https://a.example/generate", "op"); err != nil {
		t.Fatalf("put 1: %v", err)
	}
	if err := PutEndpoint(ctx, db, "https://b.example/generate", "op"); err != nil {
		t.Fatalf("put 2: %v", err)
	}

	rec, err := GetEndpoint(ctx, db)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Address != "https://b.example/generate" || rec.UpdatedBy != "op" {
		t.Fatalf("last write should win, got %+v", rec)
	}

	var n int64
	db.Model(&domain.EndpointSetting{}).Count(&n)
	if n != 1 {
		t.Fatalf("endpoint_settings rows = %d; want 1", n)
	}
}

func TestClaimEvent_DuplicateUntilExpiry(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := ClaimEvent(ctx, db, "tg:100", time.Minute, now); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := ClaimEvent(ctx, db, "tg:100", time.Minute, now.Add(30*time.Second)); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate within TTL, got %v", err)
	}
	if err := ClaimEvent(ctx, db, "tg:100", time.Minute, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("claim after expiry should succeed, got %v", err)
	}
	if err := ClaimEvent(ctx, db, "tg:101", time.Minute, now); err != nil {
		t.Fatalf("other key: %v", err)
	}
}

func TestClaimEvent_EmptyKeyIsNoop(t *testing.T) {
	db := newTestDB(t)
	if err := ClaimEvent(context.Background(), db, "   ", time.Minute, time.Now()); err != nil {
		t.Fatalf("expected nil for blank key, got %v", err)
	}
	var n int64
	db.Model(&domain.ProcessedEvent{}).Count(&n)
	if n != 0 {
		t.Fatalf("blank key should not be stored")
	}
}

func TestPurgeExpiredEvents(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = ClaimEvent(ctx, db, "old", time.Second, now.Add(-time.Hour))
	_ = ClaimEvent(ctx, db, "fresh", time.Hour, now)

	n, err := PurgeExpiredEvents(ctx, db, now)
	if err != nil || n != 1 {
		t.Fatalf("PurgeExpiredEvents = %d,%v; want 1,nil", n, err)
	}
	if err := ClaimEvent(ctx, db, "fresh", time.Hour, now); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("fresh record should survive purge, got %v", err)
	}
}

func TestEventClaimed_ReadOnly(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if ok, err := EventClaimed(ctx, db, "http:k1", now); err != nil || ok {
		t.Fatalf("EventClaimed before claim = %v,%v", ok, err)
	}
	var n int64
	db.Model(&domain.ProcessedEvent{}).Count(&n)
	if n != 0 {
		t.Fatalf("EventClaimed must not record the key")
	}

	_ = ClaimEvent(ctx, db, "http:k1", time.Minute, now)
	if ok, err := EventClaimed(ctx, db, "http:k1", now.Add(time.Second)); err != nil || !ok {
		t.Fatalf("EventClaimed within TTL = %v,%v", ok, err)
	}
	if ok, _ := EventClaimed(ctx, db, "http:k1", now.Add(time.Hour)); ok {
		t.Fatalf("expired claim reported as present")
	}
	if ok, _ := EventClaimed(ctx, db, " ", now); ok {
		t.Fatalf("blank key reported as claimed")
	}
}
