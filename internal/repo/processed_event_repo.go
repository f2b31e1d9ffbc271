// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides helpers for the ProcessedEvent model used
// to drop redelivered transport events.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-order-bot/internal/domain"
)

// ClaimEvent records key as processed until now+ttl. It returns ErrDuplicate
// when an unexpired record for key already exists. Expired records for key are
// replaced.
func ClaimEvent(ctx context.Context, db *gorm.DB, key string, ttl time.Duration, now time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("key = ? AND expires_at <= ?", key, now).
			Delete(&domain.ProcessedEvent{}).Error; err != nil {
			return err
		}
		rec := &domain.ProcessedEvent{
			ID:        uuid.NewString(),
			Key:       key,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}
		if err := tx.Create(rec).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return err
		}
		return nil
	})
}

// PurgeExpiredEvents deletes records whose TTL elapsed before now and returns
// the number of rows removed.
func PurgeExpiredEvents(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.ProcessedEvent{})
	return res.RowsAffected, res.Error
}

// EventClaimed reports whether an unexpired record for key exists at now.
func EventClaimed(ctx context.Context, db *gorm.DB, key string, now time.Time) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, nil
	}
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.ProcessedEvent{}).
		Where("key = ? AND expires_at > ?", key, now).
		Count(&n).Error
	return n > 0, err
}

// ReleaseEvent deletes the record for key so the event can be claimed again.
// Releasing an unknown key is not an error.
func ReleaseEvent(ctx context.Context, db *gorm.DB, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	return db.WithContext(ctx).
		Where("key = ?", key).
		Delete(&domain.ProcessedEvent{}).Error
}
