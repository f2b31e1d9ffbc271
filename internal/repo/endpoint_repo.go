// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file stores the single generation-backend address.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-order-bot/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// endpointName keys the only row of the endpoint_settings table.
const endpointName = "generation"

// GetEndpoint returns the persisted endpoint or ErrNotFound when none was
// ever registered.
func GetEndpoint(ctx context.Context, db *gorm.DB) (*domain.EndpointSetting, error) {
	var rec domain.EndpointSetting
	err := db.WithContext(ctx).
		Where("name = ?", endpointName).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// PutEndpoint upserts the endpoint row (last write wins).
func PutEndpoint(ctx context.Context, db *gorm.DB, address, updatedBy string) error {
	rec := &domain.EndpointSetting{
		Name:      endpointName,
		Address:   address,
		UpdatedBy: updatedBy,
		UpdatedAt: time.Now().UTC(),
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"address", "updated_by", "updated_at"}),
		}).
		Create(rec).Error
}
