package utils

import (
	"context"
	"errors"

	"github.com/mmdatafocus/card_audit_backend/config"
	"gorm.io/gorm"
)

/* DB fetching */

// fetch model owned by ownerId
// (tx may be nil to use the global DB, may return RecordNotFound)
func FetchModel[T any](ctx context.Context, tx *gorm.DB, ownerId string, id any) (*T, error) {
	if tx == nil {
		tx = config.GetDB()
	}
	var result T
	err := tx.WithContext(ctx).Where("owner_id = ?", ownerId).Where("id = ?", id).First(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrorRecordNotFound
		}
		return nil, err
	}
	return &result, nil
}

// fetch all models owned by ownerId
func FetchAllModels[T any](ctx context.Context, tx *gorm.DB, ownerId string, condition string, values ...any) ([]T, error) {
	if tx == nil {
		tx = config.GetDB()
	}
	var results []T
	q := tx.WithContext(ctx).Where("owner_id = ?", ownerId)
	if condition != "" {
		q = q.Where(condition, values...)
	}
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
