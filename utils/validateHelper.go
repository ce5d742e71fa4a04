package utils

import (
	"context"

	"github.com/mmdatafocus/card_audit_backend/config"
	"gorm.io/gorm"
)

// check if id exists for ownerId, return RecordNotFound Error
func ValidateResourceId[T any](ctx context.Context, tx *gorm.DB, ownerId string, id interface{}) error {
	count, err := ResourceCountWhere[T](ctx, tx, ownerId, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}
	return nil
}

// count records, using WHERE owner_id = ? AND $condition
// ownerId can be blank for ops tooling
func ResourceCountWhere[T any](ctx context.Context, tx *gorm.DB, ownerId string, condition string, value ...interface{}) (int64, error) {
	var model T
	if tx == nil {
		tx = config.GetDB()
	}
	q := tx.WithContext(ctx).Model(&model)
	if ownerId != "" {
		q = q.Where("owner_id = ?", ownerId)
	}
	var count int64
	if err := q.Where(condition, value...).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
