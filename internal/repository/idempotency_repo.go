package repository

import (
	"context"
	"errors"
	"time"

	"walletledger/internal/model"

	"gorm.io/gorm"
)

type IdempotencyRepository struct {
	db *gorm.DB
}

func NewIdempotencyRepository(db *gorm.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

func (r *IdempotencyRepository) Get(ctx context.Context, key, userID string) (*model.IdempotencyRecord, error) {
	var record model.IdempotencyRecord
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ? AND user_id = ?", key, userID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// Create 依赖主键唯一约束识别并发的重复请求
func (r *IdempotencyRepository) Create(ctx context.Context, tx *gorm.DB, record *model.IdempotencyRecord) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Create(record).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateIdempotencyKey
	}
	return translateLockError(err)
}

func (r *IdempotencyRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", before).
		Delete(&model.IdempotencyRecord{})
	return result.RowsAffected, result.Error
}
