package repository

import (
	"context"
	"errors"

	"walletledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AssetRepository struct {
	db *gorm.DB
}

func NewAssetRepository(db *gorm.DB) *AssetRepository {
	return &AssetRepository{db: db}
}

// GetByCode code 需要调用方提前规范化
func (r *AssetRepository) GetByCode(ctx context.Context, code string) (*model.AssetType, error) {
	var asset model.AssetType
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&asset).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAssetNotFound
		}
		return nil, err
	}
	return &asset, nil
}

// Ensure 不存在则创建，并发创建同一 code 时只有一个会成功
func (r *AssetRepository) Ensure(ctx context.Context, code, name string) (*model.AssetType, bool, error) {
	asset := &model.AssetType{Code: code, Name: name}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoNothing: true,
		}).
		Create(asset)
	if result.Error != nil {
		return nil, false, result.Error
	}

	existing, err := r.GetByCode(ctx, code)
	if err != nil {
		return nil, false, err
	}
	return existing, result.RowsAffected == 1, nil
}
