package repository

import (
	"context"
	"errors"

	"walletledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) GetByOwner(ctx context.Context, userID string, assetTypeID int64) (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND asset_type_id = ?", userID, assetTypeID).
		First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// GetByIDForUpdate SELECT ... FOR UPDATE，锁在事务结束时释放
func (r *WalletRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Wallet, error) {
	var wallet model.Wallet
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, translateLockError(err)
	}
	return &wallet, nil
}

// ApplyDelta 条件更新保证余额不会变成负数
func (r *WalletRepository) ApplyDelta(ctx context.Context, tx *gorm.DB, id int64, delta int64) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND balance + ? >= 0", id, delta).
		Update("balance", gorm.Expr("balance + ?", delta))

	if result.Error != nil {
		return translateLockError(result.Error)
	}

	if result.RowsAffected == 0 {
		var count int64
		if err := tx.WithContext(ctx).Model(&model.Wallet{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrWalletNotFound
		}
		return ErrInsufficientFunds
	}

	return nil
}

func (r *WalletRepository) List(ctx context.Context) ([]*model.Wallet, error) {
	var wallets []*model.Wallet
	err := r.db.WithContext(ctx).Order("id ASC").Find(&wallets).Error
	return wallets, err
}

// CreateIfAbsent 按 (user_id, asset_type_id) 去重插入，返回是否新建
func (r *WalletRepository) CreateIfAbsent(ctx context.Context, tx *gorm.DB, wallet *model.Wallet) (bool, error) {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "asset_type_id"}},
			DoNothing: true,
		}).
		Create(wallet)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
