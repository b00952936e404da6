package repository

import (
	"context"

	"walletledger/internal/model"

	"gorm.io/gorm"
)

// LedgerRepository 账本流水只提供追加和查询，没有更新和删除
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Append(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(entry).Error
}

func (r *LedgerRepository) ListByWallet(ctx context.Context, walletID int64) ([]*model.LedgerEntry, error) {
	var entries []*model.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&entries).Error
	return entries, err
}

func (r *LedgerRepository) ListByTransaction(ctx context.Context, transactionID string) ([]*model.LedgerEntry, error) {
	var entries []*model.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

func (r *LedgerRepository) SumByWallet(ctx context.Context) ([]WalletSum, error) {
	var sums []WalletSum
	err := r.db.WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Select("wallet_id, SUM(amount) AS sum").
		Group("wallet_id").
		Scan(&sums).Error
	return sums, err
}

// Unbalanced 每笔交易必须恰好两条流水且金额之和为 0
func (r *LedgerRepository) Unbalanced(ctx context.Context, excludeReason string) ([]TransactionSum, error) {
	var sums []TransactionSum
	err := r.db.WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Select("transaction_id, SUM(amount) AS sum, COUNT(*) AS entries").
		Where("reason <> ?", excludeReason).
		Group("transaction_id").
		Having("SUM(amount) <> 0 OR COUNT(*) <> 2").
		Scan(&sums).Error
	return sums, err
}
