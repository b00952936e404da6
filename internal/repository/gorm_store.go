package repository

import (
	"context"
	"fmt"
	"time"

	"walletledger/internal/model"

	"gorm.io/gorm"
)

// GormStore 基于关系型数据库的账本存储
//
// 事务、行级排他锁（SELECT ... FOR UPDATE）和主键唯一约束都由数据库提供
type GormStore struct {
	db          *gorm.DB
	lockTimeout time.Duration

	assets      *AssetRepository
	wallets     *WalletRepository
	ledger      *LedgerRepository
	idempotency *IdempotencyRepository
	outbox      *OutboxRepository
}

func NewGormStore(db *gorm.DB, lockTimeout time.Duration) *GormStore {
	return &GormStore{
		db:          db,
		lockTimeout: lockTimeout,
		assets:      NewAssetRepository(db),
		wallets:     NewWalletRepository(db),
		ledger:      NewLedgerRepository(db),
		idempotency: NewIdempotencyRepository(db),
		outbox:      NewOutboxRepository(db),
	}
}

func (s *GormStore) Outbox() *OutboxRepository {
	return s.outbox
}

func (s *GormStore) Ledger() *LedgerRepository {
	return s.ledger
}

func (s *GormStore) GetIdempotency(ctx context.Context, key, userID string) (*model.IdempotencyRecord, error) {
	return s.idempotency.Get(ctx, key, userID)
}

func (s *GormStore) GetAssetByCode(ctx context.Context, code string) (*model.AssetType, error) {
	return s.assets.GetByCode(ctx, code)
}

func (s *GormStore) GetWallet(ctx context.Context, userID string, assetTypeID int64) (*model.Wallet, error) {
	return s.wallets.GetByOwner(ctx, userID, assetTypeID)
}

func (s *GormStore) ListEntriesByWallet(ctx context.Context, walletID int64) ([]*model.LedgerEntry, error) {
	return s.ledger.ListByWallet(ctx, walletID)
}

// WithinUnitOfWork 在一个数据库事务里执行 fn
//
// fn 返回错误或 panic 时整体回滚，行锁随事务结束一起释放
func (s *GormStore) WithinUnitOfWork(ctx context.Context, fn func(uow UnitOfWork) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.applyLockTimeout(tx); err != nil {
			return fmt.Errorf("设置锁等待超时失败: %w", err)
		}
		return fn(&gormUnitOfWork{tx: tx, store: s})
	})
	return translateLockError(err)
}

// applyLockTimeout PostgreSQL 使用 SET LOCAL，只作用于当前事务；
// MySQL 只能按会话设置，且单位是秒
func (s *GormStore) applyLockTimeout(tx *gorm.DB) error {
	if s.lockTimeout <= 0 {
		return nil
	}

	switch tx.Dialector.Name() {
	case "postgres":
		return tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())).Error
	case "mysql":
		seconds := int64((s.lockTimeout + time.Second - 1) / time.Second)
		return tx.Exec("SET SESSION innodb_lock_wait_timeout = ?", seconds).Error
	default:
		return nil
	}
}

type gormUnitOfWork struct {
	tx    *gorm.DB
	store *GormStore
}

func (u *gormUnitOfWork) LockWallets(ctx context.Context, ids []int64) ([]*model.Wallet, error) {
	if err := checkLockOrder(ids); err != nil {
		return nil, err
	}

	wallets := make([]*model.Wallet, 0, len(ids))
	for _, id := range ids {
		wallet, err := u.store.wallets.GetByIDForUpdate(ctx, u.tx, id)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, wallet)
	}
	return wallets, nil
}

func (u *gormUnitOfWork) AppendEntry(ctx context.Context, entry *model.LedgerEntry) error {
	return u.store.ledger.Append(ctx, u.tx, entry)
}

func (u *gormUnitOfWork) ApplyDelta(ctx context.Context, wallet *model.Wallet, delta int64) error {
	if err := u.store.wallets.ApplyDelta(ctx, u.tx, wallet.ID, delta); err != nil {
		return err
	}
	wallet.Balance += delta
	return nil
}

func (u *gormUnitOfWork) PutIdempotency(ctx context.Context, record *model.IdempotencyRecord) error {
	return u.store.idempotency.Create(ctx, u.tx, record)
}

func (u *gormUnitOfWork) EnqueueOutbox(ctx context.Context, msg *model.OutboxMessage) error {
	return u.store.outbox.Create(ctx, u.tx, msg)
}

// checkLockOrder 全局按钱包 ID 升序加锁是避免死锁的唯一手段
func checkLockOrder(ids []int64) error {
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			return fmt.Errorf("%w: %v", ErrLockOrder, ids)
		}
	}
	return nil
}

// ============================================================================
// 对账与初始化
// ============================================================================

func (s *GormStore) ListWallets(ctx context.Context) ([]*model.Wallet, error) {
	return s.wallets.List(ctx)
}

func (s *GormStore) SumEntriesByWallet(ctx context.Context) ([]WalletSum, error) {
	return s.ledger.SumByWallet(ctx)
}

func (s *GormStore) UnbalancedTransactions(ctx context.Context, excludeReason string) ([]TransactionSum, error) {
	return s.ledger.Unbalanced(ctx, excludeReason)
}

func (s *GormStore) EnsureAsset(ctx context.Context, code, name string) (*model.AssetType, bool, error) {
	return s.assets.Ensure(ctx, code, name)
}

func (s *GormStore) EnsureWallet(ctx context.Context, userID string, assetTypeID int64, opening int64) (*model.Wallet, bool, error) {
	if opening < 0 {
		return nil, false, ErrInsufficientFunds
	}

	var created bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wallet := &model.Wallet{
			UserID:      userID,
			AssetTypeID: assetTypeID,
			Balance:     opening,
		}
		ok, err := s.wallets.CreateIfAbsent(ctx, tx, wallet)
		if err != nil {
			return err
		}
		created = ok
		if !ok || opening == 0 {
			return nil
		}

		return s.ledger.Append(ctx, tx, &model.LedgerEntry{
			TransactionID: OpeningTransactionID(wallet.ID),
			WalletID:      wallet.ID,
			Amount:        opening,
			Reason:        model.ReasonOpening,
		})
	})
	if err != nil {
		return nil, false, err
	}

	wallet, err := s.wallets.GetByOwner(ctx, userID, assetTypeID)
	if err != nil {
		return nil, false, err
	}
	return wallet, created, nil
}

func (s *GormStore) PurgeIdempotencyBefore(ctx context.Context, before time.Time) (int64, error) {
	return s.idempotency.DeleteBefore(ctx, before)
}

var (
	_ Store       = (*GormStore)(nil)
	_ AuditReader = (*GormStore)(nil)
	_ Provisioner = (*GormStore)(nil)
)
