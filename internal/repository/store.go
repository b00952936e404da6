package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"walletledger/internal/model"
)

var (
	ErrAssetNotFound           = errors.New("资产类型不存在")
	ErrWalletNotFound          = errors.New("钱包不存在")
	ErrInsufficientFunds       = errors.New("余额不足")
	ErrDuplicateIdempotencyKey = errors.New("幂等键重复")
	ErrLockTimeout             = errors.New("等待行锁超时")
	ErrLockOrder               = errors.New("钱包必须按 ID 升序加锁")
)

// Reader 只读查询，不持有任何锁
type Reader interface {
	// GetIdempotency 不存在时返回 nil, nil
	GetIdempotency(ctx context.Context, key, userID string) (*model.IdempotencyRecord, error)
	GetAssetByCode(ctx context.Context, code string) (*model.AssetType, error)
	GetWallet(ctx context.Context, userID string, assetTypeID int64) (*model.Wallet, error)
	// ListEntriesByWallet 按创建时间倒序
	ListEntriesByWallet(ctx context.Context, walletID int64) ([]*model.LedgerEntry, error)
}

// UnitOfWork 一个事务范围内的写操作
//
// 锁在事务提交或回滚时统一释放
type UnitOfWork interface {
	// LockWallets 按传入顺序获取排他锁，ids 必须严格升序；返回加锁后重新读取的钱包
	LockWallets(ctx context.Context, ids []int64) ([]*model.Wallet, error)
	AppendEntry(ctx context.Context, entry *model.LedgerEntry) error
	// ApplyDelta 变更余额，结果为负时返回 ErrInsufficientFunds 且不做任何修改
	ApplyDelta(ctx context.Context, wallet *model.Wallet, delta int64) error
	// PutIdempotency 同一 (key, user_id) 重复写入返回 ErrDuplicateIdempotencyKey
	PutIdempotency(ctx context.Context, record *model.IdempotencyRecord) error
	EnqueueOutbox(ctx context.Context, msg *model.OutboxMessage) error
}

// Store 账本存储
type Store interface {
	Reader
	// WithinUnitOfWork fn 返回 nil 则提交，否则整体回滚并原样返回 fn 的错误
	WithinUnitOfWork(ctx context.Context, fn func(uow UnitOfWork) error) error
}

// WalletSum 单个钱包的流水汇总
type WalletSum struct {
	WalletID int64
	Sum      int64
}

// TransactionSum 单笔交易的流水汇总
type TransactionSum struct {
	TransactionID string `json:"transaction_id"`
	Sum           int64  `json:"sum"`
	Entries       int64  `json:"entries"`
}

// AuditReader 对账查询
type AuditReader interface {
	ListWallets(ctx context.Context) ([]*model.Wallet, error)
	SumEntriesByWallet(ctx context.Context) ([]WalletSum, error)
	// UnbalancedTransactions 金额之和不为 0 的交易，excludeReason 对应的流水不参与统计
	UnbalancedTransactions(ctx context.Context, excludeReason string) ([]TransactionSum, error)
}

// Provisioner 初始化数据和运维操作，核心交易流程不会调用
type Provisioner interface {
	// EnsureAsset 已存在时返回已有记录，created 为 false
	EnsureAsset(ctx context.Context, code, name string) (asset *model.AssetType, created bool, err error)
	// EnsureWallet 新建的钱包如果 opening > 0，会在同一事务里写入一条 OPENING 流水
	EnsureWallet(ctx context.Context, userID string, assetTypeID int64, opening int64) (wallet *model.Wallet, created bool, err error)
	PurgeIdempotencyBefore(ctx context.Context, before time.Time) (int64, error)
}

// OpeningTransactionID 期初流水的交易号
func OpeningTransactionID(walletID int64) string {
	return "opening-" + strconv.FormatInt(walletID, 10)
}
