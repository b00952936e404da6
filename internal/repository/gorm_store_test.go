package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"walletledger/internal/model"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestStore SQLite 临时库，单连接避免写锁竞争
func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&model.AssetType{},
		&model.Wallet{},
		&model.LedgerEntry{},
		&model.IdempotencyRecord{},
		&model.OutboxMessage{},
	))
	return NewGormStore(db, 0)
}

type fixture struct {
	asset    *model.AssetType
	user     *model.Wallet
	treasury *model.Wallet
}

func seedFixture(t *testing.T, s *GormStore) fixture {
	t.Helper()
	ctx := context.Background()

	asset, created, err := s.EnsureAsset(ctx, "GOLD_COIN", "Gold Coins")
	require.NoError(t, err)
	require.True(t, created)

	treasury, created, err := s.EnsureWallet(ctx, "SYSTEM_TREASURY", asset.ID, 1000)
	require.NoError(t, err)
	require.True(t, created)

	user, created, err := s.EnsureWallet(ctx, "user_123", asset.ID, 100)
	require.NoError(t, err)
	require.True(t, created)

	return fixture{asset: asset, user: user, treasury: treasury}
}

// transfer 模拟一笔完整交易的写入顺序
func transfer(ctx context.Context, s *GormStore, f fixture, txID, key string, userDelta int64) error {
	return s.WithinUnitOfWork(ctx, func(uow UnitOfWork) error {
		locked, err := uow.LockWallets(ctx, []int64{f.treasury.ID, f.user.ID})
		if err != nil {
			return err
		}
		treasury, user := locked[0], locked[1]

		if err := uow.AppendEntry(ctx, &model.LedgerEntry{TransactionID: txID, WalletID: user.ID, Amount: userDelta, Reason: "SPEND"}); err != nil {
			return err
		}
		if err := uow.AppendEntry(ctx, &model.LedgerEntry{TransactionID: txID, WalletID: treasury.ID, Amount: -userDelta, Reason: "SPEND"}); err != nil {
			return err
		}
		if err := uow.ApplyDelta(ctx, user, userDelta); err != nil {
			return err
		}
		if err := uow.ApplyDelta(ctx, treasury, -userDelta); err != nil {
			return err
		}
		if err := uow.PutIdempotency(ctx, &model.IdempotencyRecord{
			Key:             key,
			UserID:          user.UserID,
			RequestHash:     "hash-" + key,
			ResponsePayload: fmt.Sprintf(`{"tx_id":%q}`, txID),
		}); err != nil {
			return err
		}
		return uow.EnqueueOutbox(ctx, &model.OutboxMessage{
			MessageKey: user.UserID,
			Topic:      model.EventTransactionCommitted,
			Payload:    "{}",
			Status:     model.OutboxStatusPending,
		})
	})
}

func TestGormStoreEnsureIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()

	asset, created, err := s.EnsureAsset(ctx, "GOLD_COIN", "ignored")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, f.asset.ID, asset.ID)
	assert.Equal(t, "Gold Coins", asset.Name)

	wallet, created, err := s.EnsureWallet(ctx, "user_123", f.asset.ID, 999)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(100), wallet.Balance)

	entries, err := s.ListEntriesByWallet(ctx, f.user.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ReasonOpening, entries[0].Reason)
	assert.Equal(t, OpeningTransactionID(f.user.ID), entries[0].TransactionID)
}

func TestGormStoreCommitWritesEverything(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()

	require.NoError(t, transfer(ctx, s, f, "tx-1", "K1", -30))

	user, err := s.GetWallet(ctx, "user_123", f.asset.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(70), user.Balance)
	treasury, err := s.GetWallet(ctx, "SYSTEM_TREASURY", f.asset.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1030), treasury.Balance)

	entries, err := s.Ledger().ListByTransaction(ctx, "tx-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Zero(t, entries[0].Amount+entries[1].Amount)

	rec, err := s.GetIdempotency(ctx, "K1", "user_123")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "hash-K1", rec.RequestHash)
	assert.False(t, rec.CreatedAt.IsZero())

	pending, err := s.Outbox().GetPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestGormStoreRollbackOnError(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithinUnitOfWork(ctx, func(uow UnitOfWork) error {
		locked, err := uow.LockWallets(ctx, []int64{f.treasury.ID, f.user.ID})
		require.NoError(t, err)
		require.NoError(t, uow.AppendEntry(ctx, &model.LedgerEntry{TransactionID: "tx-x", WalletID: f.user.ID, Amount: -10, Reason: "SPEND"}))
		require.NoError(t, uow.ApplyDelta(ctx, locked[1], -10))
		require.NoError(t, uow.PutIdempotency(ctx, &model.IdempotencyRecord{Key: "KX", UserID: "user_123", RequestHash: "h", ResponsePayload: "{}"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	user, err := s.GetWallet(ctx, "user_123", f.asset.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), user.Balance)

	entries, err := s.Ledger().ListByTransaction(ctx, "tx-x")
	require.NoError(t, err)
	assert.Empty(t, entries)

	rec, err := s.GetIdempotency(ctx, "KX", "user_123")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestGormStoreDuplicateIdempotencyKey(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()

	require.NoError(t, transfer(ctx, s, f, "tx-1", "K1", -10))

	err := transfer(ctx, s, f, "tx-2", "K1", -10)
	assert.ErrorIs(t, err, ErrDuplicateIdempotencyKey)

	// 整个工作单元回滚，第二笔的流水和余额变更都不存在
	user, err := s.GetWallet(ctx, "user_123", f.asset.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(90), user.Balance)
	entries, err := s.Ledger().ListByTransaction(ctx, "tx-2")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGormStoreApplyDeltaGuardsNegative(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()

	err := s.WithinUnitOfWork(ctx, func(uow UnitOfWork) error {
		locked, err := uow.LockWallets(ctx, []int64{f.user.ID})
		if err != nil {
			return err
		}
		err = uow.ApplyDelta(ctx, locked[0], -101)
		assert.Equal(t, int64(100), locked[0].Balance)
		return err
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	user, err := s.GetWallet(ctx, "user_123", f.asset.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), user.Balance)
}

func TestGormStoreLockWalletsRules(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()

	err := s.WithinUnitOfWork(ctx, func(uow UnitOfWork) error {
		_, err := uow.LockWallets(ctx, []int64{f.user.ID, f.treasury.ID})
		return err
	})
	assert.ErrorIs(t, err, ErrLockOrder)

	err = s.WithinUnitOfWork(ctx, func(uow UnitOfWork) error {
		_, err := uow.LockWallets(ctx, []int64{f.user.ID, f.user.ID})
		return err
	})
	assert.ErrorIs(t, err, ErrLockOrder)

	err = s.WithinUnitOfWork(ctx, func(uow UnitOfWork) error {
		_, err := uow.LockWallets(ctx, []int64{f.user.ID, 9999})
		return err
	})
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestGormStoreLookupsReturnSentinels(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()

	_, err := s.GetAssetByCode(ctx, "SILVER")
	assert.ErrorIs(t, err, ErrAssetNotFound)

	_, err = s.GetWallet(ctx, "ghost", f.asset.ID)
	assert.ErrorIs(t, err, ErrWalletNotFound)

	rec, err := s.GetIdempotency(ctx, "missing", "user_123")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestGormStoreListEntriesNewestFirst(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()

	require.NoError(t, transfer(ctx, s, f, "tx-1", "K1", -10))
	require.NoError(t, transfer(ctx, s, f, "tx-2", "K2", 5))

	entries, err := s.ListEntriesByWallet(ctx, f.user.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		assert.True(t, !prev.CreatedAt.Before(cur.CreatedAt), "created_at 倒序")
		if prev.CreatedAt.Equal(cur.CreatedAt) {
			assert.Greater(t, prev.ID, cur.ID)
		}
	}
}

func TestGormStoreAuditQueries(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()

	require.NoError(t, transfer(ctx, s, f, "tx-1", "K1", -30))

	unbalanced, err := s.UnbalancedTransactions(ctx, model.ReasonOpening)
	require.NoError(t, err)
	assert.Empty(t, unbalanced)

	sums, err := s.SumEntriesByWallet(ctx)
	require.NoError(t, err)
	byWallet := map[int64]int64{}
	for _, ws := range sums {
		byWallet[ws.WalletID] = ws.Sum
	}
	assert.Equal(t, int64(70), byWallet[f.user.ID])
	assert.Equal(t, int64(1030), byWallet[f.treasury.ID])

	// 直接写入一条单边流水，对账应能发现
	require.NoError(t, s.Ledger().Append(ctx, nil, &model.LedgerEntry{TransactionID: "tx-bad", WalletID: f.user.ID, Amount: 1, Reason: "SPEND"}))
	unbalanced, err = s.UnbalancedTransactions(ctx, model.ReasonOpening)
	require.NoError(t, err)
	require.Len(t, unbalanced, 1)
	assert.Equal(t, "tx-bad", unbalanced[0].TransactionID)
	assert.Equal(t, int64(1), unbalanced[0].Sum)
	assert.Equal(t, int64(1), unbalanced[0].Entries)

	wallets, err := s.ListWallets(ctx)
	require.NoError(t, err)
	assert.Len(t, wallets, 2)
}

func TestGormStorePurgeIdempotency(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()

	require.NoError(t, transfer(ctx, s, f, "tx-1", "K1", -1))

	n, err := s.PurgeIdempotencyBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.PurgeIdempotencyBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestTranslateLockError(t *testing.T) {
	lockErrs := []error{
		&mysqldrv.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"},
		&mysqldrv.MySQLError{Number: 1213, Message: "Deadlock found"},
		&pgconn.PgError{Code: "55P03"},
		&pgconn.PgError{Code: "40P01"},
		sqlite3.Error{Code: sqlite3.ErrBusy},
		fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "55P03"}),
	}
	for _, err := range lockErrs {
		assert.ErrorIs(t, translateLockError(err), ErrLockTimeout, err.Error())
	}

	other := &mysqldrv.MySQLError{Number: 1062, Message: "Duplicate entry"}
	assert.Equal(t, error(other), translateLockError(other))
	assert.NoError(t, translateLockError(nil))
}
