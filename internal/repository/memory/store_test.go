package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"walletledger/internal/model"
	"walletledger/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s *Store) (asset *model.AssetType, treasury, user *model.Wallet) {
	t.Helper()
	ctx := context.Background()
	asset, _, err := s.EnsureAsset(ctx, "GOLD_COIN", "Gold Coins")
	require.NoError(t, err)
	treasury, _, err = s.EnsureWallet(ctx, "SYSTEM_TREASURY", asset.ID, 1000)
	require.NoError(t, err)
	user, _, err = s.EnsureWallet(ctx, "user_123", asset.ID, 100)
	require.NoError(t, err)
	return asset, treasury, user
}

func TestWritesInvisibleUntilCommit(t *testing.T) {
	s := New()
	asset, treasury, user := seed(t, s)
	ctx := context.Background()

	err := s.WithinUnitOfWork(ctx, func(uow repository.UnitOfWork) error {
		locked, err := uow.LockWallets(ctx, []int64{treasury.ID, user.ID})
		require.NoError(t, err)
		require.NoError(t, uow.AppendEntry(ctx, &model.LedgerEntry{TransactionID: "tx", WalletID: user.ID, Amount: -10, Reason: "SPEND"}))
		require.NoError(t, uow.AppendEntry(ctx, &model.LedgerEntry{TransactionID: "tx", WalletID: treasury.ID, Amount: 10, Reason: "SPEND"}))
		require.NoError(t, uow.ApplyDelta(ctx, locked[1], -10))
		require.NoError(t, uow.ApplyDelta(ctx, locked[0], 10))
		assert.Equal(t, int64(90), locked[1].Balance)

		// 提交前其他读者看到的仍是旧值
		w, err := s.GetWallet(ctx, "user_123", asset.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(100), w.Balance)
		return nil
	})
	require.NoError(t, err)

	w, err := s.GetWallet(ctx, "user_123", asset.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(90), w.Balance)
	assert.Len(t, s.Entries(), 4)
}

func TestRollbackDiscardsStagedWrites(t *testing.T) {
	s := New()
	asset, treasury, user := seed(t, s)
	ctx := context.Background()

	err := s.WithinUnitOfWork(ctx, func(uow repository.UnitOfWork) error {
		locked, err := uow.LockWallets(ctx, []int64{treasury.ID, user.ID})
		if err != nil {
			return err
		}
		_ = uow.AppendEntry(ctx, &model.LedgerEntry{TransactionID: "tx", WalletID: user.ID, Amount: -10, Reason: "SPEND"})
		_ = uow.ApplyDelta(ctx, locked[1], -10)
		_ = uow.PutIdempotency(ctx, &model.IdempotencyRecord{Key: "k", UserID: "user_123", RequestHash: "h", ResponsePayload: "{}"})
		_ = uow.EnqueueOutbox(ctx, &model.OutboxMessage{MessageKey: "user_123", Topic: "t", Payload: "{}"})
		return errors.New("abort")
	})
	require.Error(t, err)

	w, err := s.GetWallet(ctx, "user_123", asset.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), w.Balance)
	assert.Len(t, s.Entries(), 2)
	assert.Empty(t, s.OutboxMessages())
	rec, err := s.GetIdempotency(ctx, "k", "user_123")
	require.NoError(t, err)
	assert.Nil(t, rec)

	// 锁已释放
	err = s.WithinUnitOfWork(ctx, func(uow repository.UnitOfWork) error {
		_, err := uow.LockWallets(ctx, []int64{treasury.ID, user.ID})
		return err
	})
	assert.NoError(t, err)
}

func TestLockRules(t *testing.T) {
	s := New()
	_, treasury, user := seed(t, s)
	ctx := context.Background()

	err := s.WithinUnitOfWork(ctx, func(uow repository.UnitOfWork) error {
		_, err := uow.LockWallets(ctx, []int64{user.ID, treasury.ID})
		return err
	})
	assert.ErrorIs(t, err, repository.ErrLockOrder)

	err = s.WithinUnitOfWork(ctx, func(uow repository.UnitOfWork) error {
		if _, err := uow.LockWallets(ctx, []int64{user.ID}); err != nil {
			return err
		}
		// 已持有更大的 ID 后不能再锁更小的
		_, err := uow.LockWallets(ctx, []int64{treasury.ID})
		return err
	})
	assert.ErrorIs(t, err, repository.ErrLockOrder)

	err = s.WithinUnitOfWork(ctx, func(uow repository.UnitOfWork) error {
		_, err := uow.LockWallets(ctx, []int64{404})
		return err
	})
	assert.ErrorIs(t, err, repository.ErrWalletNotFound)

	err = s.WithinUnitOfWork(ctx, func(uow repository.UnitOfWork) error {
		return uow.AppendEntry(ctx, &model.LedgerEntry{TransactionID: "tx", WalletID: user.ID, Amount: 1})
	})
	assert.Error(t, err, "未加锁的钱包不能写流水")
}

func TestApplyDeltaRejectsNegative(t *testing.T) {
	s := New()
	_, _, user := seed(t, s)
	ctx := context.Background()

	err := s.WithinUnitOfWork(ctx, func(uow repository.UnitOfWork) error {
		locked, err := uow.LockWallets(ctx, []int64{user.ID})
		if err != nil {
			return err
		}
		err = uow.ApplyDelta(ctx, locked[0], -101)
		assert.Equal(t, int64(100), locked[0].Balance)
		return err
	})
	assert.ErrorIs(t, err, repository.ErrInsufficientFunds)
}

func TestLockTimeout(t *testing.T) {
	s := New(WithLockTimeout(20 * time.Millisecond))
	_, _, user := seed(t, s)
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.WithinUnitOfWork(ctx, func(uow repository.UnitOfWork) error {
			_, err := uow.LockWallets(ctx, []int64{user.ID})
			close(held)
			<-release
			return err
		})
	}()
	<-held

	err := s.WithinUnitOfWork(ctx, func(uow repository.UnitOfWork) error {
		_, err := uow.LockWallets(ctx, []int64{user.ID})
		return err
	})
	assert.ErrorIs(t, err, repository.ErrLockTimeout)

	close(release)
	wg.Wait()
}

func TestLockRespectsContext(t *testing.T) {
	s := New()
	_, _, user := seed(t, s)

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.WithinUnitOfWork(context.Background(), func(uow repository.UnitOfWork) error {
			_, err := uow.LockWallets(context.Background(), []int64{user.ID})
			close(held)
			<-release
			return err
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.WithinUnitOfWork(ctx, func(uow repository.UnitOfWork) error {
		_, err := uow.LockWallets(ctx, []int64{user.ID})
		return err
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done
}

func TestDuplicateIdempotencyDetectedAtCommit(t *testing.T) {
	s := New()
	ctx := context.Background()
	record := func() *model.IdempotencyRecord {
		return &model.IdempotencyRecord{Key: "k", UserID: "u", RequestHash: "h", ResponsePayload: "{}"}
	}

	// 两个工作单元都在对方提交前写入，后提交的一方失败
	firstStaged := make(chan struct{})
	secondStaged := make(chan struct{})
	firstCommitted := make(chan struct{})
	errs := make(chan error, 2)

	go func() {
		err := s.WithinUnitOfWork(ctx, func(uow repository.UnitOfWork) error {
			if err := uow.PutIdempotency(ctx, record()); err != nil {
				return err
			}
			close(firstStaged)
			<-secondStaged
			return nil
		})
		close(firstCommitted)
		errs <- err
	}()
	<-firstStaged
	go func() {
		errs <- s.WithinUnitOfWork(ctx, func(uow repository.UnitOfWork) error {
			err := uow.PutIdempotency(ctx, record())
			close(secondStaged)
			if err != nil {
				return err
			}
			<-firstCommitted
			return nil
		})
	}()

	var dup, ok int
	for i := 0; i < 2; i++ {
		err := <-errs
		switch {
		case err == nil:
			ok++
		case errors.Is(err, repository.ErrDuplicateIdempotencyKey):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, dup)
}

func TestConcurrentTransfersConserveBalance(t *testing.T) {
	s := New()
	asset, treasury, user := seed(t, s)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.WithinUnitOfWork(ctx, func(uow repository.UnitOfWork) error {
				locked, err := uow.LockWallets(ctx, []int64{treasury.ID, user.ID})
				if err != nil {
					return err
				}
				if err := uow.ApplyDelta(ctx, locked[1], -3); err != nil {
					return err
				}
				return uow.ApplyDelta(ctx, locked[0], 3)
			})
		}()
	}
	wg.Wait()

	u, err := s.GetWallet(ctx, "user_123", asset.ID)
	require.NoError(t, err)
	tr, err := s.GetWallet(ctx, "SYSTEM_TREASURY", asset.ID)
	require.NoError(t, err)

	// 100 / 3 = 33 笔成功
	assert.Equal(t, int64(1), u.Balance)
	assert.Equal(t, int64(1099), tr.Balance)
}

func TestPurgeIdempotencyBefore(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, s.WithinUnitOfWork(ctx, func(uow repository.UnitOfWork) error {
		return uow.PutIdempotency(ctx, &model.IdempotencyRecord{Key: "k", UserID: "u", RequestHash: "h", ResponsePayload: "{}"})
	}))

	n, err := s.PurgeIdempotencyBefore(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.PurgeIdempotencyBefore(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestEnsureWalletRequiresAsset(t *testing.T) {
	s := New()
	_, _, err := s.EnsureWallet(context.Background(), "u", 42, 0)
	assert.ErrorIs(t, err, repository.ErrAssetNotFound)
}
