package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"walletledger/internal/model"
	"walletledger/internal/repository"
	"walletledger/internal/repository/memory"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func seededStore(t *testing.T, opts ...memory.Option) *memory.Store {
	t.Helper()
	store := memory.New(opts...)
	_, err := NewBootstrapService(store, DefaultTreasuryUserID, zap.NewNop()).Seed(context.Background(), DefaultSeedPlan())
	require.NoError(t, err)
	return store
}

func newService(store repository.Store, opts ...TransactionOption) *TransactionService {
	return NewTransactionService(store, zap.NewNop(), opts...)
}

func walletOf(t *testing.T, store repository.Reader, userID, code string) *model.Wallet {
	t.Helper()
	ctx := context.Background()
	asset, err := store.GetAssetByCode(ctx, code)
	require.NoError(t, err)
	wallet, err := store.GetWallet(ctx, userID, asset.ID)
	require.NoError(t, err)
	return wallet
}

func balanceOf(t *testing.T, store repository.Reader, userID, code string) int64 {
	t.Helper()
	return walletOf(t, store, userID, code).Balance
}

func entriesFor(store *memory.Store, txID string) []model.LedgerEntry {
	var result []model.LedgerEntry
	for _, e := range store.Entries() {
		if e.TransactionID == txID {
			result = append(result, e)
		}
	}
	return result
}

// transactionEntries 除期初流水以外的全部流水
func transactionEntries(store *memory.Store) []model.LedgerEntry {
	var result []model.LedgerEntry
	for _, e := range store.Entries() {
		if e.Reason != model.ReasonOpening {
			result = append(result, e)
		}
	}
	return result
}

func spend(key, userID string, amount int64, code string) *SubmitRequest {
	return &SubmitRequest{
		IdempotencyKey:  key,
		UserID:          userID,
		Amount:          amount,
		TransactionType: string(model.TransactionTypeSpend),
		AssetCode:       code,
	}
}

// raceStore 让前 misses 次幂等查询返回未命中，模拟并发请求都错过了快速路径
type raceStore struct {
	repository.Store
	misses int32
}

func (s *raceStore) GetIdempotency(ctx context.Context, key, userID string) (*model.IdempotencyRecord, error) {
	if atomic.AddInt32(&s.misses, -1) >= 0 {
		return nil, nil
	}
	return s.Store.GetIdempotency(ctx, key, userID)
}

type replayID struct {
	key, userID string
}

// fakeReplayCache 进程内的幂等缓存
type fakeReplayCache struct {
	mu      sync.Mutex
	records map[replayID]*model.IdempotencyRecord
	getErr  error
	puts    int
}

func newFakeReplayCache() *fakeReplayCache {
	return &fakeReplayCache{records: make(map[replayID]*model.IdempotencyRecord)}
}

func (c *fakeReplayCache) Get(ctx context.Context, key, userID string) (*model.IdempotencyRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	r, ok := c.records[replayID{key, userID}]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (c *fakeReplayCache) Put(ctx context.Context, record *model.IdempotencyRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *record
	c.records[replayID{record.Key, record.UserID}] = &cp
	c.puts++
	return nil
}
