// Package memory 进程内账本存储
//
// 语义和 GormStore 一致：钱包级排他锁、事务内暂存写入、提交时校验幂等键唯一。
// 适合本地开发和并发测试，进程退出后数据丢失。
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"walletledger/internal/model"
	"walletledger/internal/repository"
)

type ownerKey struct {
	userID      string
	assetTypeID int64
}

type idempotencyKey struct {
	key    string
	userID string
}

// Store 进程内存储
type Store struct {
	mu sync.RWMutex

	assets       map[int64]*model.AssetType
	assetsByCode map[string]int64
	wallets      map[int64]*model.Wallet
	walletsBy    map[ownerKey]int64
	entries      []*model.LedgerEntry
	idempotency  map[idempotencyKey]*model.IdempotencyRecord
	outbox       []*model.OutboxMessage

	nextAssetID  int64
	nextWalletID int64
	nextEntryID  int64
	nextOutboxID int64

	locksMu sync.Mutex
	locks   map[int64]chan struct{}

	lockTimeout time.Duration
	now         func() time.Time
}

type Option func(*Store)

// WithLockTimeout 等待单个钱包锁的最长时间，0 表示一直等待
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// WithClock 测试时固定时间
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		assets:       make(map[int64]*model.AssetType),
		assetsByCode: make(map[string]int64),
		wallets:      make(map[int64]*model.Wallet),
		walletsBy:    make(map[ownerKey]int64),
		idempotency:  make(map[idempotencyKey]*model.IdempotencyRecord),
		locks:        make(map[int64]chan struct{}),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) GetIdempotency(ctx context.Context, key, userID string) (*model.IdempotencyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.idempotency[idempotencyKey{key: key, userID: userID}]
	if !ok {
		return nil, nil
	}
	cp := *record
	return &cp, nil
}

func (s *Store) GetAssetByCode(ctx context.Context, code string) (*model.AssetType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.assetsByCode[code]
	if !ok {
		return nil, repository.ErrAssetNotFound
	}
	cp := *s.assets[id]
	return &cp, nil
}

func (s *Store) GetWallet(ctx context.Context, userID string, assetTypeID int64) (*model.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.walletsBy[ownerKey{userID: userID, assetTypeID: assetTypeID}]
	if !ok {
		return nil, repository.ErrWalletNotFound
	}
	cp := *s.wallets[id]
	return &cp, nil
}

func (s *Store) ListEntriesByWallet(ctx context.Context, walletID int64) ([]*model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.LedgerEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].WalletID == walletID {
			cp := *s.entries[i]
			result = append(result, &cp)
		}
	}
	// 倒序遍历得到 id 倒序，稳定排序后同一时刻的流水仍按 id 倒序
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Entries 全部流水的快照，按写入顺序
func (s *Store) Entries() []model.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.LedgerEntry, len(s.entries))
	for i, e := range s.entries {
		result[i] = *e
	}
	return result
}

// OutboxMessages 已提交的本地消息快照
func (s *Store) OutboxMessages() []model.OutboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.OutboxMessage, len(s.outbox))
	for i, m := range s.outbox {
		result[i] = *m
	}
	return result
}

// WithinUnitOfWork 写操作先暂存在 unitOfWork 上，fn 成功后一次性提交
func (s *Store) WithinUnitOfWork(ctx context.Context, fn func(uow repository.UnitOfWork) error) error {
	uow := &unitOfWork{
		store:   s,
		wallets: make(map[int64]*model.Wallet),
	}
	defer uow.release()

	if err := fn(uow); err != nil {
		return err
	}
	return uow.commit()
}

// ============================================================================
// 钱包锁
// ============================================================================

func (s *Store) walletLock(id int64) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	ch, ok := s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[id] = ch
	}
	return ch
}

func (s *Store) acquire(ctx context.Context, id int64) error {
	ch := s.walletLock(id)

	var timeout <-chan time.Time
	if s.lockTimeout > 0 {
		timer := time.NewTimer(s.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case ch <- struct{}{}:
		return nil
	case <-timeout:
		return fmt.Errorf("%w: wallet %d", repository.ErrLockTimeout, id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) releaseLock(id int64) {
	<-s.walletLock(id)
}

// ============================================================================
// 工作单元
// ============================================================================

type unitOfWork struct {
	store *Store

	held    []int64
	wallets map[int64]*model.Wallet // 加锁后读取的副本，暂存余额变更

	entries     []*model.LedgerEntry
	idempotency []*model.IdempotencyRecord
	outbox      []*model.OutboxMessage
}

func (u *unitOfWork) LockWallets(ctx context.Context, ids []int64) ([]*model.Wallet, error) {
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			return nil, fmt.Errorf("%w: %v", repository.ErrLockOrder, ids)
		}
	}
	if len(u.held) > 0 && len(ids) > 0 && ids[0] <= u.held[len(u.held)-1] {
		return nil, fmt.Errorf("%w: 已持有 %v，再次请求 %v", repository.ErrLockOrder, u.held, ids)
	}

	result := make([]*model.Wallet, 0, len(ids))
	for _, id := range ids {
		u.store.mu.RLock()
		_, ok := u.store.wallets[id]
		u.store.mu.RUnlock()
		if !ok {
			return nil, repository.ErrWalletNotFound
		}

		if err := u.store.acquire(ctx, id); err != nil {
			return nil, err
		}
		u.held = append(u.held, id)

		// 加锁后重新读取，加锁前读到的余额可能已经过期
		u.store.mu.RLock()
		cp := *u.store.wallets[id]
		u.store.mu.RUnlock()

		u.wallets[id] = &cp
		out := cp
		result = append(result, &out)
	}
	return result, nil
}

func (u *unitOfWork) AppendEntry(ctx context.Context, entry *model.LedgerEntry) error {
	if _, ok := u.wallets[entry.WalletID]; !ok {
		return fmt.Errorf("钱包 %d 未加锁，不能写入流水", entry.WalletID)
	}
	u.entries = append(u.entries, entry)
	return nil
}

func (u *unitOfWork) ApplyDelta(ctx context.Context, wallet *model.Wallet, delta int64) error {
	staged, ok := u.wallets[wallet.ID]
	if !ok {
		return fmt.Errorf("钱包 %d 未加锁，不能变更余额", wallet.ID)
	}
	if staged.Balance+delta < 0 {
		return repository.ErrInsufficientFunds
	}
	staged.Balance += delta
	wallet.Balance = staged.Balance
	return nil
}

func (u *unitOfWork) PutIdempotency(ctx context.Context, record *model.IdempotencyRecord) error {
	u.store.mu.RLock()
	_, exists := u.store.idempotency[idempotencyKey{key: record.Key, userID: record.UserID}]
	u.store.mu.RUnlock()
	if exists {
		return repository.ErrDuplicateIdempotencyKey
	}
	for _, r := range u.idempotency {
		if r.Key == record.Key && r.UserID == record.UserID {
			return repository.ErrDuplicateIdempotencyKey
		}
	}
	u.idempotency = append(u.idempotency, record)
	return nil
}

func (u *unitOfWork) EnqueueOutbox(ctx context.Context, msg *model.OutboxMessage) error {
	u.outbox = append(u.outbox, msg)
	return nil
}

// commit 在存储全局锁内校验唯一约束并落地全部暂存写入
func (u *unitOfWork) commit() error {
	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range u.idempotency {
		if _, exists := s.idempotency[idempotencyKey{key: r.Key, userID: r.UserID}]; exists {
			return repository.ErrDuplicateIdempotencyKey
		}
	}
	for id, w := range u.wallets {
		if w.Balance < 0 {
			return fmt.Errorf("%w: wallet %d", repository.ErrInsufficientFunds, id)
		}
	}

	now := s.now()
	for _, e := range u.entries {
		s.nextEntryID++
		e.ID = s.nextEntryID
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		cp := *e
		s.entries = append(s.entries, &cp)
	}
	for id, w := range u.wallets {
		current := s.wallets[id]
		if current.Balance != w.Balance {
			current.Balance = w.Balance
			current.UpdatedAt = now
		}
	}
	for _, r := range u.idempotency {
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		cp := *r
		s.idempotency[idempotencyKey{key: r.Key, userID: r.UserID}] = &cp
	}
	for _, m := range u.outbox {
		s.nextOutboxID++
		m.ID = s.nextOutboxID
		if m.Status == "" {
			m.Status = model.OutboxStatusPending
		}
		m.CreatedAt = now
		m.UpdatedAt = now
		cp := *m
		s.outbox = append(s.outbox, &cp)
	}
	return nil
}

func (u *unitOfWork) release() {
	for i := len(u.held) - 1; i >= 0; i-- {
		u.store.releaseLock(u.held[i])
	}
	u.held = nil
}

// ============================================================================
// 对账与初始化
// ============================================================================

func (s *Store) ListWallets(ctx context.Context) ([]*model.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*model.Wallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		cp := *w
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) SumEntriesByWallet(ctx context.Context) ([]repository.WalletSum, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sums := make(map[int64]int64)
	for _, e := range s.entries {
		sums[e.WalletID] += e.Amount
	}
	result := make([]repository.WalletSum, 0, len(sums))
	for id, sum := range sums {
		result = append(result, repository.WalletSum{WalletID: id, Sum: sum})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].WalletID < result[j].WalletID })
	return result, nil
}

func (s *Store) UnbalancedTransactions(ctx context.Context, excludeReason string) ([]repository.TransactionSum, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type agg struct{ sum, n int64 }
	byTx := make(map[string]*agg)
	var order []string
	for _, e := range s.entries {
		if e.Reason == excludeReason {
			continue
		}
		a, ok := byTx[e.TransactionID]
		if !ok {
			a = &agg{}
			byTx[e.TransactionID] = a
			order = append(order, e.TransactionID)
		}
		a.sum += e.Amount
		a.n++
	}

	var result []repository.TransactionSum
	for _, id := range order {
		a := byTx[id]
		if a.sum != 0 || a.n != 2 {
			result = append(result, repository.TransactionSum{TransactionID: id, Sum: a.sum, Entries: a.n})
		}
	}
	return result, nil
}

func (s *Store) EnsureAsset(ctx context.Context, code, name string) (*model.AssetType, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.assetsByCode[code]; ok {
		cp := *s.assets[id]
		return &cp, false, nil
	}

	s.nextAssetID++
	asset := &model.AssetType{ID: s.nextAssetID, Code: code, Name: name, CreatedAt: s.now()}
	s.assets[asset.ID] = asset
	s.assetsByCode[code] = asset.ID
	cp := *asset
	return &cp, true, nil
}

func (s *Store) EnsureWallet(ctx context.Context, userID string, assetTypeID int64, opening int64) (*model.Wallet, bool, error) {
	if opening < 0 {
		return nil, false, repository.ErrInsufficientFunds
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assets[assetTypeID]; !ok {
		return nil, false, repository.ErrAssetNotFound
	}

	key := ownerKey{userID: userID, assetTypeID: assetTypeID}
	if id, ok := s.walletsBy[key]; ok {
		cp := *s.wallets[id]
		return &cp, false, nil
	}

	now := s.now()
	s.nextWalletID++
	wallet := &model.Wallet{
		ID:          s.nextWalletID,
		UserID:      userID,
		AssetTypeID: assetTypeID,
		Balance:     opening,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.wallets[wallet.ID] = wallet
	s.walletsBy[key] = wallet.ID

	if opening > 0 {
		s.nextEntryID++
		s.entries = append(s.entries, &model.LedgerEntry{
			ID:            s.nextEntryID,
			TransactionID: repository.OpeningTransactionID(wallet.ID),
			WalletID:      wallet.ID,
			Amount:        opening,
			Reason:        model.ReasonOpening,
			CreatedAt:     now,
		})
	}

	cp := *wallet
	return &cp, true, nil
}

func (s *Store) PurgeIdempotencyBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, r := range s.idempotency {
		if r.CreatedAt.Before(before) {
			delete(s.idempotency, k)
			n++
		}
	}
	return n, nil
}

var (
	_ repository.Store       = (*Store)(nil)
	_ repository.AuditReader = (*Store)(nil)
	_ repository.Provisioner = (*Store)(nil)
)
