package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"walletledger/internal/infrastructure/metrics"
	"walletledger/internal/model"
	"walletledger/internal/repository"
	"walletledger/pkg/idgen"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultTreasuryUserID 系统金库账户，所有用户交易的对手方
const DefaultTreasuryUserID = "SYSTEM_TREASURY"

// ReplayCache 幂等响应缓存，未命中返回 nil, nil
type ReplayCache interface {
	Get(ctx context.Context, key, userID string) (*model.IdempotencyRecord, error)
	Put(ctx context.Context, record *model.IdempotencyRecord) error
}

type TransactionService struct {
	store  repository.Store
	logger *zap.Logger

	treasuryUserID string
	eventTopic     string
	replay         ReplayCache
	metrics        *metrics.Metrics
	newTxID        func() string
	newEventID     func() int64
	now            func() time.Time
}

type TransactionOption func(*TransactionService)

func WithTreasuryUserID(userID string) TransactionOption {
	return func(s *TransactionService) {
		if userID != "" {
			s.treasuryUserID = userID
		}
	}
}

// WithEventTopic outbox 消息投递的 Kafka topic
func WithEventTopic(topic string) TransactionOption {
	return func(s *TransactionService) {
		if topic != "" {
			s.eventTopic = topic
		}
	}
}

func WithReplayCache(cache ReplayCache) TransactionOption {
	return func(s *TransactionService) { s.replay = cache }
}

func WithMetrics(m *metrics.Metrics) TransactionOption {
	return func(s *TransactionService) { s.metrics = m }
}

func WithTxIDGenerator(gen func() string) TransactionOption {
	return func(s *TransactionService) { s.newTxID = gen }
}

func NewTransactionService(store repository.Store, logger *zap.Logger, opts ...TransactionOption) *TransactionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &TransactionService{
		store:          store,
		logger:         logger,
		treasuryUserID: DefaultTreasuryUserID,
		eventTopic:     model.EventTransactionCommitted,
		newTxID:        func() string { return uuid.NewString() },
		newEventID:     idgen.NextID,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitRequest 交易请求
type SubmitRequest struct {
	IdempotencyKey  string
	UserID          string
	Amount          int64
	TransactionType string
	AssetCode       string
}

// TransactionResult 交易结果，序列化后即为幂等记录里保存的响应
type TransactionResult struct {
	TxID            string                `json:"tx_id"`
	UserID          string                `json:"user_id"`
	TransactionType model.TransactionType `json:"transaction_type"`
	Amount          int64                 `json:"amount"`
	NewBalance      int64                 `json:"new_balance"`
	AssetTypeID     int64                 `json:"asset_type_id"`
	AssetCode       string                `json:"asset_code"`

	// Raw 原始响应字节，重放时和第一次返回的完全一致
	Raw json.RawMessage `json:"-"`
	// Replayed 是否为幂等重放
	Replayed bool `json:"-"`
}

// validated 通过参数校验后的请求
type validated struct {
	key         string
	userID      string
	amount      int64
	txType      model.TransactionType
	assetCode   string
	fingerprint string
}

// ============================================================================
// 交易主流程
// ============================================================================
//
// 1. 参数校验（不加锁、不访问存储）
// 2. 幂等快速路径：缓存 -> 数据库，命中且指纹一致直接返回
// 3. 解析资产和双方钱包（锁外读取，仅用于确定加锁对象）
// 4. 工作单元内：按钱包 ID 升序加锁 -> 重新读取 -> 校验余额 -> 两条流水
//    -> 更新余额 -> 幂等记录 -> outbox 消息，一起提交
// 5. 提交时幂等键冲突说明有并发的相同请求，按重放处理
//
// ============================================================================

// Submit 执行一笔交易
func (s *TransactionService) Submit(ctx context.Context, req *SubmitRequest) (result *TransactionResult, err error) {
	started := s.now()
	defer func() {
		s.observe(req, result, err, started)
	}()

	in, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	if result, err := s.fastPath(ctx, in); result != nil || err != nil {
		return result, err
	}

	asset, err := s.store.GetAssetByCode(ctx, in.assetCode)
	if err != nil {
		return nil, translateStoreError(err)
	}
	userWallet, err := s.store.GetWallet(ctx, in.userID, asset.ID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	treasuryWallet, err := s.store.GetWallet(ctx, s.treasuryUserID, asset.ID)
	if err != nil {
		return nil, translateStoreError(err)
	}

	var record *model.IdempotencyRecord
	err = s.store.WithinUnitOfWork(ctx, func(uow repository.UnitOfWork) error {
		var execErr error
		result, record, execErr = s.execute(ctx, uow, in, asset, userWallet.ID, treasuryWallet.ID)
		return execErr
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
			return s.resolveRace(ctx, in)
		}
		return nil, translateStoreError(err)
	}

	s.logger.Info("交易已提交",
		zap.String("tx_id", result.TxID),
		zap.String("user_id", in.userID),
		zap.String("transaction_type", string(in.txType)),
		zap.String("asset_code", in.assetCode),
		zap.Int64("amount", in.amount),
		zap.Int64("new_balance", result.NewBalance),
	)

	s.cachePut(ctx, record)
	return result, nil
}

func (s *TransactionService) validate(req *SubmitRequest) (*validated, error) {
	if req == nil {
		return nil, invalidInput("请求不能为空")
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return nil, ErrMissingIdempotencyKey
	}
	if utf8.RuneCountInString(req.IdempotencyKey) > model.MaxIdempotencyKeyLength {
		return nil, invalidInput(fmt.Sprintf("Idempotency-Key 长度不能超过 %d", model.MaxIdempotencyKeyLength))
	}
	if req.UserID == s.treasuryUserID {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, invalidInput("user_id 不能为空")
	}
	if utf8.RuneCountInString(req.UserID) > model.MaxUserIDLength {
		return nil, invalidInput(fmt.Sprintf("user_id 长度不能超过 %d", model.MaxUserIDLength))
	}
	if req.Amount <= 0 {
		return nil, invalidInput("amount 必须为正整数")
	}

	txType, err := model.ParseTransactionType(req.TransactionType)
	if err != nil {
		return nil, newError(KindInvalidInput, "transaction_type 必须为 TOPUP、BONUS 或 SPEND", err)
	}

	assetCode := model.NormalizeAssetCode(req.AssetCode)
	if assetCode == "" {
		return nil, invalidInput("asset_code 不能为空")
	}

	fingerprint, err := Fingerprint(req.UserID, req.Amount, txType, assetCode)
	if err != nil {
		return nil, newError(KindInvalidInput, "计算请求指纹失败", err)
	}

	return &validated{
		key:         req.IdempotencyKey,
		userID:      req.UserID,
		amount:      req.Amount,
		txType:      txType,
		assetCode:   assetCode,
		fingerprint: fingerprint,
	}, nil
}

// fastPath 幂等快速路径，两个返回值都为 nil 表示未命中
func (s *TransactionService) fastPath(ctx context.Context, in *validated) (*TransactionResult, error) {
	if s.replay != nil {
		record, err := s.replay.Get(ctx, in.key, in.userID)
		if err != nil {
			s.logger.Warn("读取幂等缓存失败，回退到数据库", zap.String("user_id", in.userID), zap.Error(err))
		} else if record != nil {
			return s.replayRecord(record, in, metrics.ReplaySourceCache)
		}
	}

	record, err := s.store.GetIdempotency(ctx, in.key, in.userID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if record == nil {
		return nil, nil
	}

	result, err := s.replayRecord(record, in, metrics.ReplaySourceStore)
	if err == nil {
		s.cachePut(ctx, record)
	}
	return result, err
}

// execute 工作单元内的全部写操作，返回错误即整体回滚
func (s *TransactionService) execute(
	ctx context.Context,
	uow repository.UnitOfWork,
	in *validated,
	asset *model.AssetType,
	userWalletID, treasuryWalletID int64,
) (*TransactionResult, *model.IdempotencyRecord, error) {
	ids := []int64{userWalletID, treasuryWalletID}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	// 加锁后重新读取的余额才是准确的
	locked, err := uow.LockWallets(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	var userWallet, treasuryWallet *model.Wallet
	for _, w := range locked {
		switch w.ID {
		case userWalletID:
			userWallet = w
		case treasuryWalletID:
			treasuryWallet = w
		}
	}
	if userWallet == nil || treasuryWallet == nil {
		return nil, nil, repository.ErrWalletNotFound
	}

	userDelta, treasuryDelta := in.txType.Deltas(in.amount)
	if userWallet.Balance+userDelta < 0 {
		return nil, nil, newError(KindInsufficientFunds, "余额不足", nil)
	}
	if treasuryWallet.Balance+treasuryDelta < 0 {
		return nil, nil, newError(KindInsufficientFunds, "金库余额不足", nil)
	}

	txID := s.newTxID()
	entries := []*model.LedgerEntry{
		{TransactionID: txID, WalletID: userWallet.ID, Amount: userDelta, Reason: string(in.txType)},
		{TransactionID: txID, WalletID: treasuryWallet.ID, Amount: treasuryDelta, Reason: string(in.txType)},
	}
	for _, entry := range entries {
		if err := uow.AppendEntry(ctx, entry); err != nil {
			return nil, nil, fmt.Errorf("写入流水失败: %w", err)
		}
	}
	if err := uow.ApplyDelta(ctx, userWallet, userDelta); err != nil {
		return nil, nil, err
	}
	if err := uow.ApplyDelta(ctx, treasuryWallet, treasuryDelta); err != nil {
		return nil, nil, err
	}

	result := &TransactionResult{
		TxID:            txID,
		UserID:          in.userID,
		TransactionType: in.txType,
		Amount:          in.amount,
		NewBalance:      userWallet.Balance,
		AssetTypeID:     userWallet.AssetTypeID,
		AssetCode:       asset.Code,
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, nil, fmt.Errorf("序列化响应失败: %w", err)
	}
	result.Raw = raw

	record := &model.IdempotencyRecord{
		Key:             in.key,
		UserID:          in.userID,
		RequestHash:     in.fingerprint,
		ResponsePayload: string(raw),
	}
	if err := uow.PutIdempotency(ctx, record); err != nil {
		return nil, nil, err
	}

	msg, err := s.buildEvent(result, userDelta)
	if err != nil {
		return nil, nil, err
	}
	if err := uow.EnqueueOutbox(ctx, msg); err != nil {
		return nil, nil, fmt.Errorf("写入消息失败: %w", err)
	}

	return result, record, nil
}

func (s *TransactionService) buildEvent(result *TransactionResult, userDelta int64) (*model.OutboxMessage, error) {
	event := model.LedgerEvent{
		EventID:         s.newEventID(),
		EventType:       model.EventTransactionCommitted,
		TransactionID:   result.TxID,
		UserID:          result.UserID,
		AssetTypeID:     result.AssetTypeID,
		AssetCode:       result.AssetCode,
		TransactionType: result.TransactionType,
		Amount:          result.Amount,
		UserDelta:       userDelta,
		NewBalance:      result.NewBalance,
		OccurredAt:      s.now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("序列化事件失败: %w", err)
	}

	// 以用户 ID 作为分区键，同一用户的事件有序
	return &model.OutboxMessage{
		MessageKey: result.UserID,
		Topic:      s.eventTopic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}, nil
}

// resolveRace 并发的相同请求只有一个能写入幂等记录，失败的一方读取胜者的结果
func (s *TransactionService) resolveRace(ctx context.Context, in *validated) (*TransactionResult, error) {
	s.logger.Warn("幂等键并发写入冲突，按重放处理",
		zap.String("user_id", in.userID),
		zap.String("idempotency_key", in.key),
	)

	record, err := s.store.GetIdempotency(ctx, in.key, in.userID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if record == nil {
		return nil, newError(KindStorageFailure, "幂等键冲突但未找到已提交的记录", repository.ErrDuplicateIdempotencyKey)
	}
	result, err := s.replayRecord(record, in, metrics.ReplaySourceRace)
	if err == nil {
		s.cachePut(ctx, record)
	}
	return result, err
}

// replayRecord 指纹一致返回保存的响应，否则为幂等冲突
func (s *TransactionService) replayRecord(record *model.IdempotencyRecord, in *validated, source string) (*TransactionResult, error) {
	if record.RequestHash != in.fingerprint {
		return nil, ErrIdempotencyConflict
	}

	result := &TransactionResult{}
	if err := json.Unmarshal([]byte(record.ResponsePayload), result); err != nil {
		return nil, newError(KindStorageFailure, "幂等记录已损坏", err)
	}
	result.Raw = json.RawMessage(record.ResponsePayload)
	result.Replayed = true

	s.metrics.ObserveReplay(source)
	s.logger.Debug("幂等重放",
		zap.String("user_id", in.userID),
		zap.String("tx_id", result.TxID),
		zap.String("source", source),
	)
	return result, nil
}

// cachePut 写缓存失败不影响结果，数据库才是权威数据
func (s *TransactionService) cachePut(ctx context.Context, record *model.IdempotencyRecord) {
	if s.replay == nil || record == nil {
		return
	}
	if err := s.replay.Put(ctx, record); err != nil {
		s.logger.Warn("写入幂等缓存失败", zap.String("user_id", record.UserID), zap.Error(err))
	}
}

func (s *TransactionService) observe(req *SubmitRequest, result *TransactionResult, err error, started time.Time) {
	if s.metrics == nil {
		return
	}
	txType := ""
	if req != nil {
		txType = req.TransactionType
		if _, parseErr := model.ParseTransactionType(txType); parseErr != nil {
			txType = "UNKNOWN"
		}
	}

	var outcome string
	switch {
	case err == nil && result != nil && result.Replayed:
		outcome = metrics.OutcomeReplayed
	case err == nil:
		outcome = metrics.OutcomeCommitted
	case Retryable(err):
		outcome = metrics.OutcomeFailed
	default:
		outcome = metrics.OutcomeRejected
	}
	s.metrics.ObserveTransaction(strings.TrimSpace(txType), outcome, started)
}
