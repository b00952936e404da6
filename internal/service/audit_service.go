package service

import (
	"context"
	"fmt"

	"walletledger/internal/model"
	"walletledger/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// AuditService 账本对账
type AuditService struct {
	reader repository.AuditReader
	logger *zap.Logger
}

func NewAuditService(reader repository.AuditReader, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{reader: reader, logger: logger}
}

// WalletMismatch 余额和流水汇总不一致的钱包
type WalletMismatch struct {
	WalletID    int64  `json:"wallet_id"`
	UserID      string `json:"user_id"`
	AssetTypeID int64  `json:"asset_type_id"`
	Balance     int64  `json:"balance"`
	EntrySum    int64  `json:"entry_sum"`
}

type AuditReport struct {
	WalletsChecked int                         `json:"wallets_checked"`
	Mismatches     []WalletMismatch            `json:"mismatches"`
	Negative       []WalletMismatch            `json:"negative"`
	Unbalanced     []repository.TransactionSum `json:"unbalanced"`
}

// OK 三项检查全部通过
func (r *AuditReport) OK() bool {
	return len(r.Mismatches) == 0 && len(r.Negative) == 0 && len(r.Unbalanced) == 0
}

// Verify 检查：
//   - 每笔交易两条流水且金额之和为 0（期初流水除外）
//   - 每个钱包余额等于其全部流水之和
//   - 没有负余额
func (s *AuditService) Verify(ctx context.Context) (*AuditReport, error) {
	var (
		wallets    []*model.Wallet
		sums       []repository.WalletSum
		unbalanced []repository.TransactionSum
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		wallets, err = s.reader.ListWallets(gctx)
		if err != nil {
			return fmt.Errorf("查询钱包失败: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		sums, err = s.reader.SumEntriesByWallet(gctx)
		if err != nil {
			return fmt.Errorf("汇总流水失败: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		unbalanced, err = s.reader.UnbalancedTransactions(gctx, model.ReasonOpening)
		if err != nil {
			return fmt.Errorf("查询不平交易失败: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, newError(KindStorageFailure, "对账失败", err)
	}

	bySum := make(map[int64]int64, len(sums))
	for _, ws := range sums {
		bySum[ws.WalletID] = ws.Sum
	}

	report := &AuditReport{
		WalletsChecked: len(wallets),
		Unbalanced:     unbalanced,
	}
	for _, w := range wallets {
		row := WalletMismatch{
			WalletID:    w.ID,
			UserID:      w.UserID,
			AssetTypeID: w.AssetTypeID,
			Balance:     w.Balance,
			EntrySum:    bySum[w.ID],
		}
		if row.Balance != row.EntrySum {
			report.Mismatches = append(report.Mismatches, row)
		}
		if row.Balance < 0 {
			report.Negative = append(report.Negative, row)
		}
	}

	if report.OK() {
		s.logger.Info("对账通过", zap.Int("wallets", report.WalletsChecked))
	} else {
		s.logger.Error("对账发现异常",
			zap.Int("mismatches", len(report.Mismatches)),
			zap.Int("negative", len(report.Negative)),
			zap.Int("unbalanced", len(report.Unbalanced)),
		)
	}
	return report, nil
}
