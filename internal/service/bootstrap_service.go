package service

import (
	"context"
	"fmt"

	"walletledger/internal/model"
	"walletledger/internal/repository"

	"go.uber.org/zap"
)

// AssetSeed 初始化的资产类型和金库初始余额
type AssetSeed struct {
	Code          string
	Name          string
	TreasuryFloat int64
}

// WalletSeed 初始化的用户钱包
type WalletSeed struct {
	UserID    string
	AssetCode string
	Balance   int64
}

// SeedPlan 初始化数据
type SeedPlan struct {
	Assets  []AssetSeed
	Wallets []WalletSeed
}

// DefaultSeedPlan 默认资产和演示用户
func DefaultSeedPlan() SeedPlan {
	return SeedPlan{
		Assets: []AssetSeed{
			{Code: "GOLD_COIN", Name: "Gold Coins", TreasuryFloat: 1_000_000},
			{Code: "DIAMOND", Name: "Diamonds", TreasuryFloat: 100_000},
			{Code: "LOYALTY_POINT", Name: "Loyalty Points", TreasuryFloat: 10_000_000},
		},
		Wallets: []WalletSeed{
			{UserID: "user_123", AssetCode: "GOLD_COIN", Balance: 100},
			{UserID: "user_123", AssetCode: "DIAMOND", Balance: 10},
			{UserID: "user_123", AssetCode: "LOYALTY_POINT", Balance: 500},
			{UserID: "user_456", AssetCode: "GOLD_COIN", Balance: 50},
			{UserID: "user_456", AssetCode: "DIAMOND", Balance: 5},
		},
	}
}

// SeedReport 本次新建的记录，已存在的不会出现在这里
type SeedReport struct {
	AssetsCreated  []string `json:"assets_created"`
	WalletsCreated []string `json:"wallets_created"`
}

// BootstrapService 初始化资产类型、金库钱包和用户钱包
//
// 可以重复执行，已存在的记录保持不变。交易流程从不调用这里。
type BootstrapService struct {
	provisioner    repository.Provisioner
	treasuryUserID string
	logger         *zap.Logger
}

func NewBootstrapService(p repository.Provisioner, treasuryUserID string, logger *zap.Logger) *BootstrapService {
	if treasuryUserID == "" {
		treasuryUserID = DefaultTreasuryUserID
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BootstrapService{provisioner: p, treasuryUserID: treasuryUserID, logger: logger}
}

func (s *BootstrapService) Seed(ctx context.Context, plan SeedPlan) (*SeedReport, error) {
	report := &SeedReport{}
	assets := make(map[string]*model.AssetType, len(plan.Assets))

	for _, a := range plan.Assets {
		code := model.NormalizeAssetCode(a.Code)
		if code == "" {
			return nil, invalidInput("资产代码不能为空")
		}

		asset, created, err := s.provisioner.EnsureAsset(ctx, code, a.Name)
		if err != nil {
			return nil, fmt.Errorf("初始化资产 %s 失败: %w", code, err)
		}
		assets[code] = asset
		if created {
			report.AssetsCreated = append(report.AssetsCreated, code)
		}

		_, created, err = s.provisioner.EnsureWallet(ctx, s.treasuryUserID, asset.ID, a.TreasuryFloat)
		if err != nil {
			return nil, fmt.Errorf("初始化金库钱包 %s 失败: %w", code, err)
		}
		if created {
			report.WalletsCreated = append(report.WalletsCreated, s.treasuryUserID+":"+code)
		}
	}

	for _, w := range plan.Wallets {
		code := model.NormalizeAssetCode(w.AssetCode)
		asset, ok := assets[code]
		if !ok {
			s.logger.Warn("资产未初始化，跳过钱包", zap.String("user_id", w.UserID), zap.String("asset_code", code))
			continue
		}

		_, created, err := s.provisioner.EnsureWallet(ctx, w.UserID, asset.ID, w.Balance)
		if err != nil {
			return nil, fmt.Errorf("初始化钱包 %s:%s 失败: %w", w.UserID, code, err)
		}
		if created {
			report.WalletsCreated = append(report.WalletsCreated, w.UserID+":"+code)
		}
	}

	if len(report.AssetsCreated) == 0 && len(report.WalletsCreated) == 0 {
		s.logger.Info("数据已初始化，无需重复执行")
	} else {
		s.logger.Info("初始化完成",
			zap.Strings("assets", report.AssetsCreated),
			zap.Strings("wallets", report.WalletsCreated),
		)
	}
	return report, nil
}
