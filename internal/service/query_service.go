package service

import (
	"context"
	"time"

	"walletledger/internal/model"
	"walletledger/internal/repository"
)

// QueryService 余额和流水查询，只读，不加锁
type QueryService struct {
	reader repository.Reader
}

func NewQueryService(reader repository.Reader) *QueryService {
	return &QueryService{reader: reader}
}

type Balance struct {
	UserID      string `json:"user_id"`
	Balance     int64  `json:"balance"`
	AssetTypeID int64  `json:"asset_type_id"`
	AssetCode   string `json:"asset_code"`
}

type TransactionItem struct {
	TransactionID string    `json:"transaction_id"`
	Amount        int64     `json:"amount"`
	Type          string    `json:"type"`
	CreatedAt     time.Time `json:"created_at"`
}

type TransactionHistory struct {
	UserID         string            `json:"user_id"`
	AssetCode      string            `json:"asset_code"`
	AssetTypeID    int64             `json:"asset_type_id"`
	CurrentBalance int64             `json:"current_balance"`
	Transactions   []TransactionItem `json:"transactions"`
}

func (s *QueryService) GetBalance(ctx context.Context, userID, assetCode string) (*Balance, error) {
	wallet, asset, err := s.resolveWallet(ctx, userID, assetCode)
	if err != nil {
		return nil, err
	}
	return &Balance{
		UserID:      userID,
		Balance:     wallet.Balance,
		AssetTypeID: wallet.AssetTypeID,
		AssetCode:   asset.Code,
	}, nil
}

// ListTransactions 按创建时间倒序返回钱包的全部流水
func (s *QueryService) ListTransactions(ctx context.Context, userID, assetCode string) (*TransactionHistory, error) {
	wallet, asset, err := s.resolveWallet(ctx, userID, assetCode)
	if err != nil {
		return nil, err
	}

	entries, err := s.reader.ListEntriesByWallet(ctx, wallet.ID)
	if err != nil {
		return nil, translateStoreError(err)
	}

	items := make([]TransactionItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, TransactionItem{
			TransactionID: e.TransactionID,
			Amount:        e.Amount,
			Type:          e.Reason,
			CreatedAt:     e.CreatedAt,
		})
	}

	return &TransactionHistory{
		UserID:         userID,
		AssetCode:      asset.Code,
		AssetTypeID:    asset.ID,
		CurrentBalance: wallet.Balance,
		Transactions:   items,
	}, nil
}

func (s *QueryService) resolveWallet(ctx context.Context, userID, assetCode string) (*model.Wallet, *model.AssetType, error) {
	code := model.NormalizeAssetCode(assetCode)
	if code == "" {
		return nil, nil, invalidInput("asset_code 不能为空")
	}

	asset, err := s.reader.GetAssetByCode(ctx, code)
	if err != nil {
		return nil, nil, translateStoreError(err)
	}
	wallet, err := s.reader.GetWallet(ctx, userID, asset.ID)
	if err != nil {
		return nil, nil, translateStoreError(err)
	}
	return wallet, asset, nil
}
