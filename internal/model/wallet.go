package model

import (
	"time"
)

// Wallet 钱包表
// 每个用户每种资产只有一个钱包，余额永远不小于 0
type Wallet struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_wallet_owner,priority:1" json:"user_id"`
	AssetTypeID int64     `gorm:"not null;uniqueIndex:uk_wallet_owner,priority:2" json:"asset_type_id"`
	Balance     int64     `gorm:"not null;default:0;check:chk_wallet_balance,balance >= 0" json:"balance"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallet"
}
