package model

import (
	"time"
)

// ReasonOpening 初始化钱包时的期初余额，是唯一允许单边记账的流水
const ReasonOpening = "OPENING"

// LedgerEntry 账本流水表
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除
// 2. 同一 transaction_id 下的流水金额之和恒为 0（复式记账）
// 3. 钱包余额 = 该钱包全部流水金额之和
type LedgerEntry struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionID string    `gorm:"type:varchar(36);index;not null" json:"transaction_id"`
	WalletID      int64     `gorm:"index;not null" json:"wallet_id"`
	Amount        int64     `gorm:"not null" json:"amount"` // 正数入账，负数出账
	Reason        string    `gorm:"type:varchar(20);not null" json:"reason"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entry"
}
