package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// EventTransactionCommitted 一笔账本交易提交成功
const EventTransactionCommitted = "ledger.transaction.committed"

// OutboxMessage 本地消息表
// 和账本流水在同一个事务里写入，由 OutboxSender 异步投递到 Kafka
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(128);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// LedgerEvent 投递到下游的交易事件
type LedgerEvent struct {
	EventID         int64           `json:"event_id"`
	EventType       string          `json:"event_type"`
	TransactionID   string          `json:"tx_id"`
	UserID          string          `json:"user_id"`
	AssetTypeID     int64           `json:"asset_type_id"`
	AssetCode       string          `json:"asset_code"`
	TransactionType TransactionType `json:"transaction_type"`
	Amount          int64           `json:"amount"`
	UserDelta       int64           `json:"user_delta"`
	NewBalance      int64           `json:"new_balance"`
	OccurredAt      time.Time       `json:"occurred_at"`
}
