package model

import (
	"time"
)

// 和表结构的 varchar 长度一致，按字符计
const (
	MaxIdempotencyKeyLength = 128
	MaxUserIDLength         = 64
)

// IdempotencyRecord 幂等记录表
// 主键为 (key, user_id)，和对应的流水、余额变更在同一个事务里写入
type IdempotencyRecord struct {
	Key             string    `gorm:"column:idempotency_key;primaryKey;type:varchar(128)" json:"key"`
	UserID          string    `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	RequestHash     string    `gorm:"type:varchar(64);not null" json:"request_hash"`
	ResponsePayload string    `gorm:"type:text;not null" json:"response_payload"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (IdempotencyRecord) TableName() string {
	return "idempotency_record"
}
