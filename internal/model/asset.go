package model

import (
	"strings"
	"time"
)

// AssetType 资产类型表
// 一种可流通的虚拟资产（如金币、钻石），code 全局唯一且统一为大写
type AssetType struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Code      string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"code"`
	Name      string    `gorm:"type:varchar(64);not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (AssetType) TableName() string {
	return "asset_type"
}

// NormalizeAssetCode 去除首尾空白并转为大写
func NormalizeAssetCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
