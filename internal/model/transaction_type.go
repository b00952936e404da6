package model

import (
	"fmt"
	"strings"
)

// TransactionType 交易类型，封闭集合
type TransactionType string

const (
	TransactionTypeTopup TransactionType = "TOPUP" // 充值
	TransactionTypeBonus TransactionType = "BONUS" // 赠送
	TransactionTypeSpend TransactionType = "SPEND" // 消费（扣款）
)

// ParseTransactionType 解析交易类型，大小写敏感
func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(strings.TrimSpace(s))
	if t.Direction() == 0 {
		return "", fmt.Errorf("未知的交易类型: %q", s)
	}
	return t, nil
}

// Direction 用户侧资金方向：+1 入账，-1 出账，0 表示非法类型
//
// 零和约束完全依赖这里，新增类型必须在这里声明方向
func (t TransactionType) Direction() int64 {
	switch t {
	case TransactionTypeSpend:
		return -1
	case TransactionTypeTopup, TransactionTypeBonus:
		return 1
	default:
		return 0
	}
}

// Deltas 根据金额计算用户侧和金库侧的变动，两者互为相反数
func (t TransactionType) Deltas(amount int64) (userDelta, treasuryDelta int64) {
	userDelta = t.Direction() * amount
	return userDelta, -userDelta
}
