package service

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"walletledger/internal/model"

	"golang.org/x/text/unicode/norm"
)

// fingerprintDomain 哈希域前缀，算法变更时升级版本号
const fingerprintDomain = "walletledger/transact/v1"

// Fingerprint 请求指纹
//
// 对 {user_id, amount, transaction_type, asset_code} 做规范化 JSON 编码
// （键排序、字符串 NFC 规范化、不转义 HTML），再做带域前缀的 SHA-256。
// assetCode 需要先经过 NormalizeAssetCode。
func Fingerprint(userID string, amount int64, txType model.TransactionType, assetCode string) (string, error) {
	payload := map[string]interface{}{
		"user_id":          norm.NFC.String(userID),
		"amount":           amount,
		"transaction_type": norm.NFC.String(string(txType)),
		"asset_code":       norm.NFC.String(assetCode),
	}

	// encoding/json 对 map 按键排序输出
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return "", fmt.Errorf("编码请求指纹失败: %w", err)
	}
	canonical := bytes.TrimRight(buf.Bytes(), "\n")

	return hashWithDomain(fingerprintDomain, canonical), nil
}

// hashWithDomain SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
