package service

import (
	"testing"

	"walletledger/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintDeterministic(t *testing.T) {
	a, err := Fingerprint("user_123", 30, model.TransactionTypeSpend, "GOLD_COIN")
	require.NoError(t, err)
	b, err := Fingerprint("user_123", 30, model.TransactionTypeSpend, "GOLD_COIN")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprintSensitiveToEveryField(t *testing.T) {
	base, err := Fingerprint("user_123", 30, model.TransactionTypeSpend, "GOLD_COIN")
	require.NoError(t, err)

	variants := [][4]interface{}{
		{"user_456", int64(30), model.TransactionTypeSpend, "GOLD_COIN"},
		{"user_123", int64(40), model.TransactionTypeSpend, "GOLD_COIN"},
		{"user_123", int64(30), model.TransactionTypeTopup, "GOLD_COIN"},
		{"user_123", int64(30), model.TransactionTypeSpend, "DIAMOND"},
	}
	for _, v := range variants {
		got, err := Fingerprint(v[0].(string), v[1].(int64), v[2].(model.TransactionType), v[3].(string))
		require.NoError(t, err)
		assert.NotEqual(t, base, got, "%v", v)
	}
}

func TestFingerprintNormalizesUnicode(t *testing.T) {
	composed, err := Fingerprint("caf\u00e9", 1, model.TransactionTypeTopup, "GOLD_COIN")
	require.NoError(t, err)
	decomposed, err := Fingerprint("cafe\u0301", 1, model.TransactionTypeTopup, "GOLD_COIN")
	require.NoError(t, err)

	assert.Equal(t, composed, decomposed)
}
