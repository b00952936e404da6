package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"walletledger/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestDialector(t *testing.T) {
	for _, driver := range []string{"mysql", "postgres", "sqlite"} {
		d, err := Dialector(&config.DatabaseConfig{Driver: driver, Path: "x.db"})
		require.NoError(t, err)
		assert.Equal(t, driver, d.Name())
	}

	_, err := Dialector(&config.DatabaseConfig{Driver: "memory"})
	assert.Error(t, err)
}

func TestSQLiteDialectorBeginsImmediate(t *testing.T) {
	d, err := Dialector(&config.DatabaseConfig{Driver: "sqlite", Path: "x.db"})
	require.NoError(t, err)
	dsn := d.(*sqlite.Dialector).DSN
	assert.Contains(t, dsn, "_txlock=immediate")
	assert.Contains(t, dsn, "_busy_timeout=5000")
}

func TestOpenMigratesSchema(t *testing.T) {
	cfg := &config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "w.db"), MaxOpenConns: 1, LogLevel: "silent"}
	db, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)
	defer Close(db) //nolint:errcheck

	for _, table := range []string{"asset_type", "wallet", "ledger_entry", "idempotency_record", "outbox_message"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
}

func TestGormLoggerTrace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewGormLogger(zap.New(core), "warn", 10*time.Millisecond)
	sql := func() (string, int64) { return "SELECT 1", 1 }

	// 记录不存在不算错误
	l.Trace(context.Background(), time.Now(), sql, gorm.ErrRecordNotFound)
	assert.Zero(t, logs.Len())

	l.Trace(context.Background(), time.Now(), sql, assert.AnError)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[0].Level)

	l.Trace(context.Background(), time.Now().Add(-time.Second), sql, nil)
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "慢查询", logs.All()[1].Message)

	// warn 级别不输出普通 SQL
	l.Trace(context.Background(), time.Now(), sql, nil)
	assert.Equal(t, 2, logs.Len())

	silent := l.LogMode(logger.Silent)
	silent.Trace(context.Background(), time.Now(), sql, assert.AnError)
	assert.Equal(t, 2, logs.Len())
}
