package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig 存储配置
// driver 取值：mysql, postgres, sqlite, memory
type DatabaseConfig struct {
	Driver        string `mapstructure:"driver"`
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	Path          string `mapstructure:"path"` // sqlite 文件路径
	MaxOpenConns  int    `mapstructure:"max_open_conns"`
	MaxIdleConns  int    `mapstructure:"max_idle_conns"`
	LockTimeoutMs int    `mapstructure:"lock_timeout_ms"` // 行锁等待超时，0 表示使用数据库默认值
	LogLevel      string `mapstructure:"log_level"`       // silent, error, warn, info
}

// LockTimeout 行锁等待超时
func (c DatabaseConfig) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMs) * time.Millisecond
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	LedgerEvents string `mapstructure:"ledger_events"`
}

// LedgerConfig 账本业务配置
type LedgerConfig struct {
	TreasuryUserID            string `mapstructure:"treasury_user_id"`
	ReplayCacheTTLSeconds     int    `mapstructure:"replay_cache_ttl_seconds"`
	IdempotencyRetentionHours int    `mapstructure:"idempotency_retention_hours"` // 0 表示永久保留
	RetentionIntervalMinutes  int    `mapstructure:"retention_interval_minutes"`
	OutboxBatchSize           int    `mapstructure:"outbox_batch_size"`
	MaxRetryCount             int    `mapstructure:"max_retry_count"`
}

// ReplayCacheTTL 开启保留期清理时不超过保留时长，数据库记录删除后缓存也随之过期
func (c LedgerConfig) ReplayCacheTTL() time.Duration {
	ttl := time.Duration(c.ReplayCacheTTLSeconds) * time.Second
	if retention := c.IdempotencyRetention(); retention > 0 && (ttl <= 0 || ttl > retention) {
		return retention
	}
	return ttl
}

func (c LedgerConfig) IdempotencyRetention() time.Duration {
	return time.Duration(c.IdempotencyRetentionHours) * time.Hour
}

func (c LedgerConfig) RetentionInterval() time.Duration {
	return time.Duration(c.RetentionIntervalMinutes) * time.Minute
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json 或 console
}

var GlobalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.database", "wallet")
	v.SetDefault("database.path", "wallet.db")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("kafka.topic.ledger_events", "ledger.transaction.committed")

	v.SetDefault("ledger.treasury_user_id", "SYSTEM_TREASURY")
	v.SetDefault("ledger.replay_cache_ttl_seconds", 86400)
	v.SetDefault("ledger.retention_interval_minutes", 60)
	v.SetDefault("ledger.outbox_batch_size", 100)
	v.SetDefault("ledger.max_retry_count", 5)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig 加载配置文件
// 环境变量以 WALLET_ 为前缀覆盖配置项，例如 WALLET_DATABASE_HOST
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("WALLET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	GlobalConfig = config
	return config, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("不支持的数据库驱动: %s", c.Database.Driver)
	}
	if strings.TrimSpace(c.Ledger.TreasuryUserID) == "" {
		return fmt.Errorf("ledger.treasury_user_id 不能为空")
	}
	if c.Database.LockTimeoutMs < 0 {
		return fmt.Errorf("database.lock_timeout_ms 不能为负数")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.enabled 为 true 时必须配置 brokers")
	}
	return nil
}
