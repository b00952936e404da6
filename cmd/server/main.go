package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"walletledger/internal/config"
	"walletledger/internal/handler"
	"walletledger/internal/infrastructure/cache"
	"walletledger/internal/infrastructure/database"
	"walletledger/internal/infrastructure/lock"
	"walletledger/internal/infrastructure/logging"
	"walletledger/internal/infrastructure/metrics"
	"walletledger/internal/infrastructure/mq"
	"walletledger/internal/job"
	"walletledger/internal/repository"
	"walletledger/internal/repository/memory"
	"walletledger/internal/service"
	"walletledger/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "服务异常退出: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// 加载配置
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(&cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	// 初始化 ID 生成器
	if err := idgen.Init(1); err != nil {
		return err
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New(nil)

	// 初始化存储
	var (
		store repository.Store
		db    *gorm.DB
	)
	if cfg.Database.Driver == "memory" {
		mem := memory.New(memory.WithLockTimeout(cfg.Database.LockTimeout()))
		report, err := service.NewBootstrapService(mem, cfg.Ledger.TreasuryUserID, logger).
			Seed(ctx, service.DefaultSeedPlan())
		if err != nil {
			return fmt.Errorf("初始化内存账本失败: %w", err)
		}
		logger.Warn("使用内存存储，重启后数据丢失",
			zap.Int("assets", len(report.AssetsCreated)),
			zap.Int("wallets", len(report.WalletsCreated)),
		)
		store = mem
	} else {
		db, err = database.Open(&cfg.Database, logger)
		if err != nil {
			return err
		}
		defer database.Close(db) //nolint:errcheck
		store = repository.NewGormStore(db, cfg.Database.LockTimeout())
	}

	opts := []service.TransactionOption{
		service.WithTreasuryUserID(cfg.Ledger.TreasuryUserID),
		service.WithEventTopic(cfg.Kafka.Topic.LedgerEvents),
		service.WithMetrics(m),
	}

	// 初始化 Redis，不可用时退化为只查数据库
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.InitRedis(ctx, &cfg.Redis)
		if err != nil {
			logger.Warn("Redis 不可用，幂等缓存关闭", zap.Error(err))
		} else {
			defer redisClient.Close()
			opts = append(opts, service.WithReplayCache(cache.NewReplayCache(redisClient, cfg.Ledger.ReplayCacheTTL())))
		}
	}

	// 启动后台任务
	if gormStore, ok := store.(*repository.GormStore); ok {
		if cfg.Kafka.Enabled {
			publisher, err := mq.InitKafka(&cfg.Kafka)
			if err != nil {
				return err
			}
			defer publisher.Close()

			outboxSender := job.NewOutboxSender(gormStore.Outbox(), publisher, logger, m,
				cfg.Ledger.OutboxBatchSize, cfg.Ledger.MaxRetryCount)
			go outboxSender.Start(ctx)
		}
	}

	if cfg.Ledger.IdempotencyRetention() > 0 {
		purger, ok := store.(job.IdempotencyPurger)
		if ok {
			var locker job.Locker
			if redisClient != nil {
				hostname, _ := os.Hostname()
				locker = lock.NewJobLock(redisClient, "idempotency_retention", fmt.Sprintf("%s-%d", hostname, os.Getpid()), cfg.Ledger.RetentionInterval())
			}
			retentionJob := job.NewIdempotencyRetentionJob(purger, locker, logger, m,
				cfg.Ledger.IdempotencyRetention(), cfg.Ledger.RetentionInterval())
			go retentionJob.Start(ctx)
		}
	}

	h := handler.NewHandler(
		service.NewTransactionService(store, logger, opts...),
		service.NewQueryService(store),
		logger,
	)

	// 设置路由
	router := handler.SetupRouter(h, m, logger)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	// 在 goroutine 中启动服务器
	go func() {
		logger.Info("服务启动", zap.Int("port", cfg.Server.Port), zap.String("driver", cfg.Database.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("服务启动失败: %w", err)
	}

	logger.Info("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("服务关闭异常", zap.Error(err))
	}

	logger.Info("服务已关闭")
	return nil
}
