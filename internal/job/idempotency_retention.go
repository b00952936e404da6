package job

import (
	"context"
	"time"

	"walletledger/internal/infrastructure/metrics"

	"go.uber.org/zap"
)

// IdempotencyPurger 删除早于 before 的幂等记录
type IdempotencyPurger interface {
	PurgeIdempotencyBefore(ctx context.Context, before time.Time) (int64, error)
}

// Locker 多实例部署时保证同一时刻只有一个实例在清理
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// IdempotencyRetentionJob 定期清理过期的幂等记录
//
// 清理之后同一个 Idempotency-Key 会被当作新请求执行，保留时长必须远大于客户端的重试窗口
type IdempotencyRetentionJob struct {
	purger    IdempotencyPurger
	locker    Locker
	logger    *zap.Logger
	metrics   *metrics.Metrics
	retention time.Duration
	interval  time.Duration
	stopCh    chan struct{}
	now       func() time.Time
}

// NewIdempotencyRetentionJob locker 为 nil 时不做互斥，适合单实例部署
func NewIdempotencyRetentionJob(purger IdempotencyPurger, locker Locker, logger *zap.Logger, m *metrics.Metrics, retention, interval time.Duration) *IdempotencyRetentionJob {
	if interval <= 0 {
		interval = time.Hour
	}
	return &IdempotencyRetentionJob{
		purger:    purger,
		locker:    locker,
		logger:    logger.Named("idempotency_retention"),
		metrics:   m,
		retention: retention,
		interval:  interval,
		stopCh:    make(chan struct{}),
		now:       time.Now,
	}
}

func (j *IdempotencyRetentionJob) Start(ctx context.Context) {
	if j.retention <= 0 {
		j.logger.Info("未配置保留时长，幂等记录永久保留")
		return
	}
	j.logger.Info("幂等记录清理任务启动", zap.Duration("retention", j.retention), zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.logger.Info("任务停止")
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				j.logger.Error("清理幂等记录失败", zap.Error(err))
			}
		}
	}
}

func (j *IdempotencyRetentionJob) Stop() {
	close(j.stopCh)
}

// RunOnce 执行一次清理，没抢到锁时返回 0, nil
func (j *IdempotencyRetentionJob) RunOnce(ctx context.Context) (int64, error) {
	if j.retention <= 0 {
		return 0, nil
	}

	if j.locker != nil {
		ok, err := j.locker.TryLock(ctx)
		if err != nil {
			return 0, err
		}
		if !ok {
			j.logger.Debug("其他实例正在清理，跳过本轮")
			return 0, nil
		}
		defer func() {
			if err := j.locker.Unlock(ctx); err != nil {
				j.logger.Warn("释放清理任务锁失败", zap.Error(err))
			}
		}()
	}

	before := j.now().Add(-j.retention)
	n, err := j.purger.PurgeIdempotencyBefore(ctx, before)
	if err != nil {
		return 0, err
	}
	j.metrics.ObservePurged(n)
	if n > 0 {
		j.logger.Info("已清理过期幂等记录", zap.Int64("count", n), zap.Time("before", before))
	}
	return n, nil
}
