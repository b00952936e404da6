package job

import (
	"context"
	"time"

	"walletledger/internal/infrastructure/metrics"
	"walletledger/internal/infrastructure/mq"
	"walletledger/internal/model"

	"go.uber.org/zap"
)

// OutboxQueue 本地消息表
type OutboxQueue interface {
	GetPending(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	MarkSent(ctx context.Context, id int64) error
	// RecordFailure 返回 true 表示已达到最大重试次数，消息被标记为 FAILED
	RecordFailure(ctx context.Context, msg *model.OutboxMessage, maxRetry int) (bool, error)
}

// OutboxSender 把已提交交易的事件投递到 Kafka
//
// 消息和账本流水在同一个事务里写入，这里只负责至少一次投递，下游按 event_id 去重
type OutboxSender struct {
	queue     OutboxQueue
	publisher mq.Publisher
	logger    *zap.Logger
	metrics   *metrics.Metrics
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
	maxRetry  int
}

func NewOutboxSender(queue OutboxQueue, publisher mq.Publisher, logger *zap.Logger, m *metrics.Metrics, batchSize, maxRetry int) *OutboxSender {
	if batchSize <= 0 {
		batchSize = 100
	}
	if maxRetry <= 0 {
		maxRetry = 5
	}
	return &OutboxSender{
		queue:     queue,
		publisher: publisher,
		logger:    logger.Named("outbox_sender"),
		metrics:   m,
		stopCh:    make(chan struct{}),
		interval:  100 * time.Millisecond,
		batchSize: batchSize,
		maxRetry:  maxRetry,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.logger.Info("消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("收到停止信号，任务退出")
			return
		case <-s.stopCh:
			s.logger.Info("任务停止")
			return
		case <-ticker.C:
			s.ProcessPending(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// ProcessPending 投递一批待发送消息，返回成功条数
func (s *OutboxSender) ProcessPending(ctx context.Context) int {
	messages, err := s.queue.GetPending(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("查询消息失败", zap.Error(err))
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.Payload)

	if err == nil {
		s.metrics.ObserveOutbox(model.OutboxStatusSent)
		if updateErr := s.queue.MarkSent(ctx, msg.ID); updateErr != nil {
			// 状态没更新成功会重复投递一次，下游按 event_id 去重
			s.logger.Error("更新消息状态失败", zap.Int64("id", msg.ID), zap.Error(updateErr))
		} else {
			s.logger.Debug("消息发送成功",
				zap.Int64("id", msg.ID),
				zap.String("topic", msg.Topic),
				zap.String("key", msg.MessageKey),
			)
		}
		return true
	}

	s.logger.Warn("消息发送失败", zap.Int64("id", msg.ID), zap.Int("retry_count", msg.RetryCount), zap.Error(err))

	giveUp, recErr := s.queue.RecordFailure(ctx, msg, s.maxRetry)
	if recErr != nil {
		s.logger.Error("记录重试次数失败", zap.Int64("id", msg.ID), zap.Error(recErr))
		return false
	}
	if giveUp {
		s.metrics.ObserveOutbox(model.OutboxStatusFailed)
		s.logger.Error("消息超过最大重试次数，标记为失败", zap.Int64("id", msg.ID), zap.Int("max_retry", s.maxRetry))
	} else {
		s.metrics.ObserveOutbox("RETRY")
	}
	return false
}
