package cache

import (
	"context"
	"fmt"
	"time"

	"walletledger/internal/model"

	"github.com/go-redis/redis/v8"
)

const (
	fieldRequestHash = "request_hash"
	fieldResponse    = "response"
	fieldCreatedAt   = "created_at"
)

// ReplayCache 幂等响应在 Redis 里的只读副本
//
// 数据库里的幂等记录才是权威数据；这里只是让重放请求不必访问数据库。
// 只在事务提交之后写入，所以缓存里有的记录数据库里一定也有。
type ReplayCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewReplayCache(client *redis.Client, ttl time.Duration) *ReplayCache {
	return &ReplayCache{client: client, ttl: ttl}
}

// replayKey user_id 带长度前缀，两个字段里出现冒号也不会拼出相同的 key
func replayKey(key, userID string) string {
	return fmt.Sprintf("wallet:idem:%d:%s:%s", len(userID), userID, key)
}

// Get 未命中返回 nil, nil
func (c *ReplayCache) Get(ctx context.Context, key, userID string) (*model.IdempotencyRecord, error) {
	values, err := c.client.HGetAll(ctx, replayKey(key, userID)).Result()
	if err != nil {
		return nil, err
	}
	hash, ok := values[fieldRequestHash]
	if !ok {
		return nil, nil
	}
	response, ok := values[fieldResponse]
	if !ok {
		return nil, nil
	}

	record := &model.IdempotencyRecord{
		Key:             key,
		UserID:          userID,
		RequestHash:     hash,
		ResponsePayload: response,
	}
	if ts, ok := values[fieldCreatedAt]; ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			record.CreatedAt = t
		}
	}
	return record, nil
}

func (c *ReplayCache) Put(ctx context.Context, record *model.IdempotencyRecord) error {
	k := replayKey(record.Key, record.UserID)
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k,
			fieldRequestHash, record.RequestHash,
			fieldResponse, record.ResponsePayload,
			fieldCreatedAt, createdAt.UTC().Format(time.RFC3339Nano),
		)
		if c.ttl > 0 {
			pipe.Expire(ctx, k, c.ttl)
		}
		return nil
	})
	return err
}
