package activity

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	xerrors "yield-garden/internal/errors"
	"yield-garden/pkg/logger"
)

// BufferKey 是 Redis 中活动流列表的键。
const BufferKey = "messages:buffer"

// RedisFeed 将活动流保存在 Redis list 中，最新的记录位于表头。
type RedisFeed struct {
	client redis.UniversalClient
	size   int64
}

// NewRedisFeed 使用已连接的客户端创建活动流，Close 不会关闭该客户端。
func NewRedisFeed(client redis.UniversalClient, size int) *RedisFeed {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &RedisFeed{client: client, size: int64(size)}
}

// Record 实现 Feed，使用 LPUSH + LTRIM 维持固定长度。
func (f *RedisFeed) Record(ctx context.Context, msg StreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "encode stream message")
	}
	_, err = f.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, BufferKey, data)
		pipe.LTrim(ctx, BufferKey, 0, f.size-1)
		return nil
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "record stream message")
	}
	return nil
}

// Recent 实现 Feed。
func (f *RedisFeed) Recent(ctx context.Context, agent AgentType, limit int) ([]StreamMessage, error) {
	values, err := f.client.LRange(ctx, BufferKey, 0, f.size-1).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "read stream messages")
	}
	matched := make([]StreamMessage, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		var msg StreamMessage
		if err := json.Unmarshal([]byte(values[i]), &msg); err != nil {
			logger.Named("activity").Warn("跳过无法解析的活动记录", "error", err)
			continue
		}
		if agent == "" || msg.AgentType == agent {
			matched = append(matched, msg)
		}
	}
	return tail(matched, limit), nil
}

// PublishStats 实现 Feed。
func (f *RedisFeed) PublishStats(ctx context.Context, agent AgentType, stats json.RawMessage) error {
	if err := f.client.Set(ctx, statsKey(agent), []byte(stats), 0).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "publish stats")
	}
	return nil
}

// LoadStats 实现 Feed。
func (f *RedisFeed) LoadStats(ctx context.Context, agent AgentType) (json.RawMessage, bool, error) {
	data, err := f.client.Get(ctx, statsKey(agent)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load stats")
	}
	return json.RawMessage(data), true, nil
}

// Close 实现 Feed。
func (f *RedisFeed) Close() error { return nil }
