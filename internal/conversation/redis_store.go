package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "yield-garden/internal/errors"
	storageredis "yield-garden/internal/storage/redis"
)

const scanBatch = 100

// RedisStoreConfig 描述 Redis 对话存储的连接参数。
type RedisStoreConfig struct {
	URL       string
	KeyPrefix string
	TTL       time.Duration
}

// RedisStore 将对话保存为带过期时间的 Redis 字符串。
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	owned  bool
}

// NewRedisStore 根据 URL 建立连接并验证可用性。
func NewRedisStore(ctx context.Context, cfg RedisStoreConfig) (*RedisStore, error) {
	client, err := storageredis.Connect(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}
	store := NewRedisStoreWithClient(client, cfg.KeyPrefix, cfg.TTL)
	store.owned = true
	return store, nil
}

// NewRedisStoreWithClient 复用已有的 Redis 客户端，Close 不会关闭该客户端。
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(counterpartyID string) string {
	return s.prefix + NormalizeID(counterpartyID)
}

// Load 实现 Store。
func (s *RedisStore) Load(ctx context.Context, counterpartyID string) (*Conversation, error) {
	data, err := s.client.Get(ctx, s.key(counterpartyID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrConversationNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load conversation",
			xerrors.WithMetadata("counterparty", NormalizeID(counterpartyID)))
	}
	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode conversation")
	}
	return &conv, nil
}

// Save 实现 Store，使用 SET ... EX 刷新过期时间。
func (s *RedisStore) Save(ctx context.Context, conv *Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "encode conversation")
	}
	if err := s.client.Set(ctx, s.key(conv.CounterpartyID), data, s.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "save conversation",
			xerrors.WithMetadata("counterparty", NormalizeID(conv.CounterpartyID)))
	}
	return nil
}

// Delete 实现 Store。
func (s *RedisStore) Delete(ctx context.Context, counterpartyID string) error {
	if err := s.client.Del(ctx, s.key(counterpartyID)).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "delete conversation")
	}
	return nil
}

// ListActive 通过 SCAN 枚举有效键，避免 KEYS 阻塞服务端。
func (s *RedisStore) ListActive(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", scanBatch).Result()
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan conversations")
		}
		for _, key := range keys {
			seen[strings.TrimPrefix(key, s.prefix)] = struct{}{}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close 关闭由 NewRedisStore 创建的连接。
func (s *RedisStore) Close() error {
	if s == nil || !s.owned {
		return nil
	}
	return s.client.Close()
}
