package transport

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "yield-garden/internal/errors"
	"yield-garden/pkg/logger"
)

// DefaultInboxPrefix 是 Redis 收件箱键的默认前缀。
const DefaultInboxPrefix = "yield:inbox:"

// RedisConfig 描述 Redis 收件箱的参数。
type RedisConfig struct {
	Address   string
	Prefix    string
	BlockWait time.Duration
}

// RedisTransport 为每个地址维护一个 Redis list 收件箱，LPUSH 写入、BRPOP 读取。
type RedisTransport struct {
	client  redis.UniversalClient
	address string
	prefix  string
	wait    time.Duration
	now     func() time.Time
}

// NewRedisTransport 使用已连接的客户端创建端点，Close 不会关闭该客户端。
func NewRedisTransport(client redis.UniversalClient, cfg RedisConfig) (*RedisTransport, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "redis client is required")
	}
	if normalize(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "transport address is required")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultInboxPrefix
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisTransport{client: client, address: cfg.Address, prefix: prefix, wait: wait, now: time.Now}, nil
}

func (t *RedisTransport) inboxKey(address string) string {
	return t.prefix + normalize(address)
}

// Address 实现 Transport。
func (t *RedisTransport) Address() string { return t.address }

// Send 实现 Transport，同一 pipeline 内写入对方与自己的收件箱。
func (t *RedisTransport) Send(ctx context.Context, recipient, text string) (string, error) {
	msg := NewMessage(t.address, recipient, text, t.now())
	data, err := encode(msg)
	if err != nil {
		return "", err
	}
	_, err = t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, t.inboxKey(recipient), data)
		if normalize(recipient) != normalize(t.address) {
			pipe.LPush(ctx, t.inboxKey(t.address), data)
		}
		return nil
	})
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeTransportFailure, err, "Redis 发送消息失败",
			xerrors.WithMetadata("recipient", normalize(recipient)))
	}
	return msg.ID, nil
}

// Subscribe 实现 Transport，通过 BRPOP 读取本地址的收件箱。
func (t *RedisTransport) Subscribe(ctx context.Context, workers int, handler Handler) error {
	if workers <= 0 {
		workers = 1
	}
	key := t.inboxKey(t.address)
	log := logger.Named("transport")
	errCh := make(chan error, workers)

	for i := 0; i < workers; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				default:
				}
				values, err := t.client.BRPop(ctx, t.wait, key).Result()
				if err != nil {
					if errors.Is(err, redis.Nil) {
						continue
					}
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.ErrClosed) {
						errCh <- err
						return
					}
					errCh <- xerrors.Wrap(xerrors.CodeTransportFailure, err, "Redis 读取收件箱失败")
					return
				}
				if len(values) != 2 {
					continue
				}
				msg, err := decode([]byte(values[1]))
				if err != nil {
					log.Warn("丢弃无法解析的消息", "inbox", key, "error", err)
					continue
				}
				if err := handler(ctx, msg); err != nil {
					log.Debug("入站消息处理失败", "message_id", msg.ID, "error", err)
				}
			}
		}()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Close 实现 Transport。
func (t *RedisTransport) Close() error { return nil }
