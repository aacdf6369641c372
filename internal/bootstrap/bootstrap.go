// Package bootstrap 根据配置装配 agents 与 API 共用的存储、传输和告警组件。
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"yield-garden/internal/activity"
	"yield-garden/internal/config"
	"yield-garden/internal/conversation"
	xerrors "yield-garden/internal/errors"
	"yield-garden/internal/observability/alerting"
	"yield-garden/internal/payment"
	"yield-garden/internal/storage/mysql"
	storageredis "yield-garden/internal/storage/redis"
	"yield-garden/internal/transport"
	"yield-garden/pkg/logger"
)

// Backends 持有进程内共享的存储组件。
type Backends struct {
	Redis         *goredis.Client
	Conversations conversation.Store
	Payments      payment.Tracker
	Feed          activity.Feed

	cfg     *config.Config
	hub     *transport.Hub
	closers []func() error
}

// Open 按配置的驱动创建对话存储、支付追踪器与活动流。
// 任一组件使用 redis 时会先建立一个共享连接。
func Open(ctx context.Context, cfg *config.Config) (*Backends, error) {
	b := &Backends{cfg: cfg}
	if err := b.open(ctx); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backends) open(ctx context.Context) error {
	storage := b.cfg.Storage
	if storage.Conversations.Driver == "redis" || storage.Activity.Driver == "redis" || b.cfg.Transport.Driver == "redis" {
		client, err := storageredis.Connect(ctx, storage.Redis.URL)
		if err != nil {
			return err
		}
		b.Redis = client
		b.closers = append(b.closers, client.Close)
	}

	switch storage.Conversations.Driver {
	case "memory":
		b.Conversations = conversation.NewMemoryStore(storage.Conversations.TTL())
	case "redis":
		b.Conversations = conversation.NewRedisStoreWithClient(b.Redis, storage.Conversations.KeyPrefix, storage.Conversations.TTL())
	default:
		return unsupported("conversation store", storage.Conversations.Driver)
	}
	b.closers = append(b.closers, b.Conversations.Close)

	switch storage.Payments.Driver {
	case "memory":
		b.Payments = payment.NewMemoryTracker()
	case "mysql":
		tracker, err := payment.NewMySQLTracker(ctx, mysql.Config{
			DSN:             storage.Payments.DSN,
			MaxOpenConns:    storage.Payments.MaxOpenConns,
			MaxIdleConns:    storage.Payments.MaxIdleConns,
			ConnMaxLifetime: time.Duration(storage.Payments.ConnMaxLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		b.Payments = tracker
	default:
		return unsupported("payment tracker", storage.Payments.Driver)
	}
	b.closers = append(b.closers, b.Payments.Close)

	switch storage.Activity.Driver {
	case "memory":
		b.Feed = activity.NewMemoryFeed(storage.Activity.BufferSize)
	case "redis":
		b.Feed = activity.NewRedisFeed(b.Redis, storage.Activity.BufferSize)
	default:
		return unsupported("activity feed", storage.Activity.Driver)
	}
	b.closers = append(b.closers, b.Feed.Close)

	logger.L().Info("存储组件已就绪",
		"conversations", storage.Conversations.Driver,
		"payments", storage.Payments.Driver,
		"activity", storage.Activity.Driver,
	)
	return nil
}

// Transport 为指定地址创建消息端点。memory 驱动下同一进程内的端点共享一个 Hub。
func (b *Backends) Transport(address string) (transport.Transport, error) {
	tc := b.cfg.Transport
	var (
		tr  transport.Transport
		err error
	)
	switch tc.Driver {
	case "memory":
		if b.hub == nil {
			b.hub = transport.NewHub(256)
		}
		tr = b.hub.Endpoint(address)
	case "redis":
		tr, err = transport.NewRedisTransport(b.Redis, transport.RedisConfig{
			Address:   address,
			Prefix:    tc.Redis.Prefix,
			BlockWait: time.Duration(tc.Redis.BlockWaitSeconds) * time.Second,
		})
	case "rabbitmq":
		tr, err = transport.NewRabbitMQTransport(transport.RabbitMQConfig{
			URL:         tc.RabbitMQ.URL,
			Address:     address,
			QueuePrefix: tc.RabbitMQ.QueuePrefix,
			Prefetch:    tc.RabbitMQ.Prefetch,
			Durable:     tc.RabbitMQ.Durable,
		})
	default:
		return nil, unsupported("transport", tc.Driver)
	}
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, tr.Close)
	logger.L().Info("消息端点已创建", "driver", tc.Driver, "network", tc.Network, "address", address)
	return tr, nil
}

// Close 以创建的逆序关闭全部组件。
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// AlertDispatcher 组装告警渠道：日志始终启用，配置了 webhook 且未设置
// log_only 时追加 webhook。
func AlertDispatcher(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alerting")}}
	if cfg.WebhookURL != "" && !cfg.LogOnly {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.WebhookURL))
	}
	return alerting.NewFanout(notifiers...)
}

func unsupported(component, driver string) error {
	return xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("未知的%s驱动: %q", component, driver))
}
