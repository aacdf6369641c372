package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "yield-garden/internal/errors"
	"yield-garden/pkg/logger"
)

// DefaultQueuePrefix 是 RabbitMQ 收件箱队列的默认前缀。
const DefaultQueuePrefix = "yield.inbox."

// RabbitMQConfig 描述 RabbitMQ 收件箱的连接参数。
type RabbitMQConfig struct {
	URL         string
	Address     string
	QueuePrefix string
	Prefetch    int
	Durable     bool
}

// RabbitMQTransport 为每个地址声明一个队列，使用默认交换机按队列名路由。
type RabbitMQTransport struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	address string
	prefix  string
	durable bool
	now     func() time.Time

	mu       sync.Mutex
	declared map[string]struct{}
}

// NewRabbitMQTransport 建立连接并声明本地址的收件箱队列。
func NewRabbitMQTransport(cfg RabbitMQConfig) (*RabbitMQTransport, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "RabbitMQ URL 不能为空")
	}
	if normalize(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "transport address is required")
	}
	prefix := cfg.QueuePrefix
	if prefix == "" {
		prefix = DefaultQueuePrefix
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransportFailure, err, "连接 RabbitMQ 失败")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeTransportFailure, err, "创建 RabbitMQ channel 失败")
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, xerrors.Wrap(xerrors.CodeTransportFailure, err, "设置 RabbitMQ QOS 失败")
		}
	}
	t := &RabbitMQTransport{
		conn:     conn,
		ch:       ch,
		address:  cfg.Address,
		prefix:   prefix,
		durable:  cfg.Durable,
		now:      time.Now,
		declared: make(map[string]struct{}),
	}
	if _, err := t.declare(cfg.Address); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

func (t *RabbitMQTransport) queueName(address string) string {
	return t.prefix + normalize(address)
}

func (t *RabbitMQTransport) declare(address string) (string, error) {
	name := t.queueName(address)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.declared[name]; ok {
		return name, nil
	}
	if _, err := t.ch.QueueDeclare(name, t.durable, false, false, false, nil); err != nil {
		return "", xerrors.Wrap(xerrors.CodeTransportFailure, err, fmt.Sprintf("声明 RabbitMQ 队列 %s 失败", name))
	}
	t.declared[name] = struct{}{}
	return name, nil
}

// Address 实现 Transport。
func (t *RabbitMQTransport) Address() string { return t.address }

// Send 实现 Transport，消息同时投递到对方与自己的队列。
func (t *RabbitMQTransport) Send(ctx context.Context, recipient, text string) (string, error) {
	msg := NewMessage(t.address, recipient, text, t.now())
	data, err := encode(msg)
	if err != nil {
		return "", err
	}
	targets := []string{recipient}
	if normalize(recipient) != normalize(t.address) {
		targets = append(targets, t.address)
	}
	for _, target := range targets {
		queue, err := t.declare(target)
		if err != nil {
			return "", err
		}
		err = t.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    msg.ID,
			Timestamp:    msg.SentAt,
			DeliveryMode: t.deliveryMode(),
			Body:         data,
		})
		if err != nil {
			return "", xerrors.Wrap(xerrors.CodeTransportFailure, err, "RabbitMQ 发送消息失败",
				xerrors.WithMetadata("queue", queue))
		}
	}
	return msg.ID, nil
}

func (t *RabbitMQTransport) deliveryMode() uint8 {
	if t.durable {
		return amqp.Persistent
	}
	return amqp.Transient
}

// Subscribe 以手动确认模式消费本地址的队列。处理失败的消息同样确认，不会重新投递。
func (t *RabbitMQTransport) Subscribe(ctx context.Context, workers int, handler Handler) error {
	if workers <= 0 {
		workers = 1
	}
	queue, err := t.declare(t.address)
	if err != nil {
		return err
	}
	deliveries, err := t.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTransportFailure, err, "订阅 RabbitMQ 队列失败")
	}
	log := logger.Named("transport")

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case delivery, ok := <-deliveries:
					if !ok {
						return
					}
					msg, err := decode(delivery.Body)
					if err != nil {
						log.Warn("丢弃无法解析的消息", "queue", queue, "error", err)
						_ = delivery.Ack(false)
						continue
					}
					if err := handler(ctx, msg); err != nil {
						log.Debug("入站消息处理失败", "message_id", msg.ID, "error", err)
					}
					_ = delivery.Ack(false)
				}
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close 关闭 channel 与连接。
func (t *RabbitMQTransport) Close() error {
	if t == nil {
		return nil
	}
	if t.ch != nil {
		_ = t.ch.Close()
	}
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
