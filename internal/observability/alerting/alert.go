package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "yield-garden/internal/errors"
	"yield-garden/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog     Channel = "log"
	ChannelWebhook Channel = "webhook"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code         xerrors.Code      `json:"code"`
	Message      string            `json:"message"`
	Severity     xerrors.Severity  `json:"severity"`
	Channel      Channel           `json:"channel,omitempty"`
	Agent        string            `json:"agent"`
	Counterparty string            `json:"counterparty,omitempty"`
	MessageID    string            `json:"messageId,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	OccurredAt   time.Time         `json:"occurredAt"`
}

// EventFromError 根据统一错误类型填充错误码、严重程度与附加信息。
func EventFromError(agent string, err error) Event {
	event := Event{
		Code:       xerrors.CodeOf(err),
		Severity:   xerrors.SeverityOf(err),
		Agent:      agent,
		OccurredAt: time.Now().UTC(),
	}
	if err != nil {
		event.Message = err.Error()
	}
	if coded, ok := xerrors.From(err); ok {
		event.Metadata = coded.Metadata()
	}
	return event
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher，同一渠道只保留最后一个通知器。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for channel, notifier := range d.notifiers {
		event.Channel = channel
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", channel, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogNotifier 将告警写入日志，未配置外部渠道时作为兜底。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 以告警级别写出事件。
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	log := logger.Named("alerting")
	if n != nil && n.Logger != nil {
		log = n.Logger
	}
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("agent", event.Agent),
	}
	if event.Counterparty != "" {
		attrs = append(attrs, slog.String("counterparty", event.Counterparty))
	}
	if event.MessageID != "" {
		attrs = append(attrs, slog.String("message_id", event.MessageID))
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String(k, v))
	}
	level := slog.LevelWarn
	if event.Severity == xerrors.SeverityCritical {
		level = slog.LevelError
	}
	log.Log(ctx, level, event.Message, attrs...)
	return nil
}
