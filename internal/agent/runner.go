package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"yield-garden/internal/activity"
	"yield-garden/internal/conversation"
	xerrors "yield-garden/internal/errors"
	"yield-garden/internal/observability/alerting"
	"yield-garden/internal/observability/metrics"
	"yield-garden/internal/transport"
	"yield-garden/pkg/logger"
)

// Reply 是处理一条入站消息后的回复决定。
type Reply struct {
	Text string
	Send bool
}

// Say 构造一条需要发送的回复。
func Say(text string) Reply {
	return Reply{Text: text, Send: true}
}

// Handler 对单条入站消息做出回复决定。
type Handler interface {
	HandleInboundMessage(ctx context.Context, msg transport.Message) (Reply, error)
}

// HandlerFunc 让普通函数实现 Handler。
type HandlerFunc func(ctx context.Context, msg transport.Message) (Reply, error)

// HandleInboundMessage 实现 Handler。
func (f HandlerFunc) HandleInboundMessage(ctx context.Context, msg transport.Message) (Reply, error) {
	return f(ctx, msg)
}

// Runner 从传输层消费消息并交给 Handler 处理。
type Runner struct {
	kind        activity.AgentType
	handler     Handler
	transport   transport.Transport
	workerCount int
	feed        activity.Feed
	alerter     alerting.Dispatcher
	locker      *conversation.KeyedLocker
	logger      *slog.Logger
	afterHandle func(ctx context.Context)
	now         func() time.Time
}

// Option 定义可选配置。
type Option func(*Runner)

// WithWorkerCount 设置处理协程数量。同一对话方的消息总是由同一个协程处理。
func WithWorkerCount(workers int) Option {
	return func(r *Runner) {
		if workers > 0 {
			r.workerCount = workers
		}
	}
}

// WithFeed 配置活动流，收发的消息都会写入。
func WithFeed(feed activity.Feed) Option {
	return func(r *Runner) {
		r.feed = feed
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) Option {
	return func(r *Runner) {
		r.alerter = dispatcher
	}
}

// WithLogger 指定日志输出。
func WithLogger(log *slog.Logger) Option {
	return func(r *Runner) {
		if log != nil {
			r.logger = log
		}
	}
}

// WithAfterHandle 注册每条消息处理完成后的回调，用于发布统计快照。
func WithAfterHandle(fn func(ctx context.Context)) Option {
	return func(r *Runner) {
		r.afterHandle = fn
	}
}

// NewRunner 构造 Runner。
func NewRunner(kind activity.AgentType, handler Handler, tr transport.Transport, opts ...Option) *Runner {
	r := &Runner{
		kind:        kind,
		handler:     handler,
		transport:   tr,
		workerCount: 1,
		locker:      conversation.NewKeyedLocker(),
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.logger == nil {
		address := ""
		if tr != nil {
			address = tr.Address()
		}
		r.logger = logger.ForAgent(string(kind), address)
	}
	return r
}

// laneBuffer 是每个工作协程待处理消息的缓冲长度。
const laneBuffer = 64

// Start 阻塞消费入站消息直到 ctx 结束。
//
// 传输层只用一个消费者按接收顺序取消息，再按发送方哈希分配到固定的工作协程，
// 同一对话方的消息因此始终按接收顺序处理。
func (r *Runner) Start(ctx context.Context) error {
	if r.transport == nil || r.handler == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "agent 运行时未初始化")
	}
	r.logger.Info("agent 开始监听消息", slog.Int("workers", r.workerCount))
	if r.workerCount <= 1 {
		return r.transport.Subscribe(ctx, 1, r.Handle)
	}

	laneCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lanes := make([]chan transport.Message, r.workerCount)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan transport.Message, laneBuffer)
		wg.Add(1)
		go func(lane <-chan transport.Message) {
			defer wg.Done()
			for {
				select {
				case <-laneCtx.Done():
					return
				case msg := <-lane:
					_ = r.Handle(laneCtx, msg)
				}
			}
		}(lanes[i])
	}

	err := r.transport.Subscribe(laneCtx, 1, func(ctx context.Context, msg transport.Message) error {
		select {
		case lanes[laneFor(msg.SenderID, len(lanes))] <- msg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	cancel()
	wg.Wait()
	return err
}

// laneFor 把规范化后的发送方映射到固定的工作协程。
func laneFor(sender string, lanes int) int {
	return int(xxhash.Sum64String(conversation.NormalizeID(sender)) % uint64(lanes))
}

// Handle 处理一条入站消息。处理失败的消息不会重新投递。
func (r *Runner) Handle(ctx context.Context, msg transport.Message) error {
	started := r.now()
	if r.isSelf(msg.SenderID) {
		return nil
	}

	unlock := r.locker.Lock(msg.SenderID)
	defer unlock()

	threadID := msg.ThreadID
	if threadID == "" {
		threadID = transport.ThreadID(msg.SenderID, r.transport.Address())
	}
	if msg.IsText() {
		r.record(ctx, activity.DirectionIn, msg.SenderID, msg.Text, threadID)
	}

	reply, err := r.handler.HandleInboundMessage(ctx, msg)
	if err != nil {
		r.logger.Error("处理入站消息失败",
			slog.Any("error", err),
			slog.String("sender", msg.SenderID),
			slog.String("message_id", msg.ID),
		)
		metrics.ObserveAgentMessage(string(r.kind), metrics.OutcomeFailed, time.Since(started))
		r.emitAlert(ctx, msg, err, "handle")
		return err
	}
	defer r.after(ctx)

	if !reply.Send {
		metrics.ObserveAgentMessage(string(r.kind), metrics.OutcomeIgnored, time.Since(started))
		return nil
	}

	if _, err := r.transport.Send(ctx, msg.SenderID, reply.Text); err != nil {
		if _, ok := xerrors.From(err); !ok {
			err = xerrors.Wrap(xerrors.CodeTransportFailure, err, "发送回复失败")
		}
		r.logger.Error("发送回复失败",
			slog.Any("error", err),
			slog.String("recipient", msg.SenderID),
		)
		metrics.ObserveSendFailure(string(r.kind))
		metrics.ObserveAgentMessage(string(r.kind), metrics.OutcomeFailed, time.Since(started))
		r.emitAlert(ctx, msg, err, "send")
		return err
	}

	r.record(ctx, activity.DirectionOut, r.transport.Address(), reply.Text, threadID)
	metrics.ObserveAgentMessage(string(r.kind), metrics.OutcomeReplied, time.Since(started))
	return nil
}

func (r *Runner) isSelf(sender string) bool {
	return strings.EqualFold(strings.TrimSpace(sender), strings.TrimSpace(r.transport.Address()))
}

func (r *Runner) record(ctx context.Context, direction activity.Direction, sender, content, threadID string) {
	if r.feed == nil {
		return
	}
	entry := activity.NewStreamMessage(r.kind, direction, sender, content, threadID, r.now())
	if err := r.feed.Record(ctx, entry); err != nil {
		r.logger.Warn("写入活动流失败", slog.Any("error", err), slog.String("direction", string(direction)))
	}
}

func (r *Runner) after(ctx context.Context) {
	if r.afterHandle != nil {
		r.afterHandle(ctx)
	}
}

func (r *Runner) emitAlert(ctx context.Context, msg transport.Message, cause error, stage string) {
	if r.alerter == nil || !xerrors.ShouldAlert(cause) {
		return
	}
	event := alerting.EventFromError(string(r.kind), cause)
	event.Counterparty = msg.SenderID
	event.MessageID = msg.ID
	if event.Metadata == nil {
		event.Metadata = make(map[string]string, 1)
	}
	event.Metadata["stage"] = stage
	if err := r.alerter.Notify(ctx, event); err != nil {
		r.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("stage", stage),
		)
	}
}
