package farm

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"yield-garden/internal/activity"
	"yield-garden/internal/agent"
	"yield-garden/internal/transport"
	"yield-garden/pkg/logger"
)

const (
	keptResponses    = 100
	exposedResponses = 10
)

// Request 记录一次被识别的指令。
type Request struct {
	Request       string    `json:"request"`
	RequestedItem string    `json:"requestedItem"`
	Timestamp     time.Time `json:"timestamp"`
}

// Response 记录对指令的回复。
type Response struct {
	RequestID      string  `json:"requestId"`
	MessageID      string  `json:"messageId,omitempty"`
	Item           string  `json:"item"`
	Content        string  `json:"content"`
	ResponseTimeMs float64 `json:"responseTimeMs"`
}

// Exchange 是一问一答。
type Exchange struct {
	Request  Request  `json:"request"`
	Response Response `json:"response"`
}

// Stats 是 Farm 的运行统计。
type Stats struct {
	Address           string     `json:"address,omitempty"`
	RequestCount      int        `json:"requestCount"`
	AvgResponseTimeMs float64    `json:"avgResponseTimeMs"`
	RecentResponses   []Exchange `json:"recentResponses"`
}

// Agent 对识别出的指令立即给出占位结果。
type Agent struct {
	address string
	parser  *Parser
	now     func() time.Time
	logger  *slog.Logger

	mu        sync.Mutex
	requests  int
	totalTime time.Duration
	exchanges []Exchange
}

// Option 定义可选配置。
type Option func(*Agent)

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAgent 创建 Farm agent，parser 为空时使用默认指令模式。
func NewAgent(address string, parser *Parser, opts ...Option) *Agent {
	if parser == nil {
		parser, _ = NewParser()
	}
	a := &Agent{
		address: address,
		parser:  parser,
		now:     time.Now,
		logger:  logger.ForAgent(string(activity.AgentFarm), address),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Address 返回 agent 身份。
func (a *Agent) Address() string { return a.address }

// HandleInboundMessage 实现 agent.Handler。自己发出的消息与非文本消息不回复。
func (a *Agent) HandleInboundMessage(_ context.Context, msg transport.Message) (agent.Reply, error) {
	if strings.EqualFold(strings.TrimSpace(msg.SenderID), strings.TrimSpace(a.address)) || !msg.IsText() {
		return agent.Reply{}, nil
	}

	started := a.now()
	item, ok := a.parser.Parse(msg.Text)
	if !ok {
		a.logger.Debug("未识别的指令", slog.String("sender", msg.SenderID))
		return agent.Say(UnknownCommandReply), nil
	}

	content := PlaceholderResponse(item)
	finished := a.now()
	elapsed := finished.Sub(started)

	exchange := Exchange{
		Request: Request{
			Request:       msg.Text,
			RequestedItem: item,
			Timestamp:     finished.UTC(),
		},
		Response: Response{
			RequestID:      activity.NewID(finished),
			MessageID:      msg.ID,
			Item:           item,
			Content:        content,
			ResponseTimeMs: float64(elapsed) / float64(time.Millisecond),
		},
	}

	a.mu.Lock()
	a.requests++
	a.totalTime += elapsed
	a.exchanges = append(a.exchanges, exchange)
	if len(a.exchanges) > keptResponses {
		a.exchanges = append([]Exchange(nil), a.exchanges[len(a.exchanges)-keptResponses:]...)
	}
	a.mu.Unlock()

	logger.Audit().Info("farm 完成指令",
		slog.String("sender", msg.SenderID),
		slog.String("item", item),
		slog.String("request_id", exchange.Response.RequestID),
	)
	return agent.Say(content), nil
}

// Stats 返回当前统计，最近回复最多 10 条。
func (a *Agent) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := Stats{Address: a.address, RequestCount: a.requests, RecentResponses: []Exchange{}}
	if a.requests > 0 {
		stats.AvgResponseTimeMs = float64(a.totalTime) / float64(time.Millisecond) / float64(a.requests)
	}
	start := len(a.exchanges) - exposedResponses
	if start < 0 {
		start = 0
	}
	stats.RecentResponses = append(stats.RecentResponses, a.exchanges[start:]...)
	return stats
}
