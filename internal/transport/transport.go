// Package transport 抽象了 agents 收发聊天消息的通道。
//
// 与真实的去中心化消息网络一致，订阅者也会收到自己发出的消息，
// 由上层按发送方过滤。传输层不做重试：发送失败直接返回给调用方，
// 处理失败的入站消息不会被重新投递。
package transport

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "yield-garden/internal/errors"
)

// ContentTypeText 是唯一可被 agents 解释的消息类型。
const ContentTypeText = "text/plain"

// Message 是一条聊天消息。
type Message struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId"`
	ThreadID    string    `json:"threadId"`
	Text        string    `json:"text"`
	ContentType string    `json:"contentType"`
	SentAt      time.Time `json:"sentAt"`
}

// IsText 报告消息是否为纯文本。
func (m Message) IsText() bool {
	return m.ContentType == "" || m.ContentType == ContentTypeText
}

// Handler 处理一条入站消息。
type Handler func(ctx context.Context, msg Message) error

// Transport 是 agent 的收发端点。
type Transport interface {
	// Address 返回本端点的身份标识。
	Address() string
	// Send 向 recipient 发送文本，返回投递编号。
	Send(ctx context.Context, recipient, text string) (string, error)
	// Subscribe 阻塞消费入站消息直到 ctx 结束。
	Subscribe(ctx context.Context, workers int, handler Handler) error
	Close() error
}

// ThreadID 为两个参与方生成与方向无关的会话编号。
func ThreadID(a, b string) string {
	pair := []string{normalize(a), normalize(b)}
	sort.Strings(pair)
	return "dm:" + pair[0] + ":" + pair[1]
}

// NewMessage 构造一条从 sender 发往 recipient 的文本消息。
func NewMessage(sender, recipient, text string, now time.Time) Message {
	return Message{
		ID:          uuid.NewString(),
		SenderID:    sender,
		RecipientID: recipient,
		ThreadID:    ThreadID(sender, recipient),
		Text:        text,
		ContentType: ContentTypeText,
		SentAt:      now.UTC(),
	}
}

func normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransportFailure, err, "encode message")
	}
	return data, nil
}

func decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, xerrors.Wrap(xerrors.CodeTransportFailure, err, "decode message")
	}
	return msg, nil
}
