// Package conversation 持久化 Garden agent 与每个对话方之间的协商状态。
//
// 对话以对话方标识的小写形式为键，所有后端都以 JSON 形式保存，并带有过期时间，
// 因此 agent 重启后可以在同一对话处继续协商。
package conversation

import (
	"strings"
	"time"

	xerrors "yield-garden/internal/errors"
	"yield-garden/internal/negotiation"
)

// Role 标识消息的发送方。
type Role string

const (
	RoleCounterparty Role = "counterparty"
	RoleAgent        Role = "agent"
)

// State 是从持久化字段推导出的协商阶段。
type State string

const (
	StateNoConversation      State = "no_conversation"
	StateProposalSent        State = "proposal_sent"
	StateCounterOfferPending State = "counter_offer_pending"
	StateAccepted            State = "accepted"
	StatePaymentCommitted    State = "payment_committed"
)

// Message 是对话中的一条记录。
type Message struct {
	Role   Role      `json:"role"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sentAt"`
}

// Conversation 记录与单个对话方的协商进度。
type Conversation struct {
	CounterpartyID     string                `json:"counterpartyId"`
	ThreadID           string                `json:"conversationThreadId"`
	Proposal           *negotiation.Proposal `json:"proposal,omitempty"`
	CounterOffer       *float64              `json:"counterOffer,omitempty"`
	Accepted           bool                  `json:"accepted"`
	PaymentCommitted   bool                  `json:"paymentCommitted"`
	PaymentAgreementID string                `json:"paymentAgreementId,omitempty"`
	Messages           []Message             `json:"messages"`
	Rounds             int                   `json:"rounds"`
	CreatedAt          time.Time             `json:"createdAt"`
	UpdatedAt          time.Time             `json:"updatedAt"`
}

// New 创建一个空对话，调用方需在保存前至少追加一条消息。
func New(counterpartyID, threadID string, now time.Time) *Conversation {
	return &Conversation{
		CounterpartyID: counterpartyID,
		ThreadID:       threadID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Append 追加一条消息并刷新 UpdatedAt。
func (c *Conversation) Append(role Role, text string, at time.Time) {
	c.Messages = append(c.Messages, Message{Role: role, Text: text, SentAt: at})
	c.Touch(at)
}

// Touch 刷新 UpdatedAt，时间不会倒退。
func (c *Conversation) Touch(at time.Time) {
	if at.After(c.UpdatedAt) {
		c.UpdatedAt = at
	}
}

// MarkAccepted 将对话标记为已接受。接受状态一旦设置不会被清除。
func (c *Conversation) MarkAccepted() {
	c.Accepted = true
}

// State 根据字段推导当前协商阶段。
func (c *Conversation) State() State {
	switch {
	case c == nil:
		return StateNoConversation
	case c.PaymentCommitted:
		return StatePaymentCommitted
	case c.Accepted:
		return StateAccepted
	case c.CounterOffer != nil:
		return StateCounterOfferPending
	default:
		return StateProposalSent
	}
}

// Validate 检查持久化前必须成立的不变式。
func (c *Conversation) Validate() error {
	if c == nil {
		return xerrors.New(CodeConversationInvalid, "conversation is nil")
	}
	if NormalizeID(c.CounterpartyID) == "" {
		return xerrors.New(CodeConversationInvalid, "counterparty id is required")
	}
	if len(c.Messages) == 0 {
		return xerrors.New(CodeConversationInvalid, "conversation has no messages",
			xerrors.WithMetadata("counterparty", c.CounterpartyID))
	}
	if c.Accepted && c.Proposal == nil && c.CounterOffer == nil {
		return xerrors.New(CodeConversationInvalid, "accepted conversation has neither proposal nor counter-offer",
			xerrors.WithMetadata("counterparty", c.CounterpartyID))
	}
	return nil
}

// NormalizeID 返回对话方标识的规范键形式。
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
