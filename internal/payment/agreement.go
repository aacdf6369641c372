// Package payment 记录对话方做出的付款承诺。
//
// 承诺是社交层面的确认而非链上结算：对话方在聊天中回复同意支付某个金额后，
// agent 生成一条 Agreement 并把状态推进到 in_progress。状态只会向前移动。
package payment

import (
	"fmt"
	"time"

	xerrors "yield-garden/internal/errors"
)

// Status 表示付款承诺所处的阶段。
type Status string

const (
	StatusPending    Status = "pending"
	StatusCommitted  Status = "committed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Rank 返回状态在推进顺序中的位置，未知状态为 -1。
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusCommitted:
		return 1
	case StatusInProgress:
		return 2
	case StatusCompleted:
		return 3
	}
	return -1
}

// Counted 报告该状态的金额是否计入承诺总额。
func (s Status) Counted() bool {
	return s.Rank() >= StatusCommitted.Rank()
}

// CodeAgreementNotFound 用于 API 层对未知承诺的查询，tracker 本身不返回该错误。
const CodeAgreementNotFound xerrors.Code = "AGREEMENT_NOT_FOUND"

func init() {
	xerrors.Register(CodeAgreementNotFound, xerrors.Attributes{
		Message:  "payment agreement not found",
		Severity: xerrors.SeverityInfo,
	})
}

// Agreement 是一次付款承诺。
type Agreement struct {
	ID             string     `json:"id"`
	ThreadID       string     `json:"threadId"`
	CounterpartyID string     `json:"counterpartyId"`
	Amount         float64    `json:"amountUsdc"`
	Description    string     `json:"description"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	CommittedAt    *time.Time `json:"committedAt,omitempty"`
	WorkStartedAt  *time.Time `json:"workStartedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// AgreementID 按 "<threadID>-<unix 毫秒>" 生成承诺编号。
func AgreementID(threadID string, at time.Time) string {
	return fmt.Sprintf("%s-%d", threadID, at.UnixMilli())
}

// advance 将状态推进到 to 并记录对应时间戳；倒退或原地转换返回 false。
func (a *Agreement) advance(to Status, at time.Time) bool {
	if to.Rank() <= a.Status.Rank() {
		return false
	}
	a.Status = to
	ts := at
	switch to {
	case StatusCommitted:
		a.CommittedAt = &ts
	case StatusInProgress:
		a.WorkStartedAt = &ts
	case StatusCompleted:
		a.CompletedAt = &ts
	}
	return true
}

func (a *Agreement) clone() *Agreement {
	if a == nil {
		return nil
	}
	cp := *a
	cp.CommittedAt = cloneTime(a.CommittedAt)
	cp.WorkStartedAt = cloneTime(a.WorkStartedAt)
	cp.CompletedAt = cloneTime(a.CompletedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
