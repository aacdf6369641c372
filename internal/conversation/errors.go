package conversation

import xerrors "yield-garden/internal/errors"

const (
	// CodeConversationNotFound 表示对话不存在或已过期。
	CodeConversationNotFound xerrors.Code = "CONVERSATION_NOT_FOUND"
	// CodeConversationInvalid 表示对话违反了持久化前的不变式。
	CodeConversationInvalid xerrors.Code = "CONVERSATION_INVALID"
)

// ErrConversationNotFound 由 Store.Load 在键不存在时返回，可用 errors.Is 判断。
var ErrConversationNotFound = xerrors.New(CodeConversationNotFound, "conversation not found")

func init() {
	xerrors.Register(CodeConversationNotFound, xerrors.Attributes{
		Message:  "conversation not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeConversationInvalid, xerrors.Attributes{
		Message:  "conversation violates invariants",
		Severity: xerrors.SeverityWarning,
	})
}
