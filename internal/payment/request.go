package payment

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	xerrors "yield-garden/internal/errors"
	"yield-garden/internal/negotiation"
)

// RequestVersion 是当前付款请求结构的版本号。
const RequestVersion = "1"

// AssetUSDC 是唯一支持的结算资产。
const AssetUSDC = "USDC"

// Scheme 标识结算方式。
type Scheme string

const (
	// SchemeSocial 通过聊天中的确认语句完成承诺。
	SchemeSocial Scheme = "social"
	// SchemeX402 额外附带 x402 风格的结构化请求，结算仍由对话方确认。
	SchemeX402 Scheme = "x402"
)

// ParseScheme 解析配置中的结算方式，空值视为 social。
func ParseScheme(raw string) (Scheme, error) {
	switch Scheme(strings.ToLower(strings.TrimSpace(raw))) {
	case "", SchemeSocial:
		return SchemeSocial, nil
	case SchemeX402:
		return SchemeX402, nil
	}
	return "", xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("unsupported payment scheme %q", raw))
}

// Request 是带版本号的付款请求，与具体结算方式无关。
type Request struct {
	Version     string  `json:"version"`
	Scheme      Scheme  `json:"scheme"`
	Amount      float64 `json:"amount"`
	Asset       string  `json:"asset"`
	Recipient   string  `json:"recipient"`
	ChainID     int64   `json:"chainId"`
	Network     string  `json:"network,omitempty"`
	Description string  `json:"description"`
	Nonce       string  `json:"nonce"`
}

// RequestParams 描述生成付款请求所需的上下文。
type RequestParams struct {
	Scheme      Scheme
	Recipient   string
	ChainID     int64
	Network     string
	Amount      float64
	Description string
}

// NewRequest 生成一个带随机 nonce 的付款请求。
func NewRequest(params RequestParams) Request {
	scheme := params.Scheme
	if scheme == "" {
		scheme = SchemeSocial
	}
	return Request{
		Version:     RequestVersion,
		Scheme:      scheme,
		Amount:      params.Amount,
		Asset:       AssetUSDC,
		Recipient:   params.Recipient,
		ChainID:     params.ChainID,
		Network:     params.Network,
		Description: params.Description,
		Nonce:       uuid.NewString(),
	}
}

// Validate 检查请求是否可以发送给对话方。
func (r Request) Validate() error {
	if r.Version != RequestVersion {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unsupported payment request version %q", r.Version))
	}
	if r.Scheme != SchemeSocial && r.Scheme != SchemeX402 {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unsupported payment scheme %q", r.Scheme))
	}
	if !(r.Amount > 0) {
		return xerrors.New(xerrors.CodeInvalidArgument, "payment amount must be positive")
	}
	return nil
}

// ConfirmationPhrase 是对话方确认承诺时应回复的语句。
func (r Request) ConfirmationPhrase() string {
	return fmt.Sprintf("I agree to pay %s %s", negotiation.FormatAmount(r.Amount), r.Asset)
}

// Instructions 渲染发送给对话方的付款说明。
func (r Request) Instructions() string {
	var b strings.Builder
	b.WriteString("Payment Request\n\n")
	fmt.Fprintf(&b, "Amount: %s %s\n", negotiation.FormatAmount(r.Amount), r.Asset)
	if r.Description != "" {
		fmt.Fprintf(&b, "For: %s\n", r.Description)
	}
	if r.Scheme == SchemeX402 {
		payload, err := json.MarshalIndent(r, "", "  ")
		if err == nil {
			b.WriteString("\nPayment requirements:\n\n```json\n")
			b.Write(payload)
			b.WriteString("\n```\n")
		}
	}
	fmt.Fprintf(&b, "\nTo proceed, reply with:\n\"%s\"", r.ConfirmationPhrase())
	return b.String()
}
