package payment

import (
	"regexp"
	"strconv"
)

var (
	confirmationPattern     = regexp.MustCompile(`(?i)i agree|i'll pay|i will pay|confirmed`)
	commitmentAmountPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*usdc?`)
)

// Commitment 是从一条消息中解析出的付款确认。
type Commitment struct {
	Amount    *float64
	Confirmed bool
}

// Complete 报告确认语句与金额是否同时存在。
func (c Commitment) Complete() bool {
	return c.Confirmed && c.Amount != nil
}

// ParseCommitmentConfirmation 分别识别确认语句与 USDC 金额，两者互不依赖。
func ParseCommitmentConfirmation(text string) Commitment {
	commitment := Commitment{Confirmed: confirmationPattern.MatchString(text)}
	if match := commitmentAmountPattern.FindStringSubmatch(text); match != nil {
		if amount, err := strconv.ParseFloat(match[1], 64); err == nil {
			commitment.Amount = &amount
		}
	}
	return commitment
}
