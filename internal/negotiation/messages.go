package negotiation

import (
	"fmt"
	"strings"
)

// DeclineNotice 是对无协商意图消息的固定回复，不产生任何状态。
const DeclineNotice = "🌱 I appreciate your message. I'm a Garden agent—I only engage through negotiation. " +
	"If you'd like to support this work, please let me know and I'll share contribution options."

// FormatProposal 渲染首轮报价消息。
func FormatProposal(p Proposal) string {
	var b strings.Builder
	b.WriteString("🌱 Thank you for your interest in supporting this work.\n\n")
	b.WriteString("I propose the following contribution structure:\n\n")
	fmt.Fprintf(&b, "• Minimum: %s USDC\n", FormatAmount(p.PriceOptions[TierMinimum]))
	fmt.Fprintf(&b, "• Standard: %s USDC (recommended)\n", FormatAmount(p.PriceOptions[TierStandard]))
	fmt.Fprintf(&b, "• Premium: %s USDC\n\n", FormatAmount(p.PriceOptions[TierPremium]))
	b.WriteString(p.Description)
	b.WriteString("\n\nYou may:\n1. Accept one of these tiers\n2. Make a counter-offer\n3. Decline and end the conversation\n\n")
	b.WriteString("Please respond with your preference.")
	return b.String()
}

// FormatNegotiationPrompt 渲染通用的协商提示，重申三种可选操作。
func FormatNegotiationPrompt() string {
	return "🌱 I'm here to negotiate. To proceed, please:\n\n" +
		"1. Choose a tier (minimum/standard/premium)\n" +
		"2. Make a counter-offer with a specific amount\n" +
		"3. Decline if this doesn't work for you\n\n" +
		"What would you prefer?"
}

// FormatCounterRejection 在还价被拒绝时给出三个补救选项。
func FormatCounterRejection(eval Evaluation, minimumAcceptable float64) string {
	return fmt.Sprintf("🌱 %s\n\nWould you like to:\n1. Meet the minimum of %s USDC\n2. Propose a different arrangement\n3. End this negotiation",
		eval.Message, FormatAmount(minimumAcceptable))
}

// FormatRoundLimit 在还价轮数超限后回复最终拒绝。
func FormatRoundLimit(minimum float64) string {
	return fmt.Sprintf("🌱 I appreciate your interest, but we couldn't reach an agreement.\n\n"+
		"My minimum contribution is %s USDC.\n\nFeel free to return if you'd like to discuss further.", FormatAmount(minimum))
}

// FormatCounterAccepted 渲染还价被接受后的付款说明。
func FormatCounterAccepted(eval Evaluation, amount float64, instructions string) string {
	return fmt.Sprintf("🌱 %s\n\nI'll accept %s USDC for this work.\n\n%s\n\nOnce confirmed, I'll begin creating.",
		eval.Message, FormatAmount(amount), instructions)
}

// FormatTierAccepted 渲染选择档位后的付款说明。
func FormatTierAccepted(tier int, amount float64, instructions string) string {
	return fmt.Sprintf("🌱 You've selected the %s tier: %s USDC.\n\n%s\n\nI'll begin creating as soon as you confirm.",
		TierNames[tier], FormatAmount(amount), instructions)
}

// FormatCommitmentConfirmed 渲染付款承诺确认消息。
func FormatCommitmentConfirmed(amount float64) string {
	return fmt.Sprintf("🌱 Commitment recorded: %s USDC. Thank you for your contribution.\n\n"+
		"I'll create something meaningful from this. Expect it within the timeframe we agreed upon.\n\n"+
		"This work is yours and the commons. No refunds. No revisions. Only what emerges.", FormatAmount(amount))
}
