package negotiation

import (
	"fmt"
	"strconv"
)

// Tier 索引与 Proposal.PriceOptions 的下标一一对应。
const (
	TierMinimum = iota
	TierStandard
	TierPremium
)

// TierNames 按档位顺序给出档位名称。
var TierNames = [3]string{"minimum", "standard", "premium"}

const proposalDescription = "Contribution to support ongoing work"

// PolicyConfig 描述协商策略的可配置参数。
type PolicyConfig struct {
	TierAmounts [3]float64
	Flexibility float64
	MaxRounds   int
}

// DefaultPolicyConfig 返回 5/25/100、20% 弹性、3 轮的默认策略。
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{TierAmounts: [3]float64{5, 25, 100}, Flexibility: 0.2, MaxRounds: 3}
}

// Proposal 是发送给对方的报价，发送后不可修改。
type Proposal struct {
	BasePriceAmount float64    `json:"basePriceAmount"`
	PriceOptions    [3]float64 `json:"priceOptions"`
	Description     string     `json:"description"`
}

// Evaluation 是对一次还价的评估结果。
type Evaluation struct {
	Accepted bool
	Message  string
}

// Policy 是无状态、确定性的定价与评估逻辑。
type Policy struct {
	cfg        PolicyConfig
	classifier IntentClassifier
}

// NewPolicy 使用给定配置和意图分类器构造 Policy；classifier 为空时
// 使用默认正则集合。
func NewPolicy(cfg PolicyConfig, classifier IntentClassifier) *Policy {
	if cfg.TierAmounts == [3]float64{} {
		cfg.TierAmounts = DefaultPolicyConfig().TierAmounts
	}
	if classifier == nil {
		classifier = MustPatternClassifier(DefaultSupportPatterns...)
	}
	return &Policy{cfg: cfg, classifier: classifier}
}

// Config 返回策略配置。
func (p *Policy) Config() PolicyConfig {
	return p.cfg
}

// CreateProposal 以标准档为基准价生成三档报价。
func (p *Policy) CreateProposal() Proposal {
	return Proposal{
		BasePriceAmount: p.cfg.TierAmounts[TierStandard],
		PriceOptions:    p.cfg.TierAmounts,
		Description:     proposalDescription,
	}
}

// MinimumAcceptable 返回弹性下限：最低档 * (1 - flexibility)。
func (p *Policy) MinimumAcceptable() float64 {
	return p.cfg.TierAmounts[TierMinimum] * (1 - p.cfg.Flexibility)
}

// EvaluateOffer 评估对方的还价，两个分支的边界都是包含的。
func (p *Policy) EvaluateOffer(amount float64) Evaluation {
	minimum := p.cfg.TierAmounts[TierMinimum]
	floor := p.MinimumAcceptable()

	switch {
	case amount >= minimum:
		return Evaluation{
			Accepted: true,
			Message:  fmt.Sprintf("Your offer of %s USDC is acceptable. Proceeding to payment.", FormatAmount(amount)),
		}
	case amount >= floor:
		return Evaluation{
			Accepted: true,
			Message:  fmt.Sprintf("Your offer of %s USDC is acceptable (within flexible range). Proceeding to payment.", FormatAmount(amount)),
		}
	default:
		return Evaluation{
			Accepted: false,
			Message: fmt.Sprintf("I cannot accept %s USDC. My minimum is %s USDC (flexible to %.2f).",
				FormatAmount(amount), FormatAmount(minimum), floor),
		}
	}
}

// IsSupportIntent 判断消息是否表达了支持/付费意图。
func (p *Policy) IsSupportIntent(text string) bool {
	return p.classifier.IsSupportIntent(text)
}

// ExtractCounterOffer 从消息中提取还价金额。
func (p *Policy) ExtractCounterOffer(text string) (float64, bool) {
	return ExtractCounterOffer(text)
}

// ExtractTierSelection 从消息中提取选中的档位下标。
func (p *Policy) ExtractTierSelection(text string) (int, bool) {
	return ExtractTierSelection(text)
}

// RoundLimitReached 报告还价轮数是否已超过配置的上限。
// 是否据此终止协商由调用方决定。
func (p *Policy) RoundLimitReached(rounds int) bool {
	return p.cfg.MaxRounds > 0 && rounds > p.cfg.MaxRounds
}

// FormatAmount 以最短形式输出金额，例如 25、12.5。
func FormatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}
