package negotiation

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

const maxCounterOffer = 10000

// 还价模式按顺序尝试，第一个解析成功且在 (0, 10000) 内的匹配生效。
var counterOfferPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\$?(\d+(?:\.\d{2})?)\s*(?:usdc|dollar|usd)?`),
	regexp.MustCompile(`(?i)(?:offer|propose|suggest)\s+\$?(\d+(?:\.\d{2})?)`),
	regexp.MustCompile(`(?i)(\d+(?:\.\d{2})?)\s*(?:is|seems|sounds)`),
}

var (
	tierMinimumPattern  = regexp.MustCompile(`minimum|min|tier\s*(one|1)`)
	tierStandardPattern = regexp.MustCompile(`standard|tier\s*(two|2)`)
	tierPremiumPattern  = regexp.MustCompile(`premium|tier\s*(three|3)`)
)

// ExtractCounterOffer 提取消息中的还价金额。
func ExtractCounterOffer(text string) (float64, bool) {
	for _, re := range counterOfferPatterns {
		match := re.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		amount, err := strconv.ParseFloat(match[1], 64)
		if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) {
			continue
		}
		if amount > 0 && amount < maxCounterOffer {
			return amount, true
		}
	}
	return 0, false
}

// ExtractTierSelection 识别 minimum/standard/premium 或 tier 1/2/3。
func ExtractTierSelection(text string) (int, bool) {
	lower := strings.ToLower(text)
	switch {
	case tierMinimumPattern.MatchString(lower):
		return TierMinimum, true
	case tierStandardPattern.MatchString(lower):
		return TierStandard, true
	case tierPremiumPattern.MatchString(lower):
		return TierPremium, true
	}
	return 0, false
}
