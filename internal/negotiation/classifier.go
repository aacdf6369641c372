package negotiation

import (
	"fmt"
	"regexp"
	"strings"
)

// IntentClassifier 判断一条消息是否表达了协商/付费意图。
type IntentClassifier interface {
	IsSupportIntent(text string) bool
}

// IntentFunc 允许用普通函数实现 IntentClassifier。
type IntentFunc func(text string) bool

// IsSupportIntent 实现 IntentClassifier。
func (f IntentFunc) IsSupportIntent(text string) bool { return f(text) }

// DefaultSupportPatterns 是识别支持意图的默认正则集合。
var DefaultSupportPatterns = []string{
	`support.*work`,
	`pay.*you`,
	`compensat`,
	`contribute`,
	`sponsor`,
	`fund`,
	`donate`,
	`i'd like to`,
	`i would like to`,
	`how much`,
	`pricing`,
	`cost`,
	`price`,
}

// PatternClassifier 使用一组大小写不敏感的正则做意图识别，模式作为配置数据传入。
type PatternClassifier struct {
	patterns []*regexp.Regexp
}

// NewPatternClassifier 编译给定的模式，任意模式非法时返回错误。
func NewPatternClassifier(patterns ...string) (*PatternClassifier, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, raw := range patterns {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + raw)
		if err != nil {
			return nil, fmt.Errorf("编译意图模式 %q 失败: %w", raw, err)
		}
		compiled = append(compiled, re)
	}
	return &PatternClassifier{patterns: compiled}, nil
}

// MustPatternClassifier 与 NewPatternClassifier 相同，但在模式非法时 panic。
func MustPatternClassifier(patterns ...string) *PatternClassifier {
	c, err := NewPatternClassifier(patterns...)
	if err != nil {
		panic(err)
	}
	return c
}

// IsSupportIntent 实现 IntentClassifier。
func (c *PatternClassifier) IsSupportIntent(text string) bool {
	for _, re := range c.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
