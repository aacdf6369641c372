package farm

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultCommandPatterns 是 Farm 识别的默认指令模式，第一个捕获组为物品。
var DefaultCommandPatterns = []string{
	`make me (?:a |an )?(.+?)(?:\?|!|\.|$)`,
	`create (?:a |an )?(.+?)(?:\?|!|\.|$)`,
	`give me (?:a |an )?(.+?)(?:\?|!|\.|$)`,
}

// UnknownCommandReply 是无法识别指令时的固定回复。
const UnknownCommandReply = "I only understand commands like 'Make me [something]'. What would you like me to create?"

// Parser 按顺序匹配指令模式。
type Parser struct {
	patterns []*regexp.Regexp
}

// NewParser 编译指令模式，模式为空时使用 DefaultCommandPatterns。
func NewParser(patterns ...string) (*Parser, error) {
	if len(patterns) == 0 {
		patterns = DefaultCommandPatterns
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, raw := range patterns {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + raw)
		if err != nil {
			return nil, fmt.Errorf("编译指令模式 %q 失败: %w", raw, err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("指令模式 %q 缺少捕获组", raw)
		}
		compiled = append(compiled, re)
	}
	return &Parser{patterns: compiled}, nil
}

// Parse 从消息中提取请求的物品，内容先转小写并去除首尾空白。
func (p *Parser) Parse(content string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(content))
	for _, re := range p.patterns {
		match := re.FindStringSubmatch(lower)
		if len(match) < 2 {
			continue
		}
		if item := strings.TrimSpace(match[1]); item != "" {
			return item, true
		}
	}
	return "", false
}

// PlaceholderResponse 为物品生成确定性的占位回复，模板由物品长度决定。
func PlaceholderResponse(item string) string {
	switch utf8.RuneCountInString(item) % 4 {
	case 0:
		return fmt.Sprintf("Here's your %s. It's crafted with precision and ready for use.", item)
	case 1:
		return fmt.Sprintf("Your %s is complete. Delivered as requested.", item)
	case 2:
		return fmt.Sprintf("%s delivered. No questions asked.", capitalize(item))
	default:
		return fmt.Sprintf("Here's your %s. Exactly what you asked for.", item)
	}
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
