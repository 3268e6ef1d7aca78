package backends

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"
	"go.uber.org/zap"
)

// batchParseAttempts 同一批次因解析不足而整体重发的次数上限
const batchParseAttempts = 3

// numberedGroup 提取 "[n] 内容" 分组，内容一直取到下一个编号标记或文本结尾
// 需要前瞻断言，标准库 regexp 不支持，因此用 regexp2
var numberedGroup = regexp2.MustCompile(`\[(\d+)\]\s*(.+?)(?=\[\d+\]|$)`, regexp2.Singleline)

// leadingNumber 匹配译文段首残留的编号痕迹，如 "1. " "2) " "3- "
var leadingNumber = regexp.MustCompile(`^\d+\s*[.)\-、:：]\s*`)

// leadingBullet 匹配段首残留的列表符号
var leadingBullet = regexp.MustCompile(`^[-*]\s+`)

// ChatFunc 执行一次对话补全并返回原始回复
// 网络层重试由各适配器在此函数内部完成，RunBatch 只负责批次级的解析重试。
type ChatFunc func(ctx context.Context, system, user string) (string, error)

// BuildNumbered 把多句原文编码成 [n] 编号的批量请求体
func BuildNumbered(texts []string) string {
	var b strings.Builder
	for i, t := range texts {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%d] %s", i+1, t)
	}
	return b.String()
}

// ParseNumbered 严格解析批量回复
// 成功条件是解析出的编号分组不少于请求条数；按分组自带的编号归位，
// 缺失的编号以空串占位。分组不足时返回 ErrParseShortfall。
func ParseNumbered(reply string, want int) ([]string, error) {
	parsed := make(map[int]string)
	count := 0

	m, err := numberedGroup.FindStringMatch(reply)
	if err != nil {
		return nil, fmt.Errorf("numbered group match: %w", err)
	}
	for m != nil {
		groups := m.Groups()
		if len(groups) >= 3 {
			idx, convErr := strconv.Atoi(groups[1].String())
			if convErr == nil && idx >= 1 {
				if _, dup := parsed[idx]; !dup {
					parsed[idx] = strings.TrimSpace(groups[2].String())
					count++
				}
			}
		}
		m, _ = numberedGroup.FindNextMatch(m)
	}

	if count < want {
		return nil, fmt.Errorf("%w: got %d of %d", ErrParseShortfall, count, want)
	}

	out := make([]string, want)
	for i := 0; i < want; i++ {
		out[i] = CleanSegment(parsed[i+1])
	}
	return out, nil
}

// SplitLenient 宽松回退解析：按行切分，去掉空行后补齐或截断到恰好 want 条
func SplitLenient(reply string, want int) []string {
	var lines []string
	for _, line := range strings.Split(reply, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}

	out := make([]string, want)
	for i := 0; i < want; i++ {
		if i < len(lines) {
			out[i] = CleanSegment(lines[i])
		}
	}
	return out
}

// CleanSegment 清理单条译文上的编号、列表符号和包裹引号
func CleanSegment(s string) string {
	s = strings.TrimSpace(s)
	s = leadingNumber.ReplaceAllString(s, "")
	s = leadingBullet.ReplaceAllString(s, "")
	s = strings.Trim(s, `"'“”‘’`)
	return strings.TrimSpace(s)
}

// RunBatch 驱动一次完整的批量翻译：编号、请求、严格解析、整批重试、宽松回退
// 返回值与 texts 等长且顺序一致；单条输入退化为普通单句翻译。
func RunBatch(ctx context.Context, texts []string, sourceLang, targetLang string, keepNames bool, call ChatFunc, logger *zap.Logger) ([]string, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyBatch
	}

	if len(texts) == 1 {
		system := BuildSystemPrompt(sourceLang, targetLang, keepNames)
		raw, err := call(ctx, system, texts[0])
		if err != nil {
			return nil, err
		}
		return []string{CleanSegment(StripReasoning(raw))}, nil
	}

	want := len(texts)
	system := BuildBatchSystemPrompt(sourceLang, targetLang, keepNames, want)
	user := BuildNumbered(texts)

	var lastReply string
	for attempt := 1; attempt <= batchParseAttempts; attempt++ {
		raw, err := call(ctx, system, user)
		if err != nil {
			return nil, err
		}

		lastReply = StripReasoning(raw)
		out, parseErr := ParseNumbered(lastReply, want)
		if parseErr == nil {
			return out, nil
		}

		if logger != nil {
			logger.Warn("batch parse shortfall, resending whole batch",
				zap.Int("attempt", attempt),
				zap.Int("expected", want),
				zap.Error(parseErr))
		}
	}

	if logger != nil {
		logger.Warn("strict parse exhausted, falling back to line split",
			zap.Int("expected", want))
	}
	return SplitLenient(lastReply, want), nil
}
