package backends

import (
	"fmt"
	"regexp"
	"strings"
)

// reasoningBlock 匹配推理模型输出中的思考段落
var reasoningBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// BuildSystemPrompt 构建单句翻译的系统提示词
func BuildSystemPrompt(sourceLang, targetLang string, keepNames bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a professional visual novel dialogue translator. "+
		"Translate the user's text from %s to %s. "+
		"Keep the tone natural and colloquial, matching how game characters actually speak. "+
		"Output ONLY the translation, with no explanations and no quotation marks.",
		sourceLang, targetLang)

	if keepNames {
		fmt.Fprintf(&b, " ALL character names MUST remain in %s exactly as written; do NOT translate or transliterate names.", sourceLang)
	}

	return b.String()
}

// BuildBatchSystemPrompt 构建批量翻译的系统提示词
// 输入按 [n] 编号给出，要求输出保持同样的编号、同样的行数和顺序。
func BuildBatchSystemPrompt(sourceLang, targetLang string, keepNames bool, count int) string {
	var b strings.Builder

	b.WriteString(BuildSystemPrompt(sourceLang, targetLang, keepNames))
	fmt.Fprintf(&b, " The input contains %d numbered lines in the form \"[1] ...\" through \"[%d] ...\". "+
		"Translate each line independently and output exactly %d lines, "+
		"each prefixed with its original [n] marker, in the same order. "+
		"Never merge, split, reorder or omit lines.",
		count, count, count)

	return b.String()
}

// StripReasoning 去掉推理模型回复中的 <think> 段落
func StripReasoning(text string) string {
	if !strings.Contains(text, "<think>") {
		return text
	}
	return strings.TrimSpace(reasoningBlock.ReplaceAllString(text, ""))
}
