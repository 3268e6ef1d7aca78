package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nerdneilsfield/go-vntrans/internal/glossary"
	"github.com/nerdneilsfield/go-vntrans/pkg/backends"
)

const (
	// TranslatingPlaceholder 等待译文时的占位文本
	TranslatingPlaceholder = "翻译中..."

	// FailurePrefix 失败占位符前缀，带此前缀的文本永不入缓存
	FailurePrefix = "[翻译失败"
)

// FailurePlaceholder 构造失败占位文本
// 完整错误进日志，占位符里只放简短标识。
func FailurePlaceholder(err error) string {
	var be *backends.BackendError
	if errors.As(err, &be) {
		return fmt.Sprintf("%s: %s]", FailurePrefix, be.Code)
	}
	return fmt.Sprintf("%s: %v]", FailurePrefix, err)
}

// IsFailure 判断文本是否为失败占位符
func IsFailure(text string) bool {
	return strings.HasPrefix(text, FailurePrefix)
}

// Formatter 负责上屏文本的全部格式化
// 渲染端只做输出，说话人前缀、斜体标记、残留序号清理都在这里完成。
type Formatter struct {
	gloss *glossary.Glossary
}

// NewFormatter 创建格式化器
func NewFormatter(gloss *glossary.Glossary) *Formatter {
	return &Formatter{gloss: gloss}
}

// FormatDisplay 格式化一条译文
func (f *Formatter) FormatDisplay(speaker, text string, italic bool) string {
	text = backends.CleanSegment(text)
	if f.gloss != nil {
		text = f.gloss.Apply(text)
	}
	if italic {
		text = "<i>" + text + "</i>"
	}
	return f.prefix(speaker, text)
}

// FormatPlaceholder 格式化占位文本，只加说话人前缀
func (f *Formatter) FormatPlaceholder(speaker, text string) string {
	return f.prefix(speaker, text)
}

func (f *Formatter) prefix(speaker, text string) string {
	if speaker == "" {
		return text
	}
	if f.gloss != nil {
		speaker = f.gloss.Apply(speaker)
	}
	return "【" + speaker + "】" + text
}
