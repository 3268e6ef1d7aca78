package render

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
)

// 行级斜体，避免转义序列干扰宽度计算
const (
	italicOn  = "\x1b[3m"
	italicOff = "\x1b[23m"
)

// defaultBoxWidth 文本框内容的显示宽度
const defaultBoxWidth = 58

// Console 终端展示面
// 以等宽文本框输出译文，中日韩全角字符按双宽度折行。
type Console struct {
	mu    sync.Mutex
	out   io.Writer
	width int
}

var _ Renderer = (*Console)(nil)

// NewConsole 创建终端展示面
func NewConsole(out io.Writer) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{
		out:   out,
		width: defaultBoxWidth,
	}
}

// Display 输出一条译文
func (c *Console) Display(text string) {
	italic := strings.Contains(text, "<i>")
	if italic {
		text = strings.ReplaceAll(text, "<i>", "")
		text = strings.ReplaceAll(text, "</i>", "")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	border := strings.Repeat("─", c.width+2)
	fmt.Fprintf(c.out, "┌%s┐\n", border)
	for _, line := range wrapLines(text, c.width) {
		pad := strings.Repeat(" ", c.width-runewidth.StringWidth(line))
		if italic {
			fmt.Fprintf(c.out, "│ %s%s%s%s │\n", italicOn, line, italicOff, pad)
		} else {
			fmt.Fprintf(c.out, "│ %s%s │\n", line, pad)
		}
	}
	fmt.Fprintf(c.out, "└%s┘\n", border)
}

// Notify 输出一次性提醒
func (c *Console) Notify(title, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	warn := color.New(color.FgYellow, color.Bold)
	warn.Fprintf(c.out, "⚠ %s\n", title)
	fmt.Fprintf(c.out, "%s\n", message)
}

// wrapLines 按显示宽度折行
func wrapLines(text string, width int) []string {
	var out []string
	for _, raw := range strings.Split(text, "\n") {
		if raw == "" {
			out = append(out, "")
			continue
		}

		var sb strings.Builder
		w := 0
		for _, r := range raw {
			rw := runewidth.RuneWidth(r)
			if w+rw > width && w > 0 {
				out = append(out, sb.String())
				sb.Reset()
				w = 0
			}
			sb.WriteRune(r)
			w += rw
		}
		if sb.Len() > 0 {
			out = append(out, sb.String())
		}
	}
	if len(out) == 0 {
		out = append(out, "")
	}
	return out
}
