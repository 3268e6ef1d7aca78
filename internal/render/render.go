// Package render 定义译文的展示面。
package render

// Renderer 展示面
// Display 输出一条格式化完成的译文，Notify 用于一次性提醒（如凭证过期）。
type Renderer interface {
	Display(text string)
	Notify(title, message string)
}
