package backends

import (
	"context"
	"sync"
	"time"
)

// Backend 翻译后端的统一接口
// 所有适配器（官方 OpenAI、OpenAI 兼容、Gemini、Ollama）都实现这组方法
type Backend interface {
	// Name 返回引擎名称
	Name() string

	// TranslateOne 翻译单句
	TranslateOne(ctx context.Context, text, sourceLang, targetLang string) (string, error)

	// TranslateBatch 批量翻译，返回与输入等长且顺序一致的译文列表
	TranslateBatch(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error)

	// Close 释放底层连接资源，可重复调用
	Close() error
}

// Warmer 可选的预热能力
// 本地后端（如 Ollama）在首次翻译前加载模型会很慢，启动时调用 Warmup 可以消除首句延迟。
// 不具备该能力是合法状态，调用方通过类型断言探测。
type Warmer interface {
	Warmup(ctx context.Context) error
}

// BaseConfig 各后端共享的基础配置
type BaseConfig struct {
	APIKey      string            `json:"api_key,omitempty"`
	APIEndpoint string            `json:"api_endpoint,omitempty"`
	Model       string            `json:"model"`
	Temperature float32           `json:"temperature"`
	MaxTokens   int               `json:"max_tokens"`
	Timeout     time.Duration     `json:"timeout"`
	MinInterval time.Duration     `json:"min_interval"`
	KeepNames   bool              `json:"keep_names"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// DefaultBaseConfig 返回默认配置
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Temperature: 0.3,
		MaxTokens:   4096,
		Timeout:     60 * time.Second,
		MinInterval: 500 * time.Millisecond,
		KeepNames:   true,
		Headers:     make(map[string]string),
	}
}

// Throttle 按最小间隔节流请求
// 托管 API 通常限制请求频率，本地服务用更短的间隔即可。
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

// NewThrottle 创建节流器，interval 为两次请求之间的最小间隔
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{interval: interval}
}

// Wait 阻塞到距上次请求至少 interval，ctx 取消时提前返回其错误
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil || t.interval <= 0 {
		return nil
	}

	t.mu.Lock()
	wait := t.interval - time.Since(t.last)
	if wait <= 0 {
		t.last = time.Now()
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	t.mu.Lock()
	t.last = time.Now()
	t.mu.Unlock()
	return nil
}
