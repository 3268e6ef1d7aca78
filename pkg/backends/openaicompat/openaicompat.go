// Package openaicompat 通过 OpenAI 兼容的 chat/completions 协议接入多家厂商。
// 内置中转、DeepSeek、智谱、Moonshot、xAI、阿里云、火山引擎、硅基流动以及
// 自定义端点共用这一个适配器，只在默认端点和默认模型上有差别。
package openaicompat

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-vntrans/pkg/backends"
	"github.com/nerdneilsfield/go-vntrans/pkg/backends/retry"
)

// Preset 厂商预设
type Preset struct {
	BaseURL string
	Model   string
}

// Presets 各厂商的默认端点与默认模型，均可被配置覆盖
var Presets = map[string]Preset{
	"builtin":     {BaseURL: "https://relay.vntrans.app/v1", Model: "gpt-4o-mini"},
	"deepseek":    {BaseURL: "https://api.deepseek.com/v1", Model: "deepseek-chat"},
	"zhipu":       {BaseURL: "https://open.bigmodel.cn/api/paas/v4", Model: "glm-4-flash"},
	"moonshot":    {BaseURL: "https://api.moonshot.cn/v1", Model: "moonshot-v1-8k"},
	"xai":         {BaseURL: "https://api.x.ai/v1", Model: "grok-2-latest"},
	"alibaba":     {BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1", Model: "qwen-turbo"},
	"volcengine":  {BaseURL: "https://ark.cn-beijing.volces.com/api/v3", Model: "doubao-lite-32k"},
	"siliconflow": {BaseURL: "https://api.siliconflow.cn/v1", Model: "Qwen/Qwen2.5-7B-Instruct"},
	"custom":      {},
}

// Config 适配器配置
type Config struct {
	backends.BaseConfig
	Vendor string `json:"vendor"`
}

// Client OpenAI 兼容后端
type Client struct {
	config Config
	logger *zap.Logger
	gate   *backends.Throttle

	mu         sync.Mutex
	client     *openai.Client
	httpClient *http.Client
}

var _ backends.Backend = (*Client)(nil)
var _ backends.Warmer = (*Client)(nil)

// New 创建 OpenAI 兼容后端
// 配置中留空的端点和模型用厂商预设补齐。
func New(cfg Config, logger *zap.Logger) *Client {
	if preset, ok := Presets[cfg.Vendor]; ok {
		if cfg.APIEndpoint == "" {
			cfg.APIEndpoint = preset.BaseURL
		}
		if cfg.Model == "" {
			cfg.Model = preset.Model
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		config: cfg,
		logger: logger,
		gate:   backends.NewThrottle(cfg.MinInterval),
	}
}

// Name 返回引擎名称
func (c *Client) Name() string {
	if c.config.Vendor != "" {
		return c.config.Vendor
	}
	return "openaicompat"
}

// TranslateOne 翻译单句
func (c *Client) TranslateOne(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	out, err := c.TranslateBatch(ctx, []string{text}, sourceLang, targetLang)
	if err != nil {
		return "", err
	}
	return out[0], nil
}

// TranslateBatch 批量翻译
func (c *Client) TranslateBatch(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error) {
	return backends.RunBatch(ctx, texts, sourceLang, targetLang, c.config.KeepNames, c.chat, c.logger)
}

// Warmup 用模型列表探活，不消耗补全额度
func (c *Client) Warmup(ctx context.Context) error {
	client, _ := c.ensureClient()
	if _, err := client.ListModels(ctx); err != nil {
		return backends.NewUnreachableError(c.Name(), c.config.APIEndpoint, err)
	}
	return nil
}

// Close 释放空闲连接，可重复调用；下一次请求会重新建立客户端
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
	}
	c.client = nil
	c.httpClient = nil
	return nil
}

// ensureClient 延迟创建底层客户端，Close 之后并发首用也只建一次
func (c *Client) ensureClient() (*openai.Client, *http.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		httpClient := &http.Client{Timeout: c.config.Timeout}

		sdkCfg := openai.DefaultConfig(c.config.APIKey)
		sdkCfg.HTTPClient = httpClient
		if c.config.APIEndpoint != "" {
			sdkCfg.BaseURL = strings.TrimSuffix(c.config.APIEndpoint, "/")
		}

		c.client = openai.NewClientWithConfig(sdkCfg)
		c.httpClient = httpClient
	}

	return c.client, c.httpClient
}

// chat 发送一次对话补全，内部完成节流与网络级重试
func (c *Client) chat(ctx context.Context, system, user string) (string, error) {
	client, _ := c.ensureClient()

	req := openai.ChatCompletionRequest{
		Model: c.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
	}

	retryCfg := retry.DefaultConfig()
	var lastErr error

	for attempt := 1; attempt <= retryCfg.MaxAttempts; attempt++ {
		if err := c.gate.Wait(ctx); err != nil {
			return "", err
		}

		resp, err := client.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", backends.NewBackendError(backends.ErrCodeAPI, c.Name(), "no choices in completion", backends.ErrEmptyResponse)
			}
			return resp.Choices[0].Message.Content, nil
		}

		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			if isAuthExpired(apiErr) {
				return "", backends.NewAuthExpiredError(c.Name())
			}
			if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
				lastErr = errors.Join(backends.ErrRateLimited, err)
				c.logger.Warn("rate limited, backing off",
					zap.String("engine", c.Name()),
					zap.Int("attempt", attempt))
				if werr := sleepBackoff(ctx, retryCfg.RateLimitBase, attempt); werr != nil {
					return "", werr
				}
				continue
			}
			if apiErr.HTTPStatusCode >= 500 {
				lastErr = err
				if werr := sleepBackoff(ctx, retryCfg.InitialDelay, attempt); werr != nil {
					return "", werr
				}
				continue
			}
			return "", backends.NewBackendError(backends.ErrCodeAPI, c.Name(), apiErr.Message, err)
		}

		if retry.IsNetworkError(err) {
			lastErr = err
			c.logger.Warn("network error, retrying",
				zap.String("engine", c.Name()),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if werr := sleepBackoff(ctx, retryCfg.InitialDelay, attempt); werr != nil {
				return "", werr
			}
			continue
		}

		return "", err
	}

	if retry.IsNetworkError(lastErr) {
		return "", backends.NewUnreachableError(c.Name(), c.config.APIEndpoint, lastErr)
	}
	return "", backends.NewBackendError(backends.ErrCodeAPI, c.Name(), "retries exhausted", lastErr)
}

// sleepBackoff 按指数退避等待，ctx 取消时返回其错误
func sleepBackoff(ctx context.Context, base time.Duration, attempt int) error {
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isAuthExpired 识别服务端的凭证过期信号
// 内置中转在密钥失效时返回 type 为 expired_key 的 400 响应。
func isAuthExpired(apiErr *openai.APIError) bool {
	if apiErr.Type == "expired_key" {
		return true
	}
	if code, ok := apiErr.Code.(string); ok {
		if code == "expired_key" || code == "invalid_api_key" {
			return true
		}
	}
	return apiErr.HTTPStatusCode == http.StatusUnauthorized
}
