// Package openai 基于 OpenAI 官方 SDK 的后端实现。
package openai

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-vntrans/pkg/backends"
	"github.com/nerdneilsfield/go-vntrans/pkg/backends/retry"
)

// getModel 根据字符串获取模型常量
func getModel(model string) openai.ChatModel {
	switch model {
	case "gpt-4":
		return openai.ChatModelGPT4
	case "gpt-4-turbo":
		return openai.ChatModelGPT4Turbo
	case "gpt-4o":
		return openai.ChatModelGPT4o
	case "gpt-4o-mini":
		return openai.ChatModelGPT4oMini
	case "gpt-3.5-turbo":
		return openai.ChatModelGPT3_5Turbo
	default:
		return openai.ChatModel(model)
	}
}

// Client OpenAI 官方后端
type Client struct {
	config backends.BaseConfig
	logger *zap.Logger
	gate   *backends.Throttle

	mu     sync.Mutex
	client *openai.Client
}

var _ backends.Backend = (*Client)(nil)
var _ backends.Warmer = (*Client)(nil)

// New 创建 OpenAI 官方后端
func New(cfg backends.BaseConfig, logger *zap.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
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
func (c *Client) Name() string { return "openai" }

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

// Warmup 发送一条最小补全验证连通性
func (c *Client) Warmup(ctx context.Context) error {
	client := c.ensureClient()

	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage("Hello"),
		},
		Model:     getModel(c.config.Model),
		MaxTokens: openai.Int(10),
	}
	if _, err := client.Chat.Completions.New(ctx, params); err != nil {
		return c.classify(err)
	}
	return nil
}

// Close 释放底层客户端，可重复调用
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = nil
	return nil
}

// ensureClient 延迟创建 SDK 客户端
func (c *Client) ensureClient() *openai.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		opts := []option.RequestOption{
			option.WithAPIKey(c.config.APIKey),
			option.WithMaxRetries(retry.DefaultConfig().MaxAttempts),
		}
		if c.config.APIEndpoint != "" {
			opts = append(opts, option.WithBaseURL(c.config.APIEndpoint))
		}
		if c.config.Timeout > 0 {
			opts = append(opts, option.WithRequestTimeout(c.config.Timeout))
		}
		for k, v := range c.config.Headers {
			opts = append(opts, option.WithHeader(k, v))
		}

		client := openai.NewClient(opts...)
		c.client = &client
	}
	return c.client
}

// chat 发送一次对话补全，网络与限流重试由 SDK 完成
func (c *Client) chat(ctx context.Context, system, user string) (string, error) {
	client := c.ensureClient()

	if err := c.gate.Wait(ctx); err != nil {
		return "", err
	}

	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Model: getModel(c.config.Model),
	}
	if c.config.Temperature > 0 {
		params.Temperature = openai.Float(float64(c.config.Temperature))
	}
	if c.config.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.config.MaxTokens))
	}

	completion, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", c.classify(err)
	}
	if len(completion.Choices) == 0 {
		return "", backends.NewBackendError(backends.ErrCodeAPI, c.Name(), "no choices in completion", backends.ErrEmptyResponse)
	}
	return completion.Choices[0].Message.Content, nil
}

// classify 把 SDK 错误映射到统一的后端错误
func (c *Client) classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.Type == "expired_key" || apiErr.Code == "invalid_api_key" ||
			apiErr.StatusCode == http.StatusUnauthorized {
			return backends.NewAuthExpiredError(c.Name())
		}
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return backends.NewBackendError(backends.ErrCodeRateLimit, c.Name(), apiErr.Message,
				errors.Join(backends.ErrRateLimited, err))
		}
		return backends.NewBackendError(backends.ErrCodeAPI, c.Name(), apiErr.Message, err)
	}
	if retry.IsNetworkError(err) {
		return backends.NewUnreachableError(c.Name(), c.config.APIEndpoint, err)
	}
	return err
}
