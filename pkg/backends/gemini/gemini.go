// Package gemini 通过 Generative Language REST 接口接入 Google Gemini。
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-vntrans/pkg/backends"
	"github.com/nerdneilsfield/go-vntrans/pkg/backends/retry"
)

// Client Gemini 后端
type Client struct {
	config      backends.BaseConfig
	logger      *zap.Logger
	gate        *backends.Throttle
	httpClient  *http.Client
	retryClient *retry.RetryableHTTPClient
}

var _ backends.Backend = (*Client)(nil)

// New 创建 Gemini 后端
func New(cfg backends.BaseConfig, logger *zap.Logger) *Client {
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	retrier := retry.New(retry.DefaultConfig())

	return &Client{
		config:      cfg,
		logger:      logger,
		gate:        backends.NewThrottle(cfg.MinInterval),
		httpClient:  httpClient,
		retryClient: retrier.WrapHTTPClient(httpClient),
	}
}

// Name 返回引擎名称
func (c *Client) Name() string { return "gemini" }

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

// Close 释放空闲连接，可重复调用
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// chat 执行一次 generateContent 请求
func (c *Client) chat(ctx context.Context, system, user string) (string, error) {
	if err := c.gate.Wait(ctx); err != nil {
		return "", err
	}

	genReq := GenerateContentRequest{
		SystemInstruction: &Content{Parts: []Part{{Text: system}}},
		Contents: []Content{
			{Role: "user", Parts: []Part{{Text: user}}},
		},
		GenerationConfig: &GenerationConfig{
			Temperature: c.config.Temperature,
		},
	}
	if c.config.MaxTokens > 0 {
		genReq.GenerationConfig.MaxOutputTokens = c.config.MaxTokens
	}

	body, err := json.Marshal(genReq)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimSuffix(c.config.APIEndpoint, "/"), c.config.Model, url.QueryEscape(c.config.APIKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.retryClient.Do(httpReq)
	if err != nil {
		if retry.IsNetworkError(err) {
			return "", backends.NewUnreachableError(c.Name(), c.config.APIEndpoint, err)
		}
		return "", fmt.Errorf("failed to execute request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return "", c.classifyStatus(resp.StatusCode, errBody)
	}

	defer resp.Body.Close()

	var genResp GenerateContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return "", backends.NewBackendError(backends.ErrCodeAPI, c.Name(), "no candidates in response", backends.ErrEmptyResponse)
	}

	var sb strings.Builder
	for _, part := range genResp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

// classifyStatus 把非 2xx 响应映射到统一的后端错误
func (c *Client) classifyStatus(status int, body []byte) error {
	var apiErr APIError
	msg := fmt.Sprintf("API error: HTTP %d", status)
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return backends.NewAuthExpiredError(c.Name())
	case status == http.StatusBadRequest &&
		(strings.Contains(msg, "API key expired") || strings.Contains(apiErr.Error.Status, "API_KEY_INVALID")):
		return backends.NewAuthExpiredError(c.Name())
	case status == http.StatusTooManyRequests:
		return backends.NewBackendError(backends.ErrCodeRateLimit, c.Name(), msg, backends.ErrRateLimited)
	default:
		return backends.NewBackendError(backends.ErrCodeAPI, c.Name(), msg, nil)
	}
}

// GenerateContentRequest 生成请求
type GenerateContentRequest struct {
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	Contents          []Content         `json:"contents"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
}

// Content 一轮对话内容
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part 内容片段
type Part struct {
	Text string `json:"text"`
}

// GenerationConfig 生成参数
type GenerationConfig struct {
	Temperature     float32 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

// GenerateContentResponse 生成响应
type GenerateContentResponse struct {
	Candidates []struct {
		Content      Content `json:"content"`
		FinishReason string  `json:"finishReason,omitempty"`
	} `json:"candidates"`
}

// APIError API错误
type APIError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
