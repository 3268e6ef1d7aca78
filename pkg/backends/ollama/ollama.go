// Package ollama 接入本地 Ollama 推理服务。
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-vntrans/pkg/backends"
	"github.com/nerdneilsfield/go-vntrans/pkg/backends/retry"
)

// warmKeepAlive 预热后模型在显存中保留的时长
const warmKeepAlive = "30m"

// Client 本地 Ollama 后端
type Client struct {
	config      backends.BaseConfig
	logger      *zap.Logger
	gate        *backends.Throttle
	httpClient  *http.Client
	retryClient *retry.RetryableHTTPClient
}

var _ backends.Backend = (*Client)(nil)
var _ backends.Warmer = (*Client)(nil)

// New 创建 Ollama 后端
func New(cfg backends.BaseConfig, logger *zap.Logger) *Client {
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = "http://localhost:11434"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
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
func (c *Client) Name() string { return "ollama" }

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

// Warmup 让 Ollama 预加载模型并驻留一段时间
// 空提示词的生成请求只触发模型装载，不产生补全。
func (c *Client) Warmup(ctx context.Context) error {
	c.logger.Info("warming up local model",
		zap.String("model", c.config.Model),
		zap.String("keep_alive", warmKeepAlive))

	req := GenerateRequest{
		Model:     c.config.Model,
		Stream:    false,
		KeepAlive: warmKeepAlive,
	}
	_, err := c.generate(ctx, req)
	return err
}

// Close 释放空闲连接，可重复调用
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// chat 拼接系统与用户提示词后走一次生成请求
func (c *Client) chat(ctx context.Context, system, user string) (string, error) {
	if err := c.gate.Wait(ctx); err != nil {
		return "", err
	}

	req := GenerateRequest{
		Model:  c.config.Model,
		Prompt: system + "\n\n" + user,
		Stream: false,
		Options: map[string]interface{}{
			"temperature": c.config.Temperature,
		},
		KeepAlive: warmKeepAlive,
	}
	if c.config.MaxTokens > 0 {
		req.Options["num_predict"] = c.config.MaxTokens
	}

	resp, err := c.generate(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Response, nil
}

// generate 执行生成请求
func (c *Client) generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.APIEndpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.retryClient.Do(httpReq)
	if err != nil {
		if retry.IsNetworkError(err) {
			return nil, backends.NewUnreachableError(c.Name(), c.config.APIEndpoint, err)
		}
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		var apiErr APIError
		if json.Unmarshal(errBody, &apiErr) == nil && apiErr.ErrorMsg != "" {
			if resp.StatusCode == http.StatusNotFound {
				return nil, backends.NewBackendError(backends.ErrCodeConfig, c.Name(),
					fmt.Sprintf("模型 %s 不存在，请先执行 ollama pull %s", c.config.Model, c.config.Model), &apiErr)
			}
			return nil, backends.NewBackendError(backends.ErrCodeAPI, c.Name(), apiErr.ErrorMsg, &apiErr)
		}
		return nil, backends.NewBackendError(backends.ErrCodeAPI, c.Name(),
			fmt.Sprintf("API error: %s", resp.Status), nil)
	}

	defer resp.Body.Close()

	var generateResp GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&generateResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &generateResp, nil
}

// GenerateRequest 生成请求
type GenerateRequest struct {
	Model     string                 `json:"model"`
	Prompt    string                 `json:"prompt,omitempty"`
	Stream    bool                   `json:"stream"`
	Options   map[string]interface{} `json:"options,omitempty"`
	KeepAlive string                 `json:"keep_alive,omitempty"`
}

// GenerateResponse 生成响应
type GenerateResponse struct {
	Model              string    `json:"model"`
	CreatedAt          time.Time `json:"created_at"`
	Response           string    `json:"response"`
	Done               bool      `json:"done"`
	TotalDuration      int64     `json:"total_duration"`
	LoadDuration       int64     `json:"load_duration"`
	PromptEvalCount    int       `json:"prompt_eval_count"`
	PromptEvalDuration int64     `json:"prompt_eval_duration"`
	EvalCount          int       `json:"eval_count"`
	EvalDuration       int64     `json:"eval_duration"`
}

// APIError API错误
type APIError struct {
	ErrorMsg string `json:"error"`
}

func (e *APIError) Error() string {
	return e.ErrorMsg
}
