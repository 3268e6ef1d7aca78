package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// Config 重试配置
type Config struct {
	// MaxAttempts 同一请求的尝试次数上限（含首次）
	MaxAttempts int `json:"max_attempts"`

	// InitialDelay 首次重试前的延迟
	InitialDelay time.Duration `json:"initial_delay"`

	// MaxDelay 延迟上限
	MaxDelay time.Duration `json:"max_delay"`

	// BackoffFactor 指数退避因子
	BackoffFactor float64 `json:"backoff_factor"`

	// RateLimitBase 收到 429 时的基准等待，按尝试次数翻倍
	RateLimitBase time.Duration `json:"rate_limit_base"`
}

// DefaultConfig 返回默认重试配置
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		RateLimitBase: time.Second,
	}
}

// Retrier HTTP 请求重试器
type Retrier struct {
	config Config
}

// New 创建重试器
func New(config Config) *Retrier {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.BackoffFactor <= 1.0 {
		config.BackoffFactor = 2.0
	}
	return &Retrier{config: config}
}

// AttemptFunc 执行一次 HTTP 请求
type AttemptFunc func() (*http.Response, error)

// Do 执行带重试的请求
// 网络瞬时错误、429 和 5xx 重试；其余状态码原样返回由调用方判定。
// 最后一次尝试的结果不加修饰地返回，响应体留给调用方读取。
func (r *Retrier) Do(ctx context.Context, fn AttemptFunc) (*http.Response, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := fn()

		if err == nil && resp != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		retryable, rateLimited := r.classify(err, resp)
		if !retryable || attempt >= r.config.MaxAttempts {
			if err != nil && attempt >= r.config.MaxAttempts && retryable {
				return resp, fmt.Errorf("max retry attempts (%d) exceeded: %w", r.config.MaxAttempts, err)
			}
			return resp, err
		}

		if resp != nil {
			resp.Body.Close()
		}

		delay := r.delay(attempt, rateLimited)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// classify 判定一次失败是否可重试，以及是否为速率限制
func (r *Retrier) classify(err error, resp *http.Response) (retryable, rateLimited bool) {
	if err != nil {
		return IsNetworkError(err), false
	}
	if resp == nil {
		return false, false
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return true, true
	case resp.StatusCode >= 500:
		return true, false
	default:
		return false, false
	}
}

// delay 计算第 attempt 次失败后的等待时长
func (r *Retrier) delay(attempt int, rateLimited bool) time.Duration {
	var d time.Duration
	if rateLimited {
		d = time.Duration(float64(r.config.RateLimitBase) * math.Pow(2, float64(attempt-1)))
	} else {
		d = time.Duration(float64(r.config.InitialDelay) * math.Pow(r.config.BackoffFactor, float64(attempt-1)))
	}
	if d > r.config.MaxDelay {
		d = r.config.MaxDelay
	}
	return d
}

// IsNetworkError 判断是否为网络瞬时错误
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return IsNetworkError(urlErr.Err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection refused",
		"connection reset",
		"connection timed out",
		"timeout",
		"temporary failure",
		"network is unreachable",
		"no such host",
		"broken pipe",
		"i/o timeout",
		"eof",
	}

	for _, pattern := range networkPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// WrapHTTPClient 包装 HTTP 客户端，请求失败时按策略重放
func (r *Retrier) WrapHTTPClient(client *http.Client) *RetryableHTTPClient {
	return &RetryableHTTPClient{
		client:  client,
		retrier: r,
	}
}

// RetryableHTTPClient 可重试的 HTTP 客户端
type RetryableHTTPClient struct {
	client  *http.Client
	retrier *Retrier
}

// Do 执行 HTTP 请求（带重试）
// 每次尝试都克隆请求并通过 GetBody 重建请求体，避免重放时 Body 已被消费。
func (rc *RetryableHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return rc.retrier.Do(req.Context(), func() (*http.Response, error) {
		cloned := req.Clone(req.Context())
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			cloned.Body = body
		}
		return rc.client.Do(cloned)
	})
}
