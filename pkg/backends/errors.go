package backends

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// 预定义错误
var (
	// ErrAuthExpired 服务端明确告知凭证已过期，不可重试
	ErrAuthExpired = errors.New("credential expired")

	// ErrUnreachable 后端无法连接
	ErrUnreachable = errors.New("backend unreachable")

	// ErrRateLimited 速率限制错误
	ErrRateLimited = errors.New("rate limited")

	// ErrParseShortfall 批量响应中编号分组少于请求条数
	ErrParseShortfall = errors.New("batch response missing numbered groups")

	// ErrEmptyBatch 空的批量请求
	ErrEmptyBatch = errors.New("empty batch")

	// ErrEmptyResponse 后端返回了空内容
	ErrEmptyResponse = errors.New("empty response from backend")
)

// 错误代码常量
const (
	ErrCodeAuth      = "AUTH_EXPIRED"
	ErrCodeNetwork   = "NETWORK_ERROR"
	ErrCodeRateLimit = "RATE_LIMIT_ERROR"
	ErrCodeParse     = "PARSE_ERROR"
	ErrCodeAPI       = "API_ERROR"
	ErrCodeConfig    = "CONFIG_ERROR"
)

// BackendError 后端错误
type BackendError struct {
	Code    string // 错误代码
	Message string // 错误消息
	Backend string // 发生错误的后端名称
	Cause   error  // 原因
	Retry   bool   // 是否可重试
}

// Error 实现 error 接口
func (e *BackendError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Backend, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回原因错误
func (e *BackendError) Unwrap() error {
	return e.Cause
}

// IsRetryable 是否可重试
func (e *BackendError) IsRetryable() bool {
	return e.Retry
}

// NewBackendError 创建后端错误
func NewBackendError(code, backend, message string, cause error) *BackendError {
	return &BackendError{
		Code:    code,
		Message: message,
		Backend: backend,
		Cause:   cause,
		Retry:   false,
	}
}

// NewAuthExpiredError 创建凭证过期错误
// message 应当告诉用户如何处理（更新 key、重新登录），而不是转述服务端原文。
func NewAuthExpiredError(backend string) *BackendError {
	return &BackendError{
		Code:    ErrCodeAuth,
		Message: "API 凭证已过期，请在配置中更新密钥后重试",
		Backend: backend,
		Cause:   ErrAuthExpired,
		Retry:   false,
	}
}

// NewUnreachableError 创建不可达错误，附带排查指引
func NewUnreachableError(backend, endpoint string, cause error) *BackendError {
	return &BackendError{
		Code:    ErrCodeNetwork,
		Backend: backend,
		Message: fmt.Sprintf("无法连接翻译服务 %s：1) 确认服务已启动 2) 检查配置的地址和端口 3) 检查本机代理设置", endpoint),
		Cause:   errors.Join(ErrUnreachable, cause),
		Retry:   false,
	}
}

// IsAuthExpired 判断是否为凭证过期
func IsAuthExpired(err error) bool {
	return errors.Is(err, ErrAuthExpired)
}

// IsUnreachable 判断后端是否不可达
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

// IsRetryable 判断错误是否值得重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsAuthExpired(err) {
		return false
	}

	var be *BackendError
	if errors.As(err, &be) {
		return be.Retry
	}

	switch {
	case errors.Is(err, ErrRateLimited),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}

	errStr := err.Error()
	retryablePatterns := []string{
		"timeout",
		"deadline exceeded",
		"connection refused",
		"temporary failure",
		"rate limit",
		"429",
		"502",
		"503",
		"504",
		"connection reset",
		"broken pipe",
		"no such host",
		"network is unreachable",
		"i/o timeout",
	}

	for _, pattern := range retryablePatterns {
		if containsFold(errStr, pattern) {
			return true
		}
	}

	return false
}

// containsFold 检查字符串是否包含子串（不区分大小写）
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
