package retry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

// fastConfig 测试用的快速重试配置
func fastConfig() Config {
	return Config{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		BackoffFactor: 2.0,
		RateLimitBase: time.Millisecond,
	}
}

func TestRetrierRecoversFrom5xx(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := New(fastConfig()).WrapHTTPClient(server.Client())

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("unexpected status: %d", resp.StatusCode)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("want 3 attempts, got %d", got)
	}
}

func TestRetrierStopsOnClientError(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := New(fastConfig()).WrapHTTPClient(server.Client())

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	// 4xx 原样返回，由调用方判定
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unexpected status: %d", resp.StatusCode)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("client error should not retry, got %d attempts", got)
	}
}

func TestRetrierRetriesRateLimit(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := New(fastConfig()).WrapHTTPClient(server.Client())

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if got := hits.Load(); got != 2 {
		t.Errorf("want 2 attempts, got %d", got)
	}
}

func TestRetrierReplaysRequestBody(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		n := len(bodies)
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := New(fastConfig()).WrapHTTPClient(server.Client())

	req, _ := http.NewRequest(http.MethodPost, server.URL, bytes.NewReader([]byte(`{"prompt":"你好"}`)))
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	// 每次重放都必须携带完整请求体
	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 {
		t.Fatalf("want 2 bodies, got %d", len(bodies))
	}
	for i, b := range bodies {
		if b != `{"prompt":"你好"}` {
			t.Errorf("attempt %d body lost: %q", i+1, b)
		}
	}
}

func TestRetrierExhaustsAttempts(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(fastConfig()).WrapHTTPClient(server.Client())

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	defer resp.Body.Close()

	// 重试耗尽后返回最后一次响应，状态码留给调用方
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("unexpected status: %d", resp.StatusCode)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("want 3 attempts, got %d", got)
	}
}

func TestRetrierConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := server.URL
	server.Close()

	client := New(fastConfig()).WrapHTTPClient(&http.Client{Timeout: time.Second})

	req, _ := http.NewRequest(http.MethodGet, deadURL, nil)
	_, err := client.Do(req)
	if err == nil {
		t.Fatal("want error against closed server")
	}
	if !strings.Contains(err.Error(), "max retry attempts") {
		t.Errorf("exhausted network retries should say so: %v", err)
	}
}

func TestRetrierContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := fastConfig()
	cfg.InitialDelay = 10 * time.Second
	r := New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.Do(ctx, func() (*http.Response, error) {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
		return server.Client().Do(req)
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("want deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancelled retry blocked too long: %v", elapsed)
	}
}

func TestIsNetworkError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"连接拒绝", syscall.ECONNREFUSED, true},
		{"连接重置", syscall.ECONNRESET, true},
		{"OpError", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"URL 包装", &url.Error{Op: "Get", URL: "http://x", Err: syscall.ECONNREFUSED}, true},
		{"字符串匹配", errors.New("dial tcp 127.0.0.1:1: i/o timeout"), true},
		{"普通错误", errors.New("invalid request"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNetworkError(tt.err); got != tt.want {
				t.Errorf("IsNetworkError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
