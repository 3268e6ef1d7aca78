package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nerdneilsfield/go-vntrans/pkg/backends"
)

func testConfig(endpoint string) backends.BaseConfig {
	cfg := backends.DefaultBaseConfig()
	cfg.APIEndpoint = endpoint
	cfg.Model = "qwen2.5:7b"
	cfg.MinInterval = 0
	return cfg
}

func TestTranslateOne(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}

		var req GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "qwen2.5:7b" {
			t.Errorf("unexpected model: %s", req.Model)
		}
		if req.Stream {
			t.Error("stream should be disabled")
		}
		if !strings.Contains(req.Prompt, "こんにちは") {
			t.Errorf("prompt missing source text: %q", req.Prompt)
		}

		json.NewEncoder(w).Encode(GenerateResponse{
			Response: " 你好 ",
			Done:     true,
		})
	}))
	defer server.Close()

	client := New(testConfig(server.URL), nil)
	defer client.Close()

	got, err := client.TranslateOne(context.Background(), "こんにちは", "Japanese", "Chinese")
	if err != nil {
		t.Fatalf("translate failed: %v", err)
	}
	if got != "你好" {
		t.Errorf("unexpected translation: %q", got)
	}
}

func TestTranslateBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		// 批量请求按 [n] 编号
		if !strings.Contains(req.Prompt, "[1] 一行目") || !strings.Contains(req.Prompt, "[2] 二行目") {
			t.Errorf("batch prompt missing numbered lines: %q", req.Prompt)
		}

		json.NewEncoder(w).Encode(GenerateResponse{
			Response: "[1] 第一行\n[2] 第二行",
			Done:     true,
		})
	}))
	defer server.Close()

	client := New(testConfig(server.URL), nil)
	defer client.Close()

	got, err := client.TranslateBatch(context.Background(), []string{"一行目", "二行目"}, "Japanese", "Chinese")
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if len(got) != 2 || got[0] != "第一行" || got[1] != "第二行" {
		t.Errorf("unexpected translations: %v", got)
	}
}

func TestModelNotInstalled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(APIError{ErrorMsg: `model "qwen2.5:7b" not found`})
	}))
	defer server.Close()

	client := New(testConfig(server.URL), nil)
	defer client.Close()

	_, err := client.TranslateOne(context.Background(), "こんにちは", "Japanese", "Chinese")
	if err == nil {
		t.Fatal("want error for missing model")
	}

	var be *backends.BackendError
	if !errors.As(err, &be) {
		t.Fatalf("want BackendError, got %T", err)
	}
	if be.Code != backends.ErrCodeConfig {
		t.Errorf("unexpected code: %s", be.Code)
	}
	// 错误消息直接给出修复命令
	if !strings.Contains(be.Message, "ollama pull") {
		t.Errorf("message should tell the user to pull the model: %q", be.Message)
	}
}

func TestServerDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := server.URL
	server.Close()

	client := New(testConfig(deadURL), nil)
	defer client.Close()

	_, err := client.TranslateOne(context.Background(), "こんにちは", "Japanese", "Chinese")
	if !backends.IsUnreachable(err) {
		t.Errorf("want unreachable error, got %v", err)
	}
}

func TestWarmup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		// 预热只装载模型，不带提示词
		if req.Prompt != "" {
			t.Errorf("warmup should not send a prompt: %q", req.Prompt)
		}
		if req.KeepAlive != warmKeepAlive {
			t.Errorf("unexpected keep_alive: %s", req.KeepAlive)
		}

		json.NewEncoder(w).Encode(GenerateResponse{Done: true})
	}))
	defer server.Close()

	client := New(testConfig(server.URL), nil)
	defer client.Close()

	if err := client.Warmup(context.Background()); err != nil {
		t.Fatalf("warmup failed: %v", err)
	}
}

func TestDefaultEndpoint(t *testing.T) {
	client := New(backends.BaseConfig{Model: "qwen2.5:7b"}, nil)
	defer client.Close()

	if client.config.APIEndpoint != "http://localhost:11434" {
		t.Errorf("unexpected default endpoint: %s", client.config.APIEndpoint)
	}
	if client.Name() != "ollama" {
		t.Errorf("unexpected name: %s", client.Name())
	}
}
