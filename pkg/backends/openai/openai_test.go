package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	openaisdk "github.com/openai/openai-go"

	"github.com/nerdneilsfield/go-vntrans/pkg/backends"
)

func testConfig(endpoint string) backends.BaseConfig {
	cfg := backends.DefaultBaseConfig()
	cfg.APIEndpoint = endpoint
	cfg.APIKey = "test-key"
	cfg.Model = "gpt-4o-mini"
	cfg.MinInterval = 0
	return cfg
}

func writeChatReply(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{
		"id": "chatcmpl-test",
		"object": "chat.completion",
		"created": 1700000000,
		"model": "gpt-4o-mini",
		"choices": [
			{
				"index": 0,
				"message": {"role": "assistant", "content": %q},
				"finish_reason": "stop"
			}
		]
	}`, content)
}

func TestTranslateOne(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", auth)
		}
		writeChatReply(w, "你好")
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

func TestTranslateBatchOrdered(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeChatReply(w, "[1] 第一行\n[2] 第二行\n[3] 第三行")
	}))
	defer server.Close()

	client := New(testConfig(server.URL), nil)
	defer client.Close()

	got, err := client.TranslateBatch(context.Background(), []string{"一", "二", "三"}, "Japanese", "Chinese")
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if len(got) != 3 || got[0] != "第一行" || got[2] != "第三行" {
		t.Errorf("unexpected translations: %v", got)
	}
}

func TestAuthExpired(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	defer server.Close()

	client := New(testConfig(server.URL), nil)
	defer client.Close()

	_, err := client.TranslateOne(context.Background(), "こんにちは", "Japanese", "Chinese")
	if !backends.IsAuthExpired(err) {
		t.Errorf("want auth expired, got %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("auth failures should not retry, got %d attempts", hits.Load())
	}
}

func TestWarmup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeChatReply(w, "Hi")
	}))
	defer server.Close()

	client := New(testConfig(server.URL), nil)
	defer client.Close()

	if err := client.Warmup(context.Background()); err != nil {
		t.Fatalf("warmup failed: %v", err)
	}
}

func TestGetModel(t *testing.T) {
	if getModel("gpt-4o") != openaisdk.ChatModelGPT4o {
		t.Error("known model should map to its constant")
	}
	if getModel("my-finetune") != openaisdk.ChatModel("my-finetune") {
		t.Error("unknown model should pass through")
	}
}
