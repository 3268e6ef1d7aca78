package gemini

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
	cfg.APIKey = "test-key"
	cfg.Model = "gemini-2.0-flash"
	cfg.MinInterval = 0
	return cfg
}

func candidateReply(texts ...string) GenerateContentResponse {
	var resp GenerateContentResponse
	parts := make([]Part, 0, len(texts))
	for _, t := range texts {
		parts = append(parts, Part{Text: t})
	}
	resp.Candidates = []struct {
		Content      Content `json:"content"`
		FinishReason string  `json:"finishReason,omitempty"`
	}{
		{Content: Content{Role: "model", Parts: parts}, FinishReason: "STOP"},
	}
	return resp
}

func TestTranslateOne(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-2.0-flash:generateContent" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("unexpected key: %s", r.URL.Query().Get("key"))
		}

		var req GenerateContentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.SystemInstruction == nil || len(req.SystemInstruction.Parts) == 0 {
			t.Error("system instruction missing")
		}
		if len(req.Contents) != 1 || req.Contents[0].Parts[0].Text != "こんにちは" {
			t.Errorf("unexpected contents: %+v", req.Contents)
		}

		json.NewEncoder(w).Encode(candidateReply("你好"))
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

func TestMultiPartReplyJoined(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(candidateReply("你", "好"))
	}))
	defer server.Close()

	client := New(testConfig(server.URL), nil)
	defer client.Close()

	got, err := client.TranslateOne(context.Background(), "こんにちは", "Japanese", "Chinese")
	if err != nil {
		t.Fatalf("translate failed: %v", err)
	}
	if got != "你好" {
		t.Errorf("parts should be concatenated: %q", got)
	}
}

func TestAuthExpiredOn401(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		var apiErr APIError
		apiErr.Error.Code = 401
		apiErr.Error.Message = "Request had invalid authentication credentials"
		json.NewEncoder(w).Encode(apiErr)
	}))
	defer server.Close()

	client := New(testConfig(server.URL), nil)
	defer client.Close()

	_, err := client.TranslateOne(context.Background(), "こんにちは", "Japanese", "Chinese")
	if !backends.IsAuthExpired(err) {
		t.Errorf("want auth expired, got %v", err)
	}
}

func TestAuthExpiredOnInvalidKey400(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		var apiErr APIError
		apiErr.Error.Code = 400
		apiErr.Error.Message = "API key expired. Please renew the API key."
		apiErr.Error.Status = "API_KEY_INVALID"
		json.NewEncoder(w).Encode(apiErr)
	}))
	defer server.Close()

	client := New(testConfig(server.URL), nil)
	defer client.Close()

	_, err := client.TranslateOne(context.Background(), "こんにちは", "Japanese", "Chinese")
	if !backends.IsAuthExpired(err) {
		t.Errorf("want auth expired, got %v", err)
	}
}

func TestAPIErrorMessageSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		var apiErr APIError
		apiErr.Error.Code = 400
		apiErr.Error.Message = "Invalid JSON payload received"
		json.NewEncoder(w).Encode(apiErr)
	}))
	defer server.Close()

	client := New(testConfig(server.URL), nil)
	defer client.Close()

	_, err := client.TranslateOne(context.Background(), "こんにちは", "Japanese", "Chinese")
	if err == nil {
		t.Fatal("want error")
	}

	var be *backends.BackendError
	if !errors.As(err, &be) {
		t.Fatalf("want BackendError, got %T", err)
	}
	if be.Code != backends.ErrCodeAPI {
		t.Errorf("unexpected code: %s", be.Code)
	}
	if !strings.Contains(be.Message, "Invalid JSON payload") {
		t.Errorf("server message lost: %q", be.Message)
	}
}

func TestEmptyCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	client := New(testConfig(server.URL), nil)
	defer client.Close()

	_, err := client.TranslateOne(context.Background(), "こんにちは", "Japanese", "Chinese")
	if !errors.Is(err, backends.ErrEmptyResponse) {
		t.Errorf("want empty response error, got %v", err)
	}
}

func TestDefaults(t *testing.T) {
	client := New(backends.BaseConfig{}, nil)
	defer client.Close()

	if client.config.Model != "gemini-2.0-flash" {
		t.Errorf("unexpected default model: %s", client.config.Model)
	}
	if !strings.Contains(client.config.APIEndpoint, "generativelanguage.googleapis.com") {
		t.Errorf("unexpected default endpoint: %s", client.config.APIEndpoint)
	}
}
