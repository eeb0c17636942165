package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/Deadline/internal/apperr"
	"github.com/TobiSchelling/Deadline/internal/config"
)

func TestParseJSONObjectPlain(t *testing.T) {
	result, err := ParseJSONObject(`{"key": "value", "num": 42}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["key"] != "value" {
		t.Errorf("expected key='value', got %v", result["key"])
	}
	if result["num"] != float64(42) {
		t.Errorf("expected num=42, got %v", result["num"])
	}
}

func TestParseJSONObjectWithCodeFence(t *testing.T) {
	result, err := ParseJSONObject("```json\n{\"key\": \"value\"}\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["key"] != "value" {
		t.Errorf("expected key='value', got %v", result["key"])
	}
}

func TestParseJSONObjectSingleLineFence(t *testing.T) {
	result, err := ParseJSONObject("```json {\"headline\":\"X\"} ```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["headline"] != "X" {
		t.Errorf("expected headline X, got %v", result["headline"])
	}
}

func TestParseJSONObjectWithPlainFence(t *testing.T) {
	result, err := ParseJSONObject("```\n{\"key\": \"value\"}\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["key"] != "value" {
		t.Errorf("expected key='value', got %v", result["key"])
	}
}

func TestParseJSONObjectSurroundingProse(t *testing.T) {
	result, err := ParseJSONObject("Here is the analysis:\n{\"a\": {\"b\": 1}}\nLet me know if you need more.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := result["a"].(map[string]any); !ok {
		t.Errorf("expected nested object, got %v", result["a"])
	}
}

func TestParseJSONObjectNoObject(t *testing.T) {
	_, err := ParseJSONObject("not json at all")
	if !apperr.Is(err, apperr.Extraction) {
		t.Errorf("expected extraction error, got %v", err)
	}
}

func TestParseJSONObjectInvalid(t *testing.T) {
	_, err := ParseJSONObject(`{"key": "value",}`)
	if !apperr.Is(err, apperr.Extraction) {
		t.Errorf("expected extraction error, got %v", err)
	}
}

func TestParseJSONObjectEmpty(t *testing.T) {
	if _, err := ParseJSONObject("   \n "); !apperr.Is(err, apperr.Extraction) {
		t.Errorf("expected extraction error, got %v", err)
	}
}

func TestOpenAIProviderGenerate(t *testing.T) {
	var got struct {
		Model          string `json:"model"`
		MaxTokens      int    `json:"max_tokens"`
		ResponseFormat *struct {
			Type string `json:"type"`
		} `json:"response_format"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"ok\":true}"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("llama-test", srv.URL, "test-key", 5*time.Second)
	out, err := p.Generate(context.Background(), Request{
		System:    "Respond with JSON only.",
		Prompt:    "hello",
		MaxTokens: 100,
		JSON:      true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"ok":true}` {
		t.Errorf("unexpected content %q", out)
	}
	if got.Model != "llama-test" || got.MaxTokens != 100 {
		t.Errorf("unexpected request %+v", got)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Error("expected json_object response format")
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "hello" {
		t.Errorf("unexpected messages %+v", got.Messages)
	}
}

func TestOpenAIProviderAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("m", srv.URL, "k", time.Second)
	if _, err := p.Generate(context.Background(), Request{Prompt: "x"}); err == nil {
		t.Error("expected error for 429 response")
	}
}

func TestOpenAIProviderWithoutKey(t *testing.T) {
	p := NewOpenAIProvider("m", "http://127.0.0.1:1", "", time.Second)
	if p.IsConfigured() {
		t.Error("expected provider without key to be unconfigured")
	}
	if _, err := p.Generate(context.Background(), Request{Prompt: "x"}); err == nil {
		t.Error("expected error without API key")
	}
}

func TestCreateProviderOllamaNeedsNoKey(t *testing.T) {
	p := CreateProvider(config.LLM{Provider: "ollama", Model: "llama3", APIKeyEnv: "DEADLINE_UNSET_KEY"}, zap.NewNop())
	if !p.IsConfigured() {
		t.Error("expected ollama provider to be usable without a key")
	}
}

func TestCreateProviderGroqFromEnv(t *testing.T) {
	t.Setenv("DEADLINE_TEST_GROQ", "gsk_test")
	p := CreateProvider(config.LLM{Provider: "groq", Model: "llama", APIKeyEnv: "DEADLINE_TEST_GROQ"}, zap.NewNop())
	if !p.IsConfigured() {
		t.Error("expected groq provider configured from environment")
	}
}
