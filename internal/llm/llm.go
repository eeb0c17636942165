package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/TobiSchelling/Deadline/internal/config"
)

// Request is a single chat completion.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float32
	// JSON asks the endpoint for a JSON object response.
	JSON bool
}

// Provider is the interface for LLM providers.
type Provider interface {
	Generate(ctx context.Context, req Request) (string, error)
	IsConfigured() bool
}

const (
	groqBaseURL   = "https://api.groq.com/openai/v1"
	ollamaBaseURL = "http://localhost:11434/v1"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint
// (Groq, OpenAI, Ollama).
type OpenAIProvider struct {
	Model   string
	client  *openai.Client
	apiKey  string
	timeout time.Duration
}

// NewOpenAIProvider creates a provider for the given endpoint. An empty
// baseURL uses the OpenAI default.
func NewOpenAIProvider(model, baseURL, apiKey string, timeout time.Duration) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIProvider{
		Model:   model,
		client:  openai.NewClientWithConfig(cfg),
		apiKey:  apiKey,
		timeout: timeout,
	}
}

// IsConfigured checks if an API key is set.
func (p *OpenAIProvider) IsConfigured() bool {
	return p.apiKey != ""
}

// Generate sends one chat completion and returns the first choice's content.
func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (string, error) {
	if p.apiKey == "" {
		return "", fmt.Errorf("LLM API key not configured")
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	creq := openai.ChatCompletionRequest{
		Model:       p.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.JSON {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("LLM API returned %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return "", fmt.Errorf("LLM API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in LLM response")
	}

	return resp.Choices[0].Message.Content, nil
}

// CreateProvider creates an LLM provider based on configuration.
func CreateProvider(cfg config.LLM, logger *zap.Logger) Provider {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	baseURL := cfg.BaseURL

	switch strings.ToLower(cfg.Provider) {
	case "groq", "":
		if baseURL == "" {
			baseURL = groqBaseURL
		}
	case "ollama":
		if baseURL == "" {
			baseURL = ollamaBaseURL
		}
		if apiKey == "" {
			// Ollama ignores the key but the client requires one.
			apiKey = "ollama"
		}
	case "openai":
	default:
		logger.Warn("unknown LLM provider, using OpenAI-compatible defaults", zap.String("provider", cfg.Provider))
	}

	p := NewOpenAIProvider(cfg.Model, baseURL, apiKey, cfg.Timeout())
	if !p.IsConfigured() {
		logger.Warn("no LLM API key available", zap.String("env", cfg.APIKeyEnv))
	} else {
		logger.Info("using LLM", zap.String("provider", cfg.Provider), zap.String("model", cfg.Model))
	}
	return p
}
