package diagnosis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// OpenAIConfig configures an OpenAI-compatible chat-completions backend.
type OpenAIConfig struct {
	Name       string
	BaseURL    string
	Model      string
	APIKey     string
	HTTPClient *http.Client
}

// OpenAIBackend queries any OpenAI-compatible endpoint, including Gemini's compatibility layer.
type OpenAIBackend struct {
	name   string
	model  string
	client *openai.Client
}

// NewOpenAIBackend returns ErrMissingCredentials when no API key is configured.
func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%s: %w", cfg.Name, ErrMissingCredentials)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%s: model not configured", cfg.Name)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIBackend{
		name:   cfg.Name,
		model:  cfg.Model,
		client: openai.NewClientWithConfig(clientCfg),
	}, nil
}

// Name implements Backend.
func (b *OpenAIBackend) Name() string { return b.name }

// Attempt implements Backend.
func (b *OpenAIBackend) Attempt(ctx context.Context, req Request) (models.Diagnosis, error) {
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildInput(req)},
		},
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return models.Diagnosis{}, fmt.Errorf("%w: status %d: %s", ErrBackendUnreachable, apiErr.HTTPStatusCode, apiErr.Message)
		}
		return models.Diagnosis{}, fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}
	if len(resp.Choices) == 0 {
		return models.Diagnosis{}, fmt.Errorf("%w: no choices returned", ErrMalformedResponse)
	}
	return ParseDiagnosis(b.name, resp.Choices[0].Message.Content)
}
