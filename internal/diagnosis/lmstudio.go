package diagnosis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// LMStudioBackend calls a local LM Studio chat endpoint.
type LMStudioBackend struct {
	name       string
	url        string
	model      string
	httpClient *http.Client
}

type lmStudioPayload struct {
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt"`
	Input        string `json:"input"`
}

// NewLMStudioBackend constructs a backend posting to url. A nil httpClient uses a default client;
// the per-attempt deadline comes from the caller's context.
func NewLMStudioBackend(name, url, model string, httpClient *http.Client) *LMStudioBackend {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &LMStudioBackend{name: name, url: url, model: model, httpClient: httpClient}
}

// Name implements Backend.
func (b *LMStudioBackend) Name() string { return b.name }

// Attempt implements Backend.
func (b *LMStudioBackend) Attempt(ctx context.Context, req Request) (models.Diagnosis, error) {
	body, err := json.Marshal(lmStudioPayload{
		Model:        b.model,
		SystemPrompt: SystemPrompt,
		Input:        BuildInput(req),
	})
	if err != nil {
		return models.Diagnosis{}, fmt.Errorf("marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return models.Diagnosis{}, fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return models.Diagnosis{}, fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.Diagnosis{}, fmt.Errorf("%w: read response: %v", ErrBackendUnreachable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.Diagnosis{}, fmt.Errorf("%w: lm studio returned %s", ErrBackendUnreachable, resp.Status)
	}

	text, err := extractText(data)
	if err != nil {
		return models.Diagnosis{}, err
	}
	return ParseDiagnosis(b.name, text)
}

type lmStudioResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Output []struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	} `json:"output"`
	Response *string         `json:"response"`
	Message  json.RawMessage `json:"message"`
}

// extractText accepts the response shapes LM Studio has used across versions.
func extractText(data []byte) (string, error) {
	var resp lmStudioResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("%w: decode lm studio response: %v", ErrMalformedResponse, err)
	}

	if len(resp.Choices) > 0 {
		return resp.Choices[0].Message.Content, nil
	}
	for _, out := range resp.Output {
		if out.Type == "" || out.Type == "message" {
			if strings.TrimSpace(out.Content) != "" {
				return out.Content, nil
			}
		}
	}
	if resp.Response != nil {
		return *resp.Response, nil
	}
	if len(resp.Message) > 0 {
		var text string
		if err := json.Unmarshal(resp.Message, &text); err == nil {
			return text, nil
		}
		var msg struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(resp.Message, &msg); err == nil {
			return msg.Content, nil
		}
	}
	return "", fmt.Errorf("%w: unrecognised lm studio response", ErrMalformedResponse)
}
