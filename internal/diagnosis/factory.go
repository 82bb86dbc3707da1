package diagnosis

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/miradorstack/mirador-sentinel/internal/config"
)

// FromConfig builds the failover client in configured order. OpenAI-compatible backends without
// an API key are skipped with a warning.
func FromConfig(cfg config.DiagnosisConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries := make([]Entry, 0, len(cfg.Backends))
	for _, bc := range cfg.Backends {
		var backend Backend
		switch bc.Kind {
		case "openai":
			b, err := NewOpenAIBackend(OpenAIConfig{
				Name:    bc.Name,
				BaseURL: bc.BaseURL,
				Model:   bc.Model,
				APIKey:  bc.APIKey,
			})
			if errors.Is(err, ErrMissingCredentials) {
				logger.Warn("diagnosis backend api key not set, skipping", slog.String("backend", bc.Name))
				continue
			}
			if err != nil {
				return nil, err
			}
			backend = b
		case "lmstudio":
			backend = NewLMStudioBackend(bc.Name, bc.BaseURL, bc.Model, nil)
		default:
			return nil, fmt.Errorf("backend %s: unsupported kind %q", bc.Name, bc.Kind)
		}
		entries = append(entries, Entry{Backend: backend, Timeout: bc.Timeout})
	}

	if len(entries) == 0 {
		return nil, errors.New("no usable diagnosis backend configured")
	}
	return NewClient(logger, entries...), nil
}
