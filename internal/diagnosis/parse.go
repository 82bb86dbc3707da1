package diagnosis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

type rawDiagnosis struct {
	RootCause       string `json:"root_cause"`
	Severity        string `json:"severity"`
	RemediationStep string `json:"remediation_step"`
}

// ParseDiagnosis decodes a backend answer. A ```json or ``` fence around the object is removed
// first. Missing root cause or an unknown severity makes the answer malformed.
func ParseDiagnosis(backend, text string) (models.Diagnosis, error) {
	body := stripFence(text)
	if body == "" {
		return models.Diagnosis{}, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}

	var raw rawDiagnosis
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return models.Diagnosis{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if strings.TrimSpace(raw.RootCause) == "" {
		return models.Diagnosis{}, fmt.Errorf("%w: root_cause missing", ErrMalformedResponse)
	}
	severity, err := models.ParseSeverity(raw.Severity)
	if err != nil {
		return models.Diagnosis{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return models.Diagnosis{
		BackendUsed:     backend,
		Severity:        severity,
		RootCause:       strings.TrimSpace(raw.RootCause),
		RemediationStep: strings.TrimSpace(raw.RemediationStep),
	}, nil
}

func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if _, rest, ok := strings.Cut(text, "```json"); ok {
		body, _, _ := strings.Cut(rest, "```")
		return strings.TrimSpace(body)
	}
	if _, rest, ok := strings.Cut(text, "```"); ok {
		body, _, _ := strings.Cut(rest, "```")
		return strings.TrimSpace(body)
	}
	return text
}
