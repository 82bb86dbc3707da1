package diagnosis

import (
	"errors"
	"testing"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

func TestParseDiagnosis(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		wantErr bool
		want    models.Diagnosis
	}{
		{
			name: "plain object",
			text: `{"root_cause":"CPU stress loop","severity":"High","remediation_step":"docker-compose restart"}`,
			want: models.Diagnosis{BackendUsed: "gemini", Severity: models.SeverityHigh, RootCause: "CPU stress loop", RemediationStep: "docker-compose restart"},
		},
		{
			name: "json fence",
			text: "Here you go:\n```json\n{\"root_cause\":\"slow db\",\"severity\":\"critical\",\"remediation_step\":\"N/A\"}\n```\n",
			want: models.Diagnosis{BackendUsed: "gemini", Severity: models.SeverityCritical, RootCause: "slow db", RemediationStep: "N/A"},
		},
		{
			name: "bare fence",
			text: "```\n{\"root_cause\":\"x\",\"severity\":\"low\",\"remediation_step\":\"\"}\n```",
			want: models.Diagnosis{BackendUsed: "gemini", Severity: models.SeverityLow, RootCause: "x"},
		},
		{name: "not json", text: "restart it", wantErr: true},
		{name: "unknown severity", text: `{"root_cause":"x","severity":"Unknown","remediation_step":"docker-compose restart"}`, wantErr: true},
		{name: "missing root cause", text: `{"severity":"high","remediation_step":"docker-compose restart"}`, wantErr: true},
		{name: "empty", text: "  ", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseDiagnosis("gemini", tc.text)
			if tc.wantErr {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Fatalf("expected ErrMalformedResponse, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}
