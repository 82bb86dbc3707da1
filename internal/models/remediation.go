package models

// RemediationOutcome describes one remediation attempt within a cycle.
type RemediationOutcome struct {
	Command         string `json:"command"`
	Executed        bool   `json:"executed"`
	ExitStatus      int    `json:"exit_status"`
	VerifiedHealthy bool   `json:"verified_healthy"`
	Output          string `json:"output,omitempty"`
}
