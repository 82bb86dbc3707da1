package models

import "time"

// CycleOutcome labels how an observer cycle ended.
type CycleOutcome string

const (
	OutcomeSkipped              CycleOutcome = "skipped"
	OutcomeSampleFailed         CycleOutcome = "sample_failed"
	OutcomeSteady               CycleOutcome = "steady"
	OutcomeDiagnosisUnavailable CycleOutcome = "diagnosis_unavailable"
	OutcomeNoAction             CycleOutcome = "no_action"
	OutcomeRejected             CycleOutcome = "rejected"
	OutcomeThrottled            CycleOutcome = "throttled"
	OutcomeDryRun               CycleOutcome = "dry_run"
	OutcomeAborted              CycleOutcome = "aborted"
	OutcomeHealed               CycleOutcome = "healed"
	OutcomeUnhealed             CycleOutcome = "unhealed"
)

// CycleReport is the after-the-fact record of one observer cycle.
type CycleReport struct {
	CycleID     string              `json:"cycle_id"`
	Target      string              `json:"target"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  time.Time           `json:"finished_at"`
	Outcome     CycleOutcome        `json:"outcome"`
	Samples     []MetricSample      `json:"samples,omitempty"`
	Event       *AnomalyEvent       `json:"event,omitempty"`
	Diagnosis   *Diagnosis          `json:"diagnosis,omitempty"`
	Remediation *RemediationOutcome `json:"remediation,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// Anomalous reports whether the cycle saw at least one breach.
func (r CycleReport) Anomalous() bool {
	return r.Event != nil && len(r.Event.Breaches) > 0
}

// Duration returns the wall time spent in the cycle.
func (r CycleReport) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
