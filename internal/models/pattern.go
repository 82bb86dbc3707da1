package models

import "time"

// CommandRecord summarises how one remediation command fared for a pattern.
type CommandRecord struct {
	Command  string `json:"command"`
	Attempts int    `json:"attempts"`
	Healed   int    `json:"healed"`
}

// HealRate is the share of attempts that were verified healthy.
func (c CommandRecord) HealRate() float64 {
	if c.Attempts == 0 {
		return 0
	}
	return float64(c.Healed) / float64(c.Attempts)
}

// IncidentPattern aggregates anomalous cycles that breached the same set of signals.
type IncidentPattern struct {
	Signature  string             `json:"signature"`
	Signals    []string           `json:"signals"`
	Target     string             `json:"target"`
	Count      int                `json:"count"`
	Prevalence float64            `json:"prevalence"`
	FirstSeen  time.Time          `json:"first_seen"`
	LastSeen   time.Time          `json:"last_seen"`
	MeanExcess map[string]float64 `json:"mean_excess"`
	Severities map[Severity]int   `json:"severities,omitempty"`
	Commands   []CommandRecord    `json:"commands,omitempty"`
}
