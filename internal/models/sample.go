package models

import "time"

// MetricSample is a single observation of a named signal taken during one tick.
type MetricSample struct {
	Signal    string    `json:"signal"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Threshold is the configured upper limit for a signal. Evaluation is inclusive.
type Threshold struct {
	Signal string
	Limit  float64
}

// SampleValues indexes samples by signal name. Later samples win on duplicates.
func SampleValues(samples []MetricSample) map[string]float64 {
	values := make(map[string]float64, len(samples))
	for _, s := range samples {
		values[s.Signal] = s.Value
	}
	return values
}
