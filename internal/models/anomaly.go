package models

import (
	"fmt"
	"strings"
	"time"
)

// Breach records a signal that met or exceeded its limit.
type Breach struct {
	Signal   string  `json:"signal"`
	Observed float64 `json:"observed"`
	Limit    float64 `json:"limit"`
	Excess   float64 `json:"excess"`
}

// AnomalyEvent lists every breaching signal of one tick, in configuration order.
type AnomalyEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Breaches  []Breach  `json:"breaches"`
}

// Signals returns the breaching signal names in order.
func (e AnomalyEvent) Signals() []string {
	names := make([]string, 0, len(e.Breaches))
	for _, b := range e.Breaches {
		names = append(names, b.Signal)
	}
	return names
}

// Summary renders a compact human readable description of the breaches.
func (e AnomalyEvent) Summary() string {
	if len(e.Breaches) == 0 {
		return "no breaches"
	}
	parts := make([]string, 0, len(e.Breaches))
	for _, b := range e.Breaches {
		parts = append(parts, fmt.Sprintf("%s=%.4f (limit %.4f, +%.4f)", b.Signal, b.Observed, b.Limit, b.Excess))
	}
	return strings.Join(parts, ", ")
}
