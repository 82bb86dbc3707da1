package extractors

import (
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Evaluate compares samples against thresholds. A signal breaches when observed >= limit. Breaches
// are reported in threshold order, and a threshold without a sample is never a breach. The
// function is pure: the same input always yields the same event.
func Evaluate(samples []models.MetricSample, thresholds []models.Threshold) (models.AnomalyEvent, bool) {
	if len(samples) == 0 || len(thresholds) == 0 {
		return models.AnomalyEvent{}, false
	}

	values := models.SampleValues(samples)
	event := models.AnomalyEvent{Timestamp: newest(samples)}
	for _, th := range thresholds {
		observed, ok := values[th.Signal]
		if !ok || observed < th.Limit {
			continue
		}
		event.Breaches = append(event.Breaches, models.Breach{
			Signal:   th.Signal,
			Observed: observed,
			Limit:    th.Limit,
			Excess:   observed - th.Limit,
		})
	}

	if len(event.Breaches) == 0 {
		return models.AnomalyEvent{}, false
	}
	return event, true
}

func newest(samples []models.MetricSample) time.Time {
	var ts time.Time
	for _, s := range samples {
		if s.Timestamp.After(ts) {
			ts = s.Timestamp
		}
	}
	return ts
}

// ThresholdDetector binds an immutable, ordered threshold list.
type ThresholdDetector struct {
	thresholds []models.Threshold
}

// NewThresholdDetector copies thresholds so later caller mutation cannot change evaluation.
func NewThresholdDetector(thresholds []models.Threshold) *ThresholdDetector {
	return &ThresholdDetector{thresholds: append([]models.Threshold(nil), thresholds...)}
}

// Detect evaluates samples against the bound thresholds.
func (d *ThresholdDetector) Detect(samples []models.MetricSample) (models.AnomalyEvent, bool) {
	return Evaluate(samples, d.thresholds)
}

// Thresholds returns a copy of the bound thresholds.
func (d *ThresholdDetector) Thresholds() []models.Threshold {
	return append([]models.Threshold(nil), d.thresholds...)
}
