package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mirador_sentinel"

// Diagnosis attempt outcomes.
const (
	DiagnosisSuccess     = "success"
	DiagnosisMalformed   = "malformed"
	DiagnosisUnreachable = "unreachable"
)

var (
	ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Observer cycles completed, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Threshold breaches detected, partitioned by signal.",
		},
		[]string{"signal"},
	)

	signalValue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signal_value",
			Help:      "Last sampled value per monitored signal.",
		},
		[]string{"signal"},
	)

	diagnosesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnoses_total",
			Help:      "Diagnosis attempts per backend, partitioned by outcome.",
		},
		[]string{"backend", "outcome"},
	)

	remediationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remediations_total",
			Help:      "Remediation decisions, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	cycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_seconds",
			Help:      "Observer cycle latency in seconds, excluding the inter-cycle wait.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
)

// Register attaches mirador-sentinel collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		ticksTotal,
		anomaliesTotal,
		signalValue,
		diagnosesTotal,
		remediationsTotal,
		cycleDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCycle records a cycle duration and outcome label.
func ObserveCycle(duration time.Duration, outcome string) {
	ticksTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	cycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveSignal stores the latest sampled value of a signal.
func ObserveSignal(signal string, value float64) {
	signalValue.WithLabelValues(signal).Set(value)
}

// ObserveBreach counts one breach of a signal.
func ObserveBreach(signal string) {
	anomaliesTotal.WithLabelValues(signal).Inc()
}

// ObserveDiagnosis counts one backend attempt.
func ObserveDiagnosis(backend, outcome string) {
	diagnosesTotal.WithLabelValues(backend, outcome).Inc()
}

// ObserveRemediation counts one remediation decision.
func ObserveRemediation(outcome string) {
	remediationsTotal.WithLabelValues(outcome).Inc()
}
