package api

import (
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// TargetServiceName is the health service name reporting the monitored target's state.
const TargetServiceName = "mirador.sentinel.Target"

// ServingStatusFor maps a cycle outcome onto the target's health status. ok is false for outcomes
// that say nothing about the target, in which case the previous status stands.
func ServingStatusFor(outcome models.CycleOutcome) (healthpb.HealthCheckResponse_ServingStatus, bool) {
	switch outcome {
	case models.OutcomeSteady, models.OutcomeHealed:
		return healthpb.HealthCheckResponse_SERVING, true
	case models.OutcomeDiagnosisUnavailable,
		models.OutcomeNoAction,
		models.OutcomeRejected,
		models.OutcomeThrottled,
		models.OutcomeDryRun,
		models.OutcomeUnhealed:
		return healthpb.HealthCheckResponse_NOT_SERVING, true
	default:
		return healthpb.HealthCheckResponse_UNKNOWN, false
	}
}
