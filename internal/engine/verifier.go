package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// HealthProbe checks whether the target answers its liveness endpoint.
type HealthProbe interface {
	Check(ctx context.Context) error
}

// Verifier decides whether a remediation healed the target. It never retries remediation.
type Verifier struct {
	sampler  MetricSampler
	detector Detector
	probe    HealthProbe
	sleep    SleepFunc
	logger   *slog.Logger
}

// NewVerifier constructs a verifier. A nil sleep uses Sleep.
func NewVerifier(sampler MetricSampler, detector Detector, probe HealthProbe, sleep SleepFunc, logger *slog.Logger) *Verifier {
	if sleep == nil {
		sleep = Sleep
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{sampler: sampler, detector: detector, probe: probe, sleep: sleep, logger: logger}
}

// Verify waits grace, probes liveness, then re-samples and re-evaluates thresholds. The target is
// healed when it is alive and no threshold is breached. A cancelled ctx during the wait returns
// the context error; any other unhealthy result wraps utils.ErrVerificationFailed.
func (v *Verifier) Verify(ctx context.Context, grace time.Duration) (bool, error) {
	if err := v.sleep(ctx, grace); err != nil {
		return false, err
	}

	if v.probe != nil {
		if err := v.probe.Check(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return false, ctxErr
			}
			return false, utils.NewAppError("engine.Verify", "target not alive", errors.Join(utils.ErrVerificationFailed, err))
		}
	}

	samples, err := v.sampler.Sample(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		return false, utils.NewAppError("engine.Verify", "re-sample failed", errors.Join(utils.ErrVerificationFailed, err))
	}

	if event, anomalous := v.detector.Detect(samples); anomalous {
		v.logger.Warn("target still degraded after remediation", slog.String("breaches", event.Summary()))
		return false, utils.NewAppError("engine.Verify", fmt.Sprintf("still breaching: %s", event.Summary()), utils.ErrVerificationFailed)
	}

	v.logger.Debug("target verified healthy", slog.Any("values", models.SampleValues(samples)))
	return true, nil
}
