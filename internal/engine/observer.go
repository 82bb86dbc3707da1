package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/miradorstack/mirador-sentinel/internal/cache"
	"github.com/miradorstack/mirador-sentinel/internal/diagnosis"
	"github.com/miradorstack/mirador-sentinel/internal/extractors"
	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/remediation"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

const tracerName = "github.com/miradorstack/mirador-sentinel/internal/engine"

// MetricSampler takes one snapshot of every monitored signal.
type MetricSampler interface {
	Sample(ctx context.Context) ([]models.MetricSample, error)
}

// Detector evaluates samples against the configured thresholds.
type Detector interface {
	Detect(samples []models.MetricSample) (models.AnomalyEvent, bool)
}

// Diagnoser turns an anomaly into a diagnosis.
type Diagnoser interface {
	Diagnose(ctx context.Context, req diagnosis.Request) (models.Diagnosis, error)
}

// Remediator resolves and executes allowlisted actions.
type Remediator interface {
	Resolve(step string) (remediation.Action, error)
	Execute(ctx context.Context, step string) (models.RemediationOutcome, error)
}

// LogSource returns a recent excerpt of the target's logs.
type LogSource interface {
	Tail(ctx context.Context) (string, error)
}

// Stabilizer verifies recovery after a remediation.
type Stabilizer interface {
	Verify(ctx context.Context, grace time.Duration) (bool, error)
}

// Reporter receives every finished cycle.
type Reporter interface {
	Report(ctx context.Context, report models.CycleReport)
}

// Options holds the immutable loop settings.
type Options struct {
	Target             string
	PollInterval       time.Duration
	Cooldown           time.Duration
	GracePeriod        time.Duration
	LeaseTTL           time.Duration
	MinSeverity        models.Severity
	RemediationEnabled bool
	DryRun             bool
	Thresholds         []models.Threshold
	MaxLogBytes        int
	CacheKeyPrefix     string
}

// Dependencies are the collaborators of the observer. Logs, Cache, Reporters and Tracer are
// optional.
type Dependencies struct {
	Sampler    MetricSampler
	Detector   Detector
	Diagnoser  Diagnoser
	Remediator Remediator
	Verifier   Stabilizer
	Logs       LogSource
	Cache      cache.Provider
	Reporters  []Reporter
	Tracer     trace.Tracer
}

// Observer runs the detect, diagnose, act, verify loop for one target.
type Observer struct {
	opts     Options
	deps     Dependencies
	logs     *extractors.LogsExtractor
	logger   *slog.Logger
	tracer   trace.Tracer
	sleep    SleepFunc
	now      func() time.Time
	newID    func() string
	inFlight atomic.Bool
	stateMu  sync.Mutex
	state    State
}

// NewObserver validates dependencies and returns an idle observer.
func NewObserver(opts Options, deps Dependencies, logger *slog.Logger) (*Observer, error) {
	if deps.Sampler == nil || deps.Detector == nil || deps.Diagnoser == nil || deps.Remediator == nil || deps.Verifier == nil {
		return nil, errors.New("observer requires sampler, detector, diagnoser, remediator and verifier")
	}
	if opts.PollInterval <= 0 {
		return nil, errors.New("poll interval must be positive")
	}
	if opts.Cooldown <= opts.PollInterval {
		return nil, fmt.Errorf("cooldown %s must exceed poll interval %s", opts.Cooldown, opts.PollInterval)
	}
	if opts.MinSeverity == "" {
		opts.MinSeverity = models.SeverityHigh
	}
	if opts.Target == "" {
		opts.Target = "target"
	}
	if deps.Cache == nil {
		deps.Cache = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	opts.Thresholds = append([]models.Threshold(nil), opts.Thresholds...)

	return &Observer{
		opts:   opts,
		deps:   deps,
		logs:   extractors.NewLogsExtractor(),
		logger: logger.With(slog.String("target", opts.Target)),
		tracer: tracer,
		sleep:  Sleep,
		now:    time.Now,
		newID:  uuid.NewString,
		state:  StateIdle,
	}, nil
}

// State returns the current loop phase.
func (o *Observer) State() State {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.state
}

func (o *Observer) transition(cycleID string, to State) {
	o.stateMu.Lock()
	from := o.state
	o.state = to
	o.stateMu.Unlock()
	o.logger.Info("state transition",
		slog.String("cycle_id", cycleID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
}

// Run executes cycles until ctx is cancelled. A cooldown persisted by a previous process is
// honoured before the first cycle.
func (o *Observer) Run(ctx context.Context) error {
	o.logger.Info("observer started",
		slog.Duration("poll_interval", o.opts.PollInterval),
		slog.Duration("cooldown", o.opts.Cooldown),
		slog.Bool("remediation_enabled", o.opts.RemediationEnabled),
		slog.Bool("dry_run", o.opts.DryRun),
	)

	if wait := o.pendingCooldown(ctx); wait > 0 {
		o.transition("", StateCooldown)
		o.logger.Info("honouring persisted cooldown", slog.Duration("remaining", wait))
		if err := o.sleep(ctx, wait); err != nil {
			o.logger.Info("observer stopped")
			return nil
		}
		o.transition("", StateIdle)
	}

	for {
		report := o.RunCycle(ctx)
		if ctx.Err() != nil {
			o.logger.Info("observer stopped", slog.String("cycle_id", report.CycleID))
			return nil
		}

		wait := o.opts.PollInterval
		if report.Anomalous() {
			wait = o.opts.Cooldown
		}
		if report.Outcome != models.OutcomeSkipped {
			o.logger.Debug("waiting before next cycle", slog.String("cycle_id", report.CycleID), slog.Duration("wait", wait))
		}
		if err := o.sleep(ctx, wait); err != nil {
			o.logger.Info("observer stopped", slog.String("cycle_id", report.CycleID))
			return nil
		}
		o.transition(report.CycleID, StateIdle)
	}
}

// RunCycle performs exactly one cycle and returns its report. A call made while another cycle
// is in flight, here or in another replica holding the lease, returns OutcomeSkipped without
// side effects. The cycle ends in the cooldown state except when skipped or aborted. A failed
// command is still followed by verification.
func (o *Observer) RunCycle(ctx context.Context) models.CycleReport {
	report := models.CycleReport{
		CycleID:   o.newID(),
		Target:    o.opts.Target,
		StartedAt: o.now(),
	}

	if !o.inFlight.CompareAndSwap(false, true) {
		o.logger.Warn("cycle already in flight, skipping", slog.String("cycle_id", report.CycleID))
		return o.finish(ctx, report, models.OutcomeSkipped, nil)
	}
	defer o.inFlight.Store(false)

	log := o.logger.With(slog.String("cycle_id", report.CycleID))
	ctx, span := o.tracer.Start(ctx, "observer.cycle", trace.WithAttributes(
		attribute.String("cycle.id", report.CycleID),
		attribute.String("target", o.opts.Target),
	))
	defer span.End()

	leaseKey := cache.Key(o.opts.CacheKeyPrefix, "cycle", o.opts.Target)
	acquired, err := o.deps.Cache.SetNX(ctx, leaseKey, []byte(report.CycleID), o.opts.LeaseTTL)
	if err != nil {
		log.Warn("cycle lease unavailable, continuing with in-process guard", slog.Any("error", err))
		acquired = true
	}
	if !acquired {
		log.Info("cycle lease held by another observer, skipping", slog.String("key", leaseKey))
		return o.finish(ctx, report, models.OutcomeSkipped, nil)
	}
	defer o.releaseLease(context.WithoutCancel(ctx), leaseKey, report.CycleID, log)

	outcome, err := o.cycle(ctx, &report, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("cycle.outcome", string(outcome)))

	// A dispatched command may restart this process, so its cooldown outlives an abort.
	dispatched := report.Remediation != nil && report.Remediation.Executed
	if report.Anomalous() && (outcome != models.OutcomeAborted || dispatched) {
		o.persistCooldown(context.WithoutCancel(ctx), log)
	}
	if outcome != models.OutcomeAborted {
		o.transition(report.CycleID, StateCooldown)
	}
	return o.finish(ctx, report, outcome, err)
}

func (o *Observer) cycle(ctx context.Context, report *models.CycleReport, log *slog.Logger) (models.CycleOutcome, error) {
	o.transition(report.CycleID, StateSampling)
	samples, err := o.sample(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return models.OutcomeAborted, ctx.Err()
		}
		log.Warn("sampling failed, skipping tick", slog.Any("error", err))
		return models.OutcomeSampleFailed, err
	}
	report.Samples = samples
	for _, s := range samples {
		metrics.ObserveSignal(s.Signal, s.Value)
	}

	o.transition(report.CycleID, StateEvaluating)
	event, anomalous := o.deps.Detector.Detect(samples)
	if !anomalous {
		log.Debug("all signals within thresholds", slog.Any("values", models.SampleValues(samples)))
		return models.OutcomeSteady, nil
	}
	report.Event = &event
	for _, b := range event.Breaches {
		metrics.ObserveBreach(b.Signal)
	}
	log.Warn("anomaly detected", slog.String("breaches", event.Summary()))

	o.transition(report.CycleID, StateDiagnosing)
	diag, err := o.diagnose(ctx, event, samples, log)
	if err != nil {
		if ctx.Err() != nil {
			return models.OutcomeAborted, ctx.Err()
		}
		log.Warn("no diagnosis available, skipping remediation", slog.Any("error", err))
		return models.OutcomeDiagnosisUnavailable, err
	}
	report.Diagnosis = &diag
	log.Info("diagnosis",
		slog.String("backend", diag.BackendUsed),
		slog.String("severity", string(diag.Severity)),
		slog.String("root_cause", diag.RootCause),
		slog.String("remediation_step", diag.RemediationStep),
	)

	if reason := o.skipReason(diag); reason != "" {
		log.Info("remediation not attempted", slog.String("reason", reason))
		metrics.ObserveRemediation(string(models.OutcomeNoAction))
		return models.OutcomeNoAction, nil
	}

	o.transition(report.CycleID, StateRemediating)
	if o.opts.DryRun {
		action, err := o.deps.Remediator.Resolve(diag.RemediationStep)
		if err != nil {
			log.Warn("remediation rejected", slog.Any("error", err))
			metrics.ObserveRemediation(string(models.OutcomeRejected))
			report.Remediation = &models.RemediationOutcome{Command: remediation.Normalize(diag.RemediationStep), ExitStatus: -1}
			return models.OutcomeRejected, err
		}
		log.Info("dry run, remediation not executed", slog.String("command", action.Command), slog.Any("argv", action.Argv))
		metrics.ObserveRemediation(string(models.OutcomeDryRun))
		report.Remediation = &models.RemediationOutcome{Command: action.Command, ExitStatus: -1}
		return models.OutcomeDryRun, nil
	}

	outcome, execErr := o.remediate(ctx, diag.RemediationStep)
	report.Remediation = &outcome
	if execErr != nil {
		if !errors.Is(execErr, utils.ErrExecutionFailure) {
			result := remediationFailure(execErr)
			if result == models.OutcomeAborted {
				return result, execErr
			}
			log.Warn("remediation did not run", slog.String("outcome", string(result)), slog.Any("error", execErr))
			metrics.ObserveRemediation(string(result))
			return result, execErr
		}
		// A failed command may still have changed the target; verification decides.
		log.Warn("remediation command failed, verifying target anyway",
			slog.String("command", outcome.Command),
			slog.Int("exit_status", outcome.ExitStatus),
			slog.Any("error", execErr),
		)
	}

	o.transition(report.CycleID, StateVerifying)
	healthy, err := o.verify(ctx)
	outcome.VerifiedHealthy = healthy
	report.Remediation = &outcome
	if err != nil && ctx.Err() != nil {
		log.Warn("verification interrupted by shutdown", slog.Any("error", err))
		metrics.ObserveRemediation(string(models.OutcomeAborted))
		return models.OutcomeAborted, errors.Join(execErr, ctx.Err())
	}
	if !healthy {
		log.Warn("remediation did not heal target", slog.Any("error", err))
		metrics.ObserveRemediation(string(models.OutcomeUnhealed))
		return models.OutcomeUnhealed, errors.Join(execErr, err)
	}
	log.Info("target healed", slog.String("command", outcome.Command))
	metrics.ObserveRemediation(string(models.OutcomeHealed))
	return models.OutcomeHealed, execErr
}

func (o *Observer) sample(ctx context.Context) ([]models.MetricSample, error) {
	ctx, span := o.tracer.Start(ctx, "observer.sample")
	defer span.End()
	samples, err := o.deps.Sampler.Sample(ctx)
	if err != nil {
		span.RecordError(err)
	}
	return samples, err
}

func (o *Observer) diagnose(ctx context.Context, event models.AnomalyEvent, samples []models.MetricSample, log *slog.Logger) (models.Diagnosis, error) {
	ctx, span := o.tracer.Start(ctx, "observer.diagnose")
	defer span.End()

	var excerpt string
	if o.deps.Logs != nil {
		tail, err := o.deps.Logs.Tail(ctx)
		if err != nil {
			log.Warn("log excerpt unavailable, diagnosing without logs", slog.Any("error", err))
		} else {
			excerpt = extractors.TruncateTail(tail, o.opts.MaxLogBytes)
		}
	}

	diag, err := o.deps.Diagnoser.Diagnose(ctx, diagnosis.Request{
		Event:      event,
		Samples:    samples,
		Thresholds: o.opts.Thresholds,
		Logs:       excerpt,
		LogSummary: o.logs.Summarize(excerpt),
	})
	if err != nil {
		span.RecordError(err)
		return models.Diagnosis{}, err
	}
	span.SetAttributes(
		attribute.String("diagnosis.backend", diag.BackendUsed),
		attribute.String("diagnosis.severity", string(diag.Severity)),
	)
	return diag, nil
}

func (o *Observer) remediate(ctx context.Context, step string) (models.RemediationOutcome, error) {
	ctx, span := o.tracer.Start(ctx, "observer.remediate")
	defer span.End()
	outcome, err := o.deps.Remediator.Execute(ctx, step)
	span.SetAttributes(
		attribute.String("remediation.command", outcome.Command),
		attribute.Bool("remediation.executed", outcome.Executed),
		attribute.Int("remediation.exit_status", outcome.ExitStatus),
	)
	if err != nil {
		span.RecordError(err)
	}
	return outcome, err
}

func (o *Observer) verify(ctx context.Context) (bool, error) {
	ctx, span := o.tracer.Start(ctx, "observer.verify")
	defer span.End()
	healthy, err := o.deps.Verifier.Verify(ctx, o.opts.GracePeriod)
	span.SetAttributes(attribute.Bool("verification.healthy", healthy))
	if err != nil {
		span.RecordError(err)
	}
	return healthy, err
}

func (o *Observer) skipReason(diag models.Diagnosis) string {
	step := strings.TrimSpace(diag.RemediationStep)
	switch {
	case !o.opts.RemediationEnabled:
		return "remediation disabled"
	case !diag.Severity.AtLeast(o.opts.MinSeverity):
		return fmt.Sprintf("severity %s below %s", diag.Severity, o.opts.MinSeverity)
	case step == "" || strings.EqualFold(step, "N/A"):
		return "no remediation step suggested"
	}
	return ""
}

func remediationFailure(err error) models.CycleOutcome {
	switch {
	case errors.Is(err, utils.ErrCommandNotAllowed):
		return models.OutcomeRejected
	case errors.Is(err, utils.ErrRemediationThrottled):
		return models.OutcomeThrottled
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return models.OutcomeAborted
	}
	return models.OutcomeUnhealed
}

func (o *Observer) finish(ctx context.Context, report models.CycleReport, outcome models.CycleOutcome, err error) models.CycleReport {
	report.FinishedAt = o.now()
	report.Outcome = outcome
	if err != nil {
		report.Error = err.Error()
	}

	metrics.ObserveCycle(report.Duration(), string(outcome))
	o.logger.Info("cycle finished",
		slog.String("cycle_id", report.CycleID),
		slog.String("outcome", string(outcome)),
		slog.Duration("elapsed", report.Duration()),
	)

	reportCtx := context.WithoutCancel(ctx)
	for _, r := range o.deps.Reporters {
		r.Report(reportCtx, report)
	}
	return report
}

func (o *Observer) cooldownKey() string {
	return cache.Key(o.opts.CacheKeyPrefix, "cooldown", o.opts.Target)
}

func (o *Observer) persistCooldown(ctx context.Context, log *slog.Logger) {
	deadline := o.now().Add(o.opts.Cooldown).UTC()
	if err := o.deps.Cache.Set(ctx, o.cooldownKey(), []byte(deadline.Format(time.RFC3339)), o.opts.Cooldown); err != nil {
		log.Warn("persist cooldown failed", slog.Any("error", err))
	}
}

func (o *Observer) pendingCooldown(ctx context.Context) time.Duration {
	raw, err := o.deps.Cache.Get(ctx, o.cooldownKey())
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			o.logger.Warn("read persisted cooldown failed", slog.Any("error", err))
		}
		return 0
	}
	deadline, err := utils.ParseRFC3339(string(raw))
	if err != nil {
		o.logger.Warn("ignoring malformed persisted cooldown", slog.String("value", string(raw)), slog.Any("error", err))
		return 0
	}
	wait := utils.Remaining(deadline, o.now())
	if wait > o.opts.Cooldown {
		wait = o.opts.Cooldown
	}
	return wait
}

func (o *Observer) releaseLease(ctx context.Context, key, cycleID string, log *slog.Logger) {
	holder, err := o.deps.Cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			log.Warn("read cycle lease failed", slog.Any("error", err))
		}
		return
	}
	if string(holder) != cycleID {
		return
	}
	if err := o.deps.Cache.Del(ctx, key); err != nil {
		log.Warn("release cycle lease failed", slog.Any("error", err))
	}
}
