package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/cache"
	"github.com/miradorstack/mirador-sentinel/internal/command"
	"github.com/miradorstack/mirador-sentinel/internal/config"
	"github.com/miradorstack/mirador-sentinel/internal/diagnosis"
	"github.com/miradorstack/mirador-sentinel/internal/extractors"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/remediation"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

var testThresholds = []models.Threshold{
	{Signal: "cpu", Limit: 0.5},
	{Signal: "p90_latency", Limit: 2.0},
}

type scriptedSampler struct {
	mu    sync.Mutex
	ticks [][2]float64
	calls int
	err   error
}

func (s *scriptedSampler) Sample(ctx context.Context) ([]models.MetricSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	idx := s.calls
	if idx >= len(s.ticks) {
		idx = len(s.ticks) - 1
	}
	s.calls++
	ts := time.Unix(1_700_000_000+int64(idx), 0)
	return []models.MetricSample{
		{Signal: "cpu", Value: s.ticks[idx][0], Timestamp: ts},
		{Signal: "p90_latency", Value: s.ticks[idx][1], Timestamp: ts},
	}, nil
}

type fakeDiagnoser struct {
	calls int32
	diag  models.Diagnosis
	err   error
	hook  func(ctx context.Context)
}

func (f *fakeDiagnoser) Diagnose(ctx context.Context, _ diagnosis.Request) (models.Diagnosis, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.hook != nil {
		f.hook(ctx)
	}
	return f.diag, f.err
}

type spyRunner struct {
	mu     sync.Mutex
	calls  [][]string
	result command.Result
	err    error
}

func (s *spyRunner) Run(_ context.Context, argv []string) (command.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, append([]string(nil), argv...))
	return s.result, s.err
}

func (s *spyRunner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type okProbe struct{ err error }

func (p okProbe) Check(context.Context) error { return p.err }

type sleepRecorder struct {
	mu     sync.Mutex
	waits  []time.Duration
	cancel context.CancelFunc
	stopAt int
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	n := len(r.waits)
	r.mu.Unlock()
	if r.stopAt > 0 && n >= r.stopAt && r.cancel != nil {
		r.cancel()
	}
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

type captureReporter struct {
	mu      sync.Mutex
	reports []models.CycleReport
}

func (c *captureReporter) Report(_ context.Context, report models.CycleReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, report)
}

type harness struct {
	observer *Observer
	sampler  *scriptedSampler
	diag     *fakeDiagnoser
	runner   *spyRunner
	sleeper  *sleepRecorder
	reporter *captureReporter
	cache    *cache.MemoryProvider
	logs     *bytes.Buffer
}

const (
	testPoll     = 30 * time.Second
	testCooldown = 60 * time.Second
	testGrace    = 30 * time.Second
)

func newHarness(t *testing.T, ticks [][2]float64, diag models.Diagnosis, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		sampler:  &scriptedSampler{ticks: ticks},
		diag:     &fakeDiagnoser{diag: diag},
		runner:   &spyRunner{},
		sleeper:  &sleepRecorder{},
		reporter: &captureReporter{},
		cache:    cache.NewMemoryProvider(),
		logs:     &bytes.Buffer{},
	}
	logger := utils.NewLoggerTo(h.logs, "debug", true)

	catalog, err := remediation.NewCatalog(config.DefaultAllowlist("sentinel-target-api"))
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	executor := remediation.NewExecutor(catalog, h.runner, remediation.Options{CommandTimeout: time.Second}, logger)
	detector := extractors.NewThresholdDetector(testThresholds)
	verifier := NewVerifier(h.sampler, detector, okProbe{}, h.sleeper.sleep, logger)

	opts := Options{
		Target:             "sentinel-target-api",
		PollInterval:       testPoll,
		Cooldown:           testCooldown,
		GracePeriod:        testGrace,
		LeaseTTL:           time.Minute,
		MinSeverity:        models.SeverityHigh,
		RemediationEnabled: true,
		Thresholds:         testThresholds,
		CacheKeyPrefix:     "sentinel",
	}
	if mutate != nil {
		mutate(&opts)
	}

	observer, err := NewObserver(opts, Dependencies{
		Sampler:    h.sampler,
		Detector:   detector,
		Diagnoser:  h.diag,
		Remediator: executor,
		Verifier:   verifier,
		Cache:      h.cache,
		Reporters:  []Reporter{h.reporter},
	}, logger)
	if err != nil {
		t.Fatalf("new observer: %v", err)
	}
	var seq int64
	observer.newID = func() string { return fmt.Sprintf("cycle-%d", atomic.AddInt64(&seq, 1)) }
	observer.sleep = h.sleeper.sleep
	h.observer = observer
	return h
}

var highRestart = models.Diagnosis{
	BackendUsed:     "gemini",
	Severity:        models.SeverityHigh,
	RootCause:       "CPU stress loop saturating the worker",
	RemediationStep: "docker-compose restart",
}

func TestRunHealsAnomalyThenEntersCooldown(t *testing.T) {
	h := newHarness(t, [][2]float64{{0.73, 2.6}, {0.1, 0.3}}, highRestart, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.sleeper.cancel = cancel
	h.sleeper.stopAt = 2

	if err := h.observer.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(h.reporter.reports) != 1 {
		t.Fatalf("expected one cycle, got %d", len(h.reporter.reports))
	}
	report := h.reporter.reports[0]
	if report.Outcome != models.OutcomeHealed {
		t.Fatalf("expected healed, got %s (%s)", report.Outcome, report.Error)
	}
	if got := report.Event.Signals(); len(got) != 2 || got[0] != "cpu" || got[1] != "p90_latency" {
		t.Fatalf("unexpected breaches %v", got)
	}
	if report.Diagnosis == nil || report.Diagnosis.BackendUsed != "gemini" {
		t.Fatalf("unexpected diagnosis %+v", report.Diagnosis)
	}
	if report.Remediation == nil || !report.Remediation.Executed || !report.Remediation.VerifiedHealthy {
		t.Fatalf("unexpected remediation %+v", report.Remediation)
	}
	if h.runner.count() != 1 || strings.Join(h.runner.calls[0], " ") != "docker-compose restart" {
		t.Fatalf("unexpected runner calls %v", h.runner.calls)
	}

	waits := h.sleeper.recorded()
	if len(waits) != 2 || waits[0] != testGrace || waits[1] != testCooldown {
		t.Fatalf("expected grace then cooldown waits, got %v", waits)
	}
	if h.sampler.calls != 2 {
		t.Fatalf("expected one sample plus one re-sample, got %d", h.sampler.calls)
	}

	raw, err := h.cache.Get(context.Background(), "sentinel:cooldown:sentinel-target-api")
	if err != nil {
		t.Fatalf("cooldown deadline not persisted: %v", err)
	}
	if _, err := utils.ParseRFC3339(string(raw)); err != nil {
		t.Fatalf("persisted cooldown is not RFC3339: %q", raw)
	}
	if _, err := h.cache.Get(context.Background(), "sentinel:cycle:sentinel-target-api"); !errors.Is(err, cache.ErrCacheMiss) {
		t.Fatalf("cycle lease should be released, got %v", err)
	}
}

func TestRunSteadyUsesPollInterval(t *testing.T) {
	h := newHarness(t, [][2]float64{{0.1, 0.3}}, highRestart, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.sleeper.cancel = cancel
	h.sleeper.stopAt = 2

	if err := h.observer.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if atomic.LoadInt32(&h.diag.calls) != 0 || h.runner.count() != 0 {
		t.Fatalf("steady ticks must not diagnose or execute")
	}
	waits := h.sleeper.recorded()
	if len(waits) != 2 || waits[0] != testPoll || waits[1] != testPoll {
		t.Fatalf("expected two poll interval waits, got %v", waits)
	}
	for _, r := range h.reporter.reports {
		if r.Outcome != models.OutcomeSteady {
			t.Fatalf("expected steady outcome, got %s", r.Outcome)
		}
	}
}

func TestRunCycleLogsStateTransitions(t *testing.T) {
	h := newHarness(t, [][2]float64{{0.73, 2.6}, {0.1, 0.3}}, highRestart, nil)
	h.observer.RunCycle(context.Background())

	logs := h.logs.String()
	for _, want := range []string{
		`"from":"idle","to":"sampling"`,
		`"from":"sampling","to":"evaluating"`,
		`"from":"evaluating","to":"diagnosing"`,
		`"from":"diagnosing","to":"remediating"`,
		`"from":"remediating","to":"verifying"`,
		`"from":"verifying","to":"cooldown"`,
	} {
		if !strings.Contains(logs, want) {
			t.Fatalf("missing transition %s in logs:\n%s", want, logs)
		}
	}
	if !strings.Contains(logs, `"cycle_id":"cycle-1"`) {
		t.Fatalf("transition logs must carry the cycle id")
	}
	if h.observer.State() != StateCooldown {
		t.Fatalf("expected cooldown state, got %s", h.observer.State())
	}
}

func TestRunCycleSkipsWhenInFlight(t *testing.T) {
	h := newHarness(t, [][2]float64{{0.73, 2.6}, {0.1, 0.3}}, highRestart, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.diag.hook = func(context.Context) {
		close(entered)
		<-release
	}

	done := make(chan models.CycleReport)
	go func() { done <- h.observer.RunCycle(context.Background()) }()
	<-entered

	second := h.observer.RunCycle(context.Background())
	if second.Outcome != models.OutcomeSkipped {
		t.Fatalf("concurrent cycle must be skipped, got %s", second.Outcome)
	}
	close(release)

	first := <-done
	if first.Outcome != models.OutcomeHealed {
		t.Fatalf("first cycle should complete, got %s (%s)", first.Outcome, first.Error)
	}
	if atomic.LoadInt32(&h.diag.calls) != 1 || h.runner.count() != 1 {
		t.Fatalf("skipped cycle must have no side effects")
	}
}

func TestRunCycleSkipsWhenLeaseHeldElsewhere(t *testing.T) {
	h := newHarness(t, [][2]float64{{0.73, 2.6}}, highRestart, nil)
	if err := h.cache.Set(context.Background(), "sentinel:cycle:sentinel-target-api", []byte("other-replica"), time.Minute); err != nil {
		t.Fatalf("seed lease: %v", err)
	}

	report := h.observer.RunCycle(context.Background())
	if report.Outcome != models.OutcomeSkipped {
		t.Fatalf("expected skipped, got %s", report.Outcome)
	}
	if h.sampler.calls != 0 {
		t.Fatalf("skipped cycle must not sample")
	}
	holder, _ := h.cache.Get(context.Background(), "sentinel:cycle:sentinel-target-api")
	if string(holder) != "other-replica" {
		t.Fatalf("foreign lease must not be released, got %q", holder)
	}
}

func TestRunCycleShutdownBeforeDispatch(t *testing.T) {
	h := newHarness(t, [][2]float64{{0.73, 2.6}}, highRestart, nil)
	ctx, cancel := context.WithCancel(context.Background())
	h.diag.hook = func(context.Context) { cancel() }

	report := h.observer.RunCycle(ctx)
	if report.Outcome != models.OutcomeAborted {
		t.Fatalf("expected aborted, got %s", report.Outcome)
	}
	if h.runner.count() != 0 {
		t.Fatalf("command must not run after shutdown was requested")
	}
	if _, err := h.cache.Get(context.Background(), "sentinel:cooldown:sentinel-target-api"); !errors.Is(err, cache.ErrCacheMiss) {
		t.Fatalf("no command ran, cooldown should not be persisted, got %v", err)
	}
}

func TestRunCycleDiagnosisUnavailable(t *testing.T) {
	h := newHarness(t, [][2]float64{{0.73, 2.6}}, models.Diagnosis{}, nil)
	h.diag.err = utils.NewAppError("diagnosis.Diagnose", "2 backend(s) failed", utils.ErrDiagnosisUnavailable)

	report := h.observer.RunCycle(context.Background())
	if report.Outcome != models.OutcomeDiagnosisUnavailable {
		t.Fatalf("expected diagnosis_unavailable, got %s", report.Outcome)
	}
	if h.runner.count() != 0 {
		t.Fatalf("no action may run without a diagnosis")
	}
	if !strings.Contains(h.logs.String(), `"level":"WARN","msg":"no diagnosis available, skipping remediation"`) {
		t.Fatalf("expected warn log, got:\n%s", h.logs.String())
	}
}

func TestRunCycleSeverityGateAndNoStep(t *testing.T) {
	cases := map[string]models.Diagnosis{
		"low severity": {BackendUsed: "gemini", Severity: models.SeverityMedium, RootCause: "x", RemediationStep: "docker-compose restart"},
		"n/a step":     {BackendUsed: "gemini", Severity: models.SeverityCritical, RootCause: "x", RemediationStep: "N/A"},
		"empty step":   {BackendUsed: "gemini", Severity: models.SeverityCritical, RootCause: "x"},
	}
	for name, diag := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, [][2]float64{{0.73, 2.6}}, diag, nil)
			report := h.observer.RunCycle(context.Background())
			if report.Outcome != models.OutcomeNoAction {
				t.Fatalf("expected no_action, got %s", report.Outcome)
			}
			if h.runner.count() != 0 {
				t.Fatalf("runner must not be called")
			}
		})
	}
}

func TestRunCycleRejectsUnlistedStep(t *testing.T) {
	diag := highRestart
	diag.RemediationStep = "docker-compose restart && rm -rf /"
	h := newHarness(t, [][2]float64{{0.73, 2.6}}, diag, nil)

	report := h.observer.RunCycle(context.Background())
	if report.Outcome != models.OutcomeRejected {
		t.Fatalf("expected rejected, got %s", report.Outcome)
	}
	if h.runner.count() != 0 {
		t.Fatalf("runner must not be called for rejected steps")
	}
}

func TestRunCycleDryRun(t *testing.T) {
	h := newHarness(t, [][2]float64{{0.73, 2.6}}, highRestart, func(o *Options) { o.DryRun = true })

	report := h.observer.RunCycle(context.Background())
	if report.Outcome != models.OutcomeDryRun {
		t.Fatalf("expected dry_run, got %s", report.Outcome)
	}
	if h.runner.count() != 0 || report.Remediation.Executed {
		t.Fatalf("dry run must not execute")
	}
}

func TestRunCycleUnhealedWhenStillBreaching(t *testing.T) {
	h := newHarness(t, [][2]float64{{0.73, 2.6}, {0.8, 0.3}}, highRestart, nil)

	report := h.observer.RunCycle(context.Background())
	if report.Outcome != models.OutcomeUnhealed {
		t.Fatalf("expected unhealed, got %s", report.Outcome)
	}
	if h.runner.count() != 1 {
		t.Fatalf("remediation must run exactly once, got %d", h.runner.count())
	}
	if !strings.Contains(report.Error, utils.ErrVerificationFailed.Error()) {
		t.Fatalf("expected verification failure in report, got %q", report.Error)
	}
}

func TestRunVerifiesAfterFailedCommandThenCoolsDown(t *testing.T) {
	h := newHarness(t, [][2]float64{{0.73, 2.6}, {0.8, 0.3}}, highRestart, nil)
	h.runner.result = command.Result{ExitCode: 1, Stderr: "service not found"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.sleeper.cancel = cancel
	h.sleeper.stopAt = 2

	if err := h.observer.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(h.reporter.reports) != 1 {
		t.Fatalf("expected one cycle, got %d", len(h.reporter.reports))
	}
	report := h.reporter.reports[0]
	if report.Outcome != models.OutcomeUnhealed {
		t.Fatalf("expected unhealed, got %s (%s)", report.Outcome, report.Error)
	}
	if report.Remediation == nil || !report.Remediation.Executed || report.Remediation.ExitStatus != 1 || report.Remediation.VerifiedHealthy {
		t.Fatalf("unexpected remediation %+v", report.Remediation)
	}
	if !strings.Contains(report.Error, utils.ErrExecutionFailure.Error()) || !strings.Contains(report.Error, utils.ErrVerificationFailed.Error()) {
		t.Fatalf("expected execution and verification failures in report, got %q", report.Error)
	}
	if h.sampler.calls != 2 {
		t.Fatalf("expected verification re-sample after failed command, got %d samples", h.sampler.calls)
	}
	waits := h.sleeper.recorded()
	if len(waits) != 2 || waits[0] != testGrace || waits[1] != testCooldown {
		t.Fatalf("expected grace then cooldown waits, got %v", waits)
	}
	if !strings.Contains(h.logs.String(), `"to":"verifying"`) {
		t.Fatalf("expected transition to verifying, logs: %s", h.logs.String())
	}
}

func TestRunCycleFailedCommandCanStillHeal(t *testing.T) {
	h := newHarness(t, [][2]float64{{0.73, 2.6}, {0.1, 0.3}}, highRestart, nil)
	h.runner.err = errors.New("signal: killed")

	report := h.observer.RunCycle(context.Background())
	if report.Outcome != models.OutcomeHealed {
		t.Fatalf("expected healed after successful verification, got %s (%s)", report.Outcome, report.Error)
	}
	if report.Remediation == nil || !report.Remediation.VerifiedHealthy {
		t.Fatalf("unexpected remediation %+v", report.Remediation)
	}
	if !strings.Contains(report.Error, utils.ErrExecutionFailure.Error()) {
		t.Fatalf("command failure should stay on record, got %q", report.Error)
	}
}

func TestRunCyclePersistsCooldownWhenAbortedAfterDispatch(t *testing.T) {
	h := newHarness(t, [][2]float64{{0.73, 2.6}, {0.1, 0.3}}, highRestart, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.sleeper.cancel = cancel
	h.sleeper.stopAt = 1

	report := h.observer.RunCycle(ctx)
	if report.Outcome != models.OutcomeAborted {
		t.Fatalf("expected aborted, got %s", report.Outcome)
	}
	if h.runner.count() != 1 {
		t.Fatalf("expected command dispatched once, got %d", h.runner.count())
	}
	raw, err := h.cache.Get(context.Background(), "sentinel:cooldown:sentinel-target-api")
	if err != nil {
		t.Fatalf("cooldown must survive an abort after dispatch: %v", err)
	}
	if _, err := utils.ParseRFC3339(string(raw)); err != nil {
		t.Fatalf("persisted cooldown is not RFC3339: %q", raw)
	}
}

func TestRunCycleSampleFailure(t *testing.T) {
	h := newHarness(t, [][2]float64{{0.1, 0.3}}, highRestart, nil)
	h.sampler.err = utils.NewAppError("repo.Sample", "query signal cpu", utils.ErrBackendUnavailable)

	report := h.observer.RunCycle(context.Background())
	if report.Outcome != models.OutcomeSampleFailed {
		t.Fatalf("expected sample_failed, got %s", report.Outcome)
	}
	if report.Anomalous() {
		t.Fatalf("failed sample must not count as anomaly")
	}
}

func TestRunHonoursPersistedCooldown(t *testing.T) {
	h := newHarness(t, [][2]float64{{0.1, 0.3}}, highRestart, nil)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h.observer.now = func() time.Time { return now }
	deadline := now.Add(45 * time.Second).Format(time.RFC3339)
	if err := h.cache.Set(context.Background(), "sentinel:cooldown:sentinel-target-api", []byte(deadline), time.Minute); err != nil {
		t.Fatalf("seed cooldown: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.sleeper.cancel = cancel
	h.sleeper.stopAt = 2

	if err := h.observer.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	waits := h.sleeper.recorded()
	if len(waits) != 2 || waits[0] != 45*time.Second || waits[1] != testPoll {
		t.Fatalf("expected persisted cooldown before first cycle, got %v", waits)
	}
}

func TestNewObserverRejectsShortCooldown(t *testing.T) {
	_, err := NewObserver(Options{PollInterval: time.Minute, Cooldown: time.Minute}, Dependencies{
		Sampler:    &scriptedSampler{},
		Detector:   extractors.NewThresholdDetector(testThresholds),
		Diagnoser:  &fakeDiagnoser{},
		Remediator: &remediation.Executor{},
		Verifier:   &Verifier{},
	}, slog.Default())
	if err == nil {
		t.Fatalf("expected error when cooldown does not exceed poll interval")
	}
}
