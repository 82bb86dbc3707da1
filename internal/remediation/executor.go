package remediation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/miradorstack/mirador-sentinel/internal/command"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

const maxOutputBytes = 4096

// Executor runs catalog actions chosen by a diagnosis.
type Executor struct {
	catalog *Catalog
	runner  command.Runner
	limiter *rate.Limiter
	timeout time.Duration
	logger  *slog.Logger
}

// Options tune the executor.
type Options struct {
	// CommandTimeout bounds one dispatched command.
	CommandTimeout time.Duration
	// MaxPerHour and Burst bound how often commands run. Zero MaxPerHour disables the guard.
	MaxPerHour int
	Burst      int
}

// NewExecutor constructs an executor over a closed catalog.
func NewExecutor(catalog *Catalog, runner command.Runner, opts Options, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if opts.MaxPerHour > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Every(time.Hour/time.Duration(opts.MaxPerHour)), burst)
	}
	return &Executor{
		catalog: catalog,
		runner:  runner,
		limiter: limiter,
		timeout: opts.CommandTimeout,
		logger:  logger,
	}
}

// Resolve normalizes step and returns the matching catalog action, or ErrCommandNotAllowed.
func (e *Executor) Resolve(step string) (Action, error) {
	normalized := Normalize(step)
	action, ok := e.catalog.Lookup(normalized)
	if !ok {
		return Action{}, utils.NewAppError("remediation.Resolve", fmt.Sprintf("%q is not in the allowlist", normalized), utils.ErrCommandNotAllowed)
	}
	return action, nil
}

// Execute runs the action matching step. Rejected, throttled, or cancelled requests never reach
// the runner. Once dispatched the command is detached from ctx cancellation and bounded by the
// command timeout, so shutdown cannot interrupt a half-applied remediation.
func (e *Executor) Execute(ctx context.Context, step string) (models.RemediationOutcome, error) {
	action, err := e.Resolve(step)
	if err != nil {
		return models.RemediationOutcome{Command: Normalize(step), ExitStatus: -1}, err
	}
	outcome := models.RemediationOutcome{Command: action.Command, ExitStatus: -1}

	if err := ctx.Err(); err != nil {
		return outcome, err
	}
	if e.limiter != nil && !e.limiter.Allow() {
		return outcome, utils.NewAppError("remediation.Execute", fmt.Sprintf("rate budget exhausted for %q", action.Command), utils.ErrRemediationThrottled)
	}

	runCtx := context.WithoutCancel(ctx)
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, e.timeout)
		defer cancel()
	}

	e.logger.Info("executing remediation", slog.String("command", action.Command), slog.Any("argv", action.Argv))
	start := time.Now()
	res, runErr := e.runner.Run(runCtx, action.Argv)
	outcome.Executed = true
	outcome.ExitStatus = res.ExitCode
	outcome.Output = truncate(res.Combined(), maxOutputBytes)

	if runErr != nil || res.ExitCode != 0 {
		cause := runErr
		if cause == nil {
			cause = fmt.Errorf("exit status %d", res.ExitCode)
		}
		return outcome, utils.NewAppError("remediation.Execute", fmt.Sprintf("%q failed", action.Command), fmt.Errorf("%w: %v", utils.ErrExecutionFailure, cause))
	}

	e.logger.Info("remediation completed", slog.String("command", action.Command), slog.Duration("elapsed", time.Since(start)))
	return outcome, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
