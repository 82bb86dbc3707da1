package diagnosis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// Entry binds a backend to its per-attempt timeout.
type Entry struct {
	Backend Backend
	Timeout time.Duration
}

// Client asks backends for a diagnosis strictly in order, each at most once per event.
type Client struct {
	entries []Entry
	logger  *slog.Logger
}

// NewClient constructs a failover client. Order of entries is the priority order.
func NewClient(logger *slog.Logger, entries ...Entry) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{entries: append([]Entry(nil), entries...), logger: logger}
}

// Backends returns the backend names in priority order.
func (c *Client) Backends() []string {
	names := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		names = append(names, e.Backend.Name())
	}
	return names
}

// Diagnose returns the first successful diagnosis. When every backend fails the error wraps
// utils.ErrDiagnosisUnavailable together with each backend's failure. Cancellation of ctx stops
// the failover immediately and returns the context error.
func (c *Client) Diagnose(ctx context.Context, req Request) (models.Diagnosis, error) {
	failures := make([]error, 0, len(c.entries))

	for _, entry := range c.entries {
		if err := ctx.Err(); err != nil {
			return models.Diagnosis{}, err
		}

		name := entry.Backend.Name()
		start := time.Now()
		diag, err := c.attempt(ctx, entry, req)
		if err == nil {
			diag.BackendUsed = name
			metrics.ObserveDiagnosis(name, metrics.DiagnosisSuccess)
			c.logger.Info("diagnosis received",
				slog.String("backend", name),
				slog.String("severity", string(diag.Severity)),
				slog.Duration("elapsed", time.Since(start)),
			)
			return diag, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.Diagnosis{}, ctxErr
		}

		outcome := metrics.DiagnosisUnreachable
		if errors.Is(err, ErrMalformedResponse) {
			outcome = metrics.DiagnosisMalformed
		}
		metrics.ObserveDiagnosis(name, outcome)
		c.logger.Warn("diagnosis backend failed, trying next",
			slog.String("backend", name),
			slog.String("outcome", outcome),
			slog.String("signals", breachSignals(req.Event)),
			slog.Any("error", err),
		)
		failures = append(failures, fmt.Errorf("%s: %w", name, err))
	}

	return models.Diagnosis{}, utils.NewAppError(
		"diagnosis.Diagnose",
		fmt.Sprintf("%d backend(s) failed", len(failures)),
		errors.Join(append([]error{utils.ErrDiagnosisUnavailable}, failures...)...),
	)
}

func (c *Client) attempt(ctx context.Context, entry Entry, req Request) (models.Diagnosis, error) {
	if entry.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, entry.Timeout)
		defer cancel()
	}
	diag, err := entry.Backend.Attempt(ctx, req)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrBackendUnreachable) {
		err = fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}
	return diag, err
}
