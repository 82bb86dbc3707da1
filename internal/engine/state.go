package engine

import (
	"context"
	"time"
)

// State is a phase of the observer control loop.
type State string

const (
	StateIdle        State = "idle"
	StateSampling    State = "sampling"
	StateEvaluating  State = "evaluating"
	StateDiagnosing  State = "diagnosing"
	StateRemediating State = "remediating"
	StateVerifying   State = "verifying"
	StateCooldown    State = "cooldown"
)

// SleepFunc waits for d or until ctx is done, returning ctx.Err() in the latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
