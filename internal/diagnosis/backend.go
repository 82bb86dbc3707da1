package diagnosis

import (
	"context"
	"errors"

	"github.com/miradorstack/mirador-sentinel/internal/extractors"
	"github.com/miradorstack/mirador-sentinel/internal/models"
)

var (
	// ErrMalformedResponse signals a backend answered but the answer did not parse.
	ErrMalformedResponse = errors.New("malformed diagnosis response")
	// ErrBackendUnreachable signals a transport failure, timeout, or non-success status.
	ErrBackendUnreachable = errors.New("diagnosis backend unreachable")
	// ErrMissingCredentials signals a backend that cannot be used without an API key.
	ErrMissingCredentials = errors.New("diagnosis backend credentials missing")
)

// Request is everything a backend sees about one anomaly.
type Request struct {
	Event      models.AnomalyEvent
	Samples    []models.MetricSample
	Thresholds []models.Threshold
	Logs       string
	LogSummary extractors.LogSummary
}

// Backend is one reasoning service able to turn an anomaly into a diagnosis.
type Backend interface {
	Name() string
	Attempt(ctx context.Context, req Request) (models.Diagnosis, error)
}
