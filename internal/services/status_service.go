package services

import (
	"context"
	"log/slog"
	"sync"

	"google.golang.org/grpc/health"

	"github.com/miradorstack/mirador-sentinel/internal/api"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

const latencyLogEvery = 20

// StatusService folds finished cycles into the health status of the monitored target.
type StatusService struct {
	logger    *slog.Logger
	health    *health.Server
	latencies *utils.LatencyTracker

	mu     sync.RWMutex
	last   models.CycleReport
	seen   bool
	cycles int
}

// NewStatusService constructs the status facade with a fresh health server.
func NewStatusService(logger *slog.Logger) *StatusService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusService{
		logger:    logger,
		health:    health.NewServer(),
		latencies: utils.NewLatencyTracker(1024),
	}
}

// HealthServer exposes the health server for registration on the gRPC server.
func (s *StatusService) HealthServer() *health.Server {
	return s.health
}

// Report records a finished cycle. Skipped cycles carry no information and are ignored.
func (s *StatusService) Report(_ context.Context, report models.CycleReport) {
	if report.Outcome == models.OutcomeSkipped {
		return
	}

	if status, ok := api.ServingStatusFor(report.Outcome); ok {
		s.health.SetServingStatus(api.TargetServiceName, status)
	}

	s.latencies.Observe(report.Duration())

	s.mu.Lock()
	s.last = report
	s.seen = true
	s.cycles++
	cycles := s.cycles
	s.mu.Unlock()

	if cycles%latencyLogEvery == 0 {
		s.logger.Info("cycle latency",
			slog.Duration("p95", s.latencies.Percentile(95)),
			slog.Duration("mean", s.latencies.Mean()),
			slog.Int("samples", s.latencies.Count()),
		)
	}
}

// LastReport returns the most recent non-skipped cycle, if any.
func (s *StatusService) LastReport() (models.CycleReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.seen
}

// Shutdown marks every service as not serving so clients drain before the server stops.
func (s *StatusService) Shutdown() {
	s.health.Shutdown()
}
