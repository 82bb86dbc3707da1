package repo

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// SignalQuery names a PromQL instant query.
type SignalQuery struct {
	Signal string
	Query  string
}

// PrometheusClient samples the configured signals through the Prometheus HTTP API.
type PrometheusClient struct {
	api     v1.API
	signals []SignalQuery
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewPrometheusClient constructs a sampler against the Prometheus server at address. A nil
// httpClient uses the library's default transport.
func NewPrometheusClient(address string, timeout time.Duration, signals []SignalQuery, httpClient *http.Client, logger *slog.Logger) (*PrometheusClient, error) {
	if address == "" {
		return nil, fmt.Errorf("prometheus address not configured")
	}
	if len(signals) == 0 {
		return nil, fmt.Errorf("no signals configured")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := api.Config{Address: address}
	if httpClient != nil {
		cfg.Client = httpClient
	}
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("prometheus client: %w", err)
	}

	return &PrometheusClient{
		api:     v1.NewAPI(client),
		signals: append([]SignalQuery(nil), signals...),
		timeout: timeout,
		now:     time.Now,
		logger:  logger,
	}, nil
}

// Sample queries every signal once. The tick is all-or-nothing: the first failing signal aborts
// it with ErrBackendUnavailable.
func (c *PrometheusClient) Sample(ctx context.Context) ([]models.MetricSample, error) {
	samples := make([]models.MetricSample, 0, len(c.signals))
	for _, sig := range c.signals {
		sample, err := c.query(ctx, sig)
		if err != nil {
			return nil, utils.NewAppError("repo.Sample", fmt.Sprintf("query signal %s", sig.Signal), fmt.Errorf("%w: %v", utils.ErrBackendUnavailable, err))
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func (c *PrometheusClient) query(ctx context.Context, sig SignalQuery) (models.MetricSample, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	now := c.now()
	value, warnings, err := c.api.Query(ctx, sig.Query, now)
	if err != nil {
		return models.MetricSample{}, err
	}
	for _, w := range warnings {
		c.logger.Warn("prometheus query warning", slog.String("signal", sig.Signal), slog.String("warning", w))
	}

	v, ts, err := decodeInstant(value)
	if err != nil {
		return models.MetricSample{}, err
	}
	if ts.IsZero() {
		ts = now
	}
	return models.MetricSample{Signal: sig.Signal, Value: v, Timestamp: ts}, nil
}

// decodeInstant extracts a single value from an instant query result. An empty vector means the
// series has no data yet and yields 0, as does NaN from a quantile over zero traffic.
func decodeInstant(value model.Value) (float64, time.Time, error) {
	var (
		v  float64
		ts time.Time
	)
	switch result := value.(type) {
	case model.Vector:
		if len(result) == 0 {
			return 0, time.Time{}, nil
		}
		v = float64(result[0].Value)
		ts = result[0].Timestamp.Time()
	case *model.Scalar:
		if result == nil {
			return 0, time.Time{}, fmt.Errorf("empty scalar result")
		}
		v = float64(result.Value)
		ts = result.Timestamp.Time()
	default:
		return 0, time.Time{}, fmt.Errorf("unexpected result type %T", value)
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	return v, ts, nil
}
