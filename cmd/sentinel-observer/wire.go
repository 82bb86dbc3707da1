package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/miradorstack/mirador-sentinel/internal/cache"
	"github.com/miradorstack/mirador-sentinel/internal/command"
	"github.com/miradorstack/mirador-sentinel/internal/config"
	"github.com/miradorstack/mirador-sentinel/internal/diagnosis"
	"github.com/miradorstack/mirador-sentinel/internal/engine"
	"github.com/miradorstack/mirador-sentinel/internal/extractors"
	"github.com/miradorstack/mirador-sentinel/internal/journal"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/remediation"
	"github.com/miradorstack/mirador-sentinel/internal/repo"
	"github.com/miradorstack/mirador-sentinel/internal/services"
)

// app holds the assembled observer and everything that must be closed with it.
type app struct {
	observer *engine.Observer
	status   *services.StatusService
	cache    cache.Provider
	journal  *journal.Journal
}

func (a *app) Close(logger *slog.Logger) {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			logger.Warn("journal close", slog.Any("error", err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			logger.Warn("cache close", slog.Any("error", err))
		}
	}
}

func thresholds(cfg *config.Config) []models.Threshold {
	out := make([]models.Threshold, 0, len(cfg.Prometheus.Signals))
	for _, s := range cfg.Prometheus.Signals {
		out = append(out, models.Threshold{Signal: s.Name, Limit: s.Threshold})
	}
	return out
}

func newSampler(cfg *config.Config, logger *slog.Logger) (*repo.PrometheusClient, error) {
	queries := make([]repo.SignalQuery, 0, len(cfg.Prometheus.Signals))
	for _, s := range cfg.Prometheus.Signals {
		queries = append(queries, repo.SignalQuery{Signal: s.Name, Query: s.Query})
	}
	return repo.NewPrometheusClient(cfg.Prometheus.URL, cfg.Prometheus.Timeout, queries, nil, logger)
}

const inProcessCacheWarning = "using in-process cache: cooldown is not kept across restarts and the cycle lease does not span replicas; set cache.enabled for both"

// newCache returns the configured Redis provider, falling back to the in-process store so
// leases and cooldowns keep working when Redis is unreachable.
func newCache(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) cache.Provider {
	if !cfg.Enabled || cfg.Addr == "" {
		logger.Warn(inProcessCacheWarning)
		return cache.NewMemoryProvider()
	}
	provider, err := cache.NewRedisProvider(ctx, cache.RedisConfig{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
		TLS:          cfg.TLS,
	})
	if err != nil {
		logger.Warn("redis cache unavailable", slog.String("addr", cfg.Addr), slog.Any("error", err))
		logger.Warn(inProcessCacheWarning)
		return cache.NewMemoryProvider()
	}
	return provider
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	sampler, err := newSampler(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("metrics backend: %w", err)
	}
	detector := extractors.NewThresholdDetector(thresholds(cfg))

	diagnoser, err := diagnosis.FromConfig(cfg.Diagnosis, logger)
	if err != nil {
		return nil, fmt.Errorf("diagnosis: %w", err)
	}

	catalog, err := remediation.NewCatalog(cfg.Remediation.Allowlist)
	if err != nil {
		return nil, fmt.Errorf("allowlist: %w", err)
	}
	runner := command.NewExecRunner(cfg.Remediation.WorkDir)
	executor := remediation.NewExecutor(catalog, runner, remediation.Options{
		CommandTimeout: cfg.Remediation.CommandTimeout,
		MaxPerHour:     cfg.Remediation.MaxPerHour,
		Burst:          cfg.Remediation.Burst,
	}, logger)

	probe := repo.NewHTTPHealthProbe(cfg.Target.HealthURL, cfg.Target.HealthTimeout)
	verifier := engine.NewVerifier(sampler, detector, probe, engine.Sleep, logger)
	logs := repo.NewDockerLogSource(runner, cfg.Target.Container, cfg.Target.LogLines, cfg.Target.LogTimeout)

	a := &app{
		status: services.NewStatusService(logger),
		cache:  newCache(ctx, cfg.Cache, logger),
	}
	reporters := []engine.Reporter{a.status}
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path, logger)
		if err != nil {
			a.Close(logger)
			return nil, err
		}
		a.journal = j
		reporters = append(reporters, j)
	}

	minSeverity, err := models.ParseSeverity(cfg.Remediation.MinSeverity)
	if err != nil {
		a.Close(logger)
		return nil, err
	}

	observer, err := engine.NewObserver(engine.Options{
		Target:             cfg.Target.Container,
		PollInterval:       cfg.Observer.PollInterval,
		Cooldown:           cfg.Observer.Cooldown,
		GracePeriod:        cfg.Observer.GracePeriod,
		LeaseTTL:           cfg.Observer.LeaseTTL,
		MinSeverity:        minSeverity,
		RemediationEnabled: cfg.Remediation.Enabled,
		DryRun:             cfg.Remediation.DryRun,
		Thresholds:         thresholds(cfg),
		MaxLogBytes:        cfg.Diagnosis.MaxLogBytes,
		CacheKeyPrefix:     cfg.Cache.KeyPrefix,
	}, engine.Dependencies{
		Sampler:    sampler,
		Detector:   detector,
		Diagnoser:  diagnoser,
		Remediator: executor,
		Verifier:   verifier,
		Logs:       logs,
		Cache:      a.cache,
		Reporters:  reporters,
	}, logger)
	if err != nil {
		a.Close(logger)
		return nil, err
	}
	a.observer = observer

	logger.Info("observer assembled",
		slog.String("target", cfg.Target.Container),
		slog.Any("signals", detectorSignals(detector)),
		slog.Any("backends", diagnoser.Backends()),
		slog.Any("allowlist", catalog.Commands()),
		slog.Bool("remediation_enabled", cfg.Remediation.Enabled),
		slog.Bool("dry_run", cfg.Remediation.DryRun),
	)
	return a, nil
}

func detectorSignals(d *extractors.ThresholdDetector) []string {
	ts := d.Thresholds()
	names := make([]string, 0, len(ts))
	for _, t := range ts {
		names = append(names, t.Signal)
	}
	return names
}
