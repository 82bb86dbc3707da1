package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures every setting of the observer. It is loaded once and never mutated afterwards.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Observer    ObserverConfig    `yaml:"observer"`
	Prometheus  PrometheusConfig  `yaml:"prometheus"`
	Target      TargetConfig      `yaml:"target"`
	Diagnosis   DiagnosisConfig   `yaml:"diagnosis"`
	Remediation RemediationConfig `yaml:"remediation"`
	Cache       CacheConfig       `yaml:"cache"`
	Journal     JournalConfig     `yaml:"journal"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// ServerConfig controls the gRPC health listener and the Prometheus scrape endpoint.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout" validate:"gt=0"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
}

// ObserverConfig drives the control loop timing.
type ObserverConfig struct {
	PollInterval time.Duration `yaml:"pollInterval" validate:"gt=0"`
	Cooldown     time.Duration `yaml:"cooldown" validate:"gt=0"`
	GracePeriod  time.Duration `yaml:"gracePeriod" validate:"gte=0"`
	LeaseTTL     time.Duration `yaml:"leaseTTL" validate:"gt=0"`
}

// PrometheusConfig configures the metrics backend and the monitored signals.
type PrometheusConfig struct {
	URL     string         `yaml:"url" validate:"required,url"`
	Timeout time.Duration  `yaml:"timeout" validate:"gt=0"`
	Signals []SignalConfig `yaml:"signals" validate:"required,min=1,dive"`
}

// SignalConfig binds a signal name to its query and threshold. Order is significant.
type SignalConfig struct {
	Name      string  `yaml:"name" validate:"required"`
	Query     string  `yaml:"query" validate:"required"`
	Threshold float64 `yaml:"threshold"`
}

// TargetConfig identifies the monitored process or container.
type TargetConfig struct {
	Container     string        `yaml:"container" validate:"required"`
	HealthURL     string        `yaml:"healthURL" validate:"required,url"`
	HealthTimeout time.Duration `yaml:"healthTimeout" validate:"gt=0"`
	LogLines      int           `yaml:"logLines" validate:"gte=0"`
	LogTimeout    time.Duration `yaml:"logTimeout" validate:"gt=0"`
}

// DiagnosisConfig lists reasoning backends in priority order.
type DiagnosisConfig struct {
	Backends    []BackendConfig `yaml:"backends" validate:"required,min=1,dive"`
	MaxLogBytes int             `yaml:"maxLogBytes" validate:"gte=0"`
}

// BackendConfig configures one reasoning backend.
type BackendConfig struct {
	Name    string        `yaml:"name" validate:"required"`
	Kind    string        `yaml:"kind" validate:"required,oneof=openai lmstudio"`
	BaseURL string        `yaml:"baseURL" validate:"required,url"`
	Model   string        `yaml:"model" validate:"required"`
	APIKey  string        `yaml:"apiKey"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// RemediationConfig controls the allowlisted executor.
type RemediationConfig struct {
	Enabled        bool             `yaml:"enabled"`
	DryRun         bool             `yaml:"dryRun"`
	MinSeverity    string           `yaml:"minSeverity" validate:"oneof=low medium high critical"`
	CommandTimeout time.Duration    `yaml:"commandTimeout" validate:"gt=0"`
	WorkDir        string           `yaml:"workDir"`
	MaxPerHour     int              `yaml:"maxPerHour" validate:"gt=0"`
	Burst          int              `yaml:"burst" validate:"gt=0"`
	Allowlist      []AllowlistEntry `yaml:"allowlist" validate:"required,min=1,dive"`
}

// AllowlistEntry is one exact-match command. Argv defaults to the whitespace split of Command.
type AllowlistEntry struct {
	Command string   `yaml:"command" validate:"required"`
	Argv    []string `yaml:"argv"`
}

// CacheConfig controls the Redis/Valkey provider used for leases and cooldown persistence.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr" validate:"required_if=Enabled true"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db" validate:"gte=0"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	KeyPrefix    string        `yaml:"keyPrefix"`
}

// JournalConfig enables the append-only cycle journal when Path is set.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// TelemetryConfig selects the trace exporter.
type TelemetryConfig struct {
	ServiceName   string `yaml:"serviceName"`
	TraceExporter string `yaml:"traceExporter" validate:"oneof=none stdout otlp"`
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
}

// Load initialises Config from a YAML file and optional environment overrides, then validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_SENTINEL_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if len(cfg.Remediation.Allowlist) == 0 {
		cfg.Remediation.Allowlist = DefaultAllowlist(cfg.Target.Container)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultAllowlist returns the stock docker operations for the given container.
func DefaultAllowlist(container string) []AllowlistEntry {
	return []AllowlistEntry{
		{Command: "docker-compose restart"},
		{Command: "docker-compose stop"},
		{Command: "docker-compose up -d"},
		{Command: "docker restart " + container},
		{Command: "docker stop " + container},
	}
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50052",
			MetricsAddress:  ":2113",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Observer: ObserverConfig{
			PollInterval: 30 * time.Second,
			Cooldown:     60 * time.Second,
			GracePeriod:  30 * time.Second,
			LeaseTTL:     5 * time.Minute,
		},
		Prometheus: PrometheusConfig{
			URL:     "http://localhost:9090",
			Timeout: 10 * time.Second,
			Signals: []SignalConfig{
				{
					Name:      "cpu",
					Query:     "rate(process_cpu_seconds_total[1m])",
					Threshold: 0.5,
				},
				{
					Name:      "p90_latency",
					Query:     "histogram_quantile(0.90, sum(rate(http_request_duration_seconds_bucket[1m])) by (le))",
					Threshold: 2.0,
				},
			},
		},
		Target: TargetConfig{
			Container:     "sentinel-target-api",
			HealthURL:     "http://localhost:8000/health",
			HealthTimeout: 5 * time.Second,
			LogLines:      20,
			LogTimeout:    10 * time.Second,
		},
		Diagnosis: DiagnosisConfig{
			Backends: []BackendConfig{
				{
					Name:    "gemini",
					Kind:    "openai",
					BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai/",
					Model:   "gemini-2.5-flash",
					Timeout: 30 * time.Second,
				},
				{
					Name:    "lmstudio",
					Kind:    "lmstudio",
					BaseURL: "http://localhost:1234/api/v1/chat",
					Model:   "mistralai/ministral-3-3b",
					Timeout: 30 * time.Second,
				},
			},
			MaxLogBytes: 4000,
		},
		Remediation: RemediationConfig{
			Enabled:        true,
			MinSeverity:    "high",
			CommandTimeout: 60 * time.Second,
			MaxPerHour:     6,
			Burst:          1,
		},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			KeyPrefix:    "sentinel",
		},
		Telemetry: TelemetryConfig{
			ServiceName:   "mirador-sentinel",
			TraceExporter: "none",
			OTLPEndpoint:  "localhost:4317",
			OTLPInsecure:  true,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_SENTINEL_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_SENTINEL_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Observer.PollInterval = d
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Observer.Cooldown = d
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_GRACE_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Observer.GracePeriod = d
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_PROMETHEUS_URL"); v != "" {
		cfg.Prometheus.URL = v
	}
	for i := range cfg.Prometheus.Signals {
		key := "MIRADOR_SENTINEL_THRESHOLD_" + envKey(cfg.Prometheus.Signals[i].Name)
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				cfg.Prometheus.Signals[i].Threshold = f
			}
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_TARGET_CONTAINER"); v != "" {
		cfg.Target.Container = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_TARGET_HEALTH_URL"); v != "" {
		cfg.Target.HealthURL = v
	}
	for i := range cfg.Diagnosis.Backends {
		prefix := "MIRADOR_SENTINEL_BACKEND_" + envKey(cfg.Diagnosis.Backends[i].Name)
		if v := os.Getenv(prefix + "_API_KEY"); v != "" {
			cfg.Diagnosis.Backends[i].APIKey = v
		}
		if v := os.Getenv(prefix + "_URL"); v != "" {
			cfg.Diagnosis.Backends[i].BaseURL = v
		}
		if v := os.Getenv(prefix + "_MODEL"); v != "" {
			cfg.Diagnosis.Backends[i].Model = v
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_REMEDIATION_ENABLED"); v != "" {
		cfg.Remediation.Enabled = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_SENTINEL_REMEDIATION_DRY_RUN"); v != "" {
		cfg.Remediation.DryRun = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_SENTINEL_REMEDIATION_WORKDIR"); v != "" {
		cfg.Remediation.WorkDir = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_SENTINEL_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_CACHE_TLS"); parseBool(v) {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("MIRADOR_SENTINEL_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_TRACE_EXPORTER"); v != "" {
		cfg.Telemetry.TraceExporter = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
}

func envKey(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(name))
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
