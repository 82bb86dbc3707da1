package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks configuration correctness. It does not mutate cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if cfg.Observer.Cooldown <= cfg.Observer.PollInterval {
		return fmt.Errorf("invalid config: observer.cooldown (%s) must be longer than observer.pollInterval (%s)",
			cfg.Observer.Cooldown, cfg.Observer.PollInterval)
	}

	if worst := cfg.WorstCaseCycle(); cfg.Observer.LeaseTTL < worst {
		return fmt.Errorf("invalid config: observer.leaseTTL (%s) is shorter than the worst-case cycle (%s)",
			cfg.Observer.LeaseTTL, worst)
	}

	seenSignals := make(map[string]struct{}, len(cfg.Prometheus.Signals))
	for _, s := range cfg.Prometheus.Signals {
		if _, dup := seenSignals[s.Name]; dup {
			return fmt.Errorf("invalid config: duplicate signal %q", s.Name)
		}
		seenSignals[s.Name] = struct{}{}
	}

	seenBackends := make(map[string]struct{}, len(cfg.Diagnosis.Backends))
	for _, b := range cfg.Diagnosis.Backends {
		if _, dup := seenBackends[b.Name]; dup {
			return fmt.Errorf("invalid config: duplicate backend %q", b.Name)
		}
		seenBackends[b.Name] = struct{}{}
	}

	for _, entry := range cfg.Remediation.Allowlist {
		if strings.TrimSpace(entry.Command) != entry.Command {
			return fmt.Errorf("invalid config: allowlist command %q has surrounding whitespace", entry.Command)
		}
		if len(entry.Argv) > 0 && strings.TrimSpace(entry.Argv[0]) == "" {
			return fmt.Errorf("invalid config: allowlist command %q has an empty program", entry.Command)
		}
	}
	return nil
}

// WorstCaseCycle bounds one cycle that runs every phase to its timeout: sampling and the
// verification re-sample, the log excerpt, every diagnosis backend, the command, the grace
// period and the health probe.
func (cfg *Config) WorstCaseCycle() time.Duration {
	total := 2 * time.Duration(len(cfg.Prometheus.Signals)) * cfg.Prometheus.Timeout
	total += cfg.Target.LogTimeout
	for _, b := range cfg.Diagnosis.Backends {
		total += b.Timeout
	}
	total += cfg.Remediation.CommandTimeout
	total += cfg.Observer.GracePeriod
	total += cfg.Target.HealthTimeout
	return total
}
