package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-sentinel/internal/config"
	"github.com/miradorstack/mirador-sentinel/internal/diagnosis"
	"github.com/miradorstack/mirador-sentinel/internal/remediation"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration without contacting any backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)

			catalog, err := remediation.NewCatalog(cfg.Remediation.Allowlist)
			if err != nil {
				return fmt.Errorf("allowlist: %w", err)
			}
			client, err := diagnosis.FromConfig(cfg.Diagnosis, logger)
			if err != nil {
				return fmt.Errorf("diagnosis: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "target:    %s (%s)\n", cfg.Target.Container, cfg.Target.HealthURL)
			fmt.Fprintf(out, "loop:      poll %s, cooldown %s, grace %s\n", cfg.Observer.PollInterval, cfg.Observer.Cooldown, cfg.Observer.GracePeriod)
			for _, s := range cfg.Prometheus.Signals {
				fmt.Fprintf(out, "signal:    %s >= %g\n", s.Name, s.Threshold)
			}
			fmt.Fprintf(out, "backends:  %s\n", strings.Join(client.Backends(), ", "))
			for _, c := range catalog.Commands() {
				fmt.Fprintf(out, "allowed:   %s\n", c)
			}
			fmt.Fprintln(out, "configuration ok")
			return nil
		},
	}
}
