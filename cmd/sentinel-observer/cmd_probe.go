package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-sentinel/internal/config"
	"github.com/miradorstack/mirador-sentinel/internal/extractors"
	"github.com/miradorstack/mirador-sentinel/internal/repo"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Sample every signal once and report breaches and target health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			sampler, err := newSampler(cfg, logger)
			if err != nil {
				return err
			}
			samples, err := sampler.Sample(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, s := range samples {
				fmt.Fprintf(out, "%-16s %.4f\n", s.Signal, s.Value)
			}

			detector := extractors.NewThresholdDetector(thresholds(cfg))
			if event, ok := detector.Detect(samples); ok {
				fmt.Fprintf(out, "breaches: %s\n", event.Summary())
			} else {
				fmt.Fprintln(out, "breaches: none")
			}

			probe := repo.NewHTTPHealthProbe(cfg.Target.HealthURL, cfg.Target.HealthTimeout)
			if err := probe.Check(ctx); err != nil {
				fmt.Fprintf(out, "health:   failing (%v)\n", err)
			} else {
				fmt.Fprintln(out, "health:   ok")
			}
			return nil
		},
	}
}
