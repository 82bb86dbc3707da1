package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sentinel-observer",
		Short: "Closed-loop observer that detects, diagnoses and heals a monitored service",
		Long: `sentinel-observer samples Prometheus signals for one target, asks a reasoning backend
for a diagnosis when a threshold is breached, runs the suggested allowlisted command and
verifies that the target recovered.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (defaults to $MIRADOR_SENTINEL_CONFIG)")

	run := newRunCmd()
	root.AddCommand(run, newValidateCmd(), newProbeCmd(), newHistoryCmd())
	root.RunE = run.RunE
	root.Flags().AddFlagSet(run.Flags())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
