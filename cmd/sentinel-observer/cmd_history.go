package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-sentinel/internal/config"
	"github.com/miradorstack/mirador-sentinel/internal/journal"
	"github.com/miradorstack/mirador-sentinel/internal/patterns"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

var (
	historySince  time.Duration
	historyJSON   bool
	historyStore  bool
	historyTarget string
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Mine the cycle journal for recurring incidents and command effectiveness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Journal.Path == "" {
				return errors.New("journal.path is not configured")
			}
			logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			filter := journal.Filter{}
			if historySince > 0 {
				filter.Since = time.Now().Add(-historySince)
			}
			reports, err := journal.Read(cfg.Journal.Path, filter)
			if err != nil {
				return err
			}

			var store patterns.Store
			if historyStore {
				provider := newCache(ctx, cfg.Cache, logger)
				defer provider.Close()
				store = patterns.NewCacheStore(provider, cfg.Cache.KeyPrefix, 0)
			}

			target := historyTarget
			if target == "" {
				target = cfg.Target.Container
			}
			mined, err := patterns.NewMiner(logger, store).Mine(ctx, target, reports)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if historyJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(mined)
			}
			if len(mined) == 0 {
				fmt.Fprintf(out, "no anomalous cycles for %s in %d journal entries\n", target, len(reports))
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SIGNATURE\tCOUNT\tPREVALENCE\tLAST SEEN\tBEST COMMAND")
			for _, p := range mined {
				best := "-"
				if len(p.Commands) > 0 {
					c := p.Commands[0]
					best = fmt.Sprintf("%s (%d/%d healed)", c.Command, c.Healed, c.Attempts)
				}
				fmt.Fprintf(tw, "%s\t%d\t%.0f%%\t%s\t%s\n",
					strings.ReplaceAll(p.Signature, "+", " + "),
					p.Count,
					p.Prevalence*100,
					p.LastSeen.Format(time.RFC3339),
					best,
				)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().DurationVar(&historySince, "since", 0, "Only consider cycles started within this window (0 = all)")
	cmd.Flags().BoolVar(&historyJSON, "json", false, "Print mined patterns as JSON")
	cmd.Flags().BoolVar(&historyStore, "store", false, "Store mined patterns in the configured cache")
	cmd.Flags().StringVar(&historyTarget, "target", "", "Target to mine (defaults to target.container)")
	return cmd
}
