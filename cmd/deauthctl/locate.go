package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/deauth.watch/internal/locate"
	"github.com/banshee-data/deauth.watch/internal/timeutil"
)

func newLocateCommand(g *globalFlags) *cobra.Command {
	var (
		at       uint64
		lookback time.Duration
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "locate",
		Short: "Estimate attacker positions from stored alerts",
		Long: `Runs one localization pass against the store as of --at, using the
newest reading of each sensor within --lookback. Sensor positions and the
path-loss model come from the config file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, err := g.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			positions, err := cfg.Positions()
			if err != nil {
				return err
			}
			if len(positions) < 3 {
				return fmt.Errorf("need at least 3 sensor positions in the config, have %d", len(positions))
			}

			now := time.Now()
			if cmd.Flags().Changed("at") {
				now = timeutil.FromMicros(at)
			}
			opts := cfg.LocateOptions()
			opts.Clock = timeutil.NewMockClock(now)
			if cmd.Flags().Changed("lookback") {
				opts.Lookback = lookback
			}

			ests, err := locate.NewEngine(store, positions, opts).Cycle(cmd.Context())
			if err != nil {
				return fmt.Errorf("localization query failed: %w", err)
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(ests)
			}
			return printEstimates(cmd.OutOrStdout(), ests)
		},
	}
	cmd.Flags().Uint64Var(&at, "at", 0, "evaluate as of this timestamp in µs (default now)")
	cmd.Flags().DurationVar(&lookback, "lookback", locate.DefaultLookback, "age limit for sensor readings")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print estimates as JSON")
	return cmd
}

func printEstimates(out io.Writer, ests []locate.Estimate) error {
	if len(ests) == 0 {
		_, err := fmt.Fprintln(out, "no active attackers")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "attacker\tstatus\tposition\tsensors")
	for _, e := range ests {
		pos := "-"
		if e.Status == locate.StatusOK {
			pos = e.Position.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", e.Attacker, e.Status, pos, len(e.Sensors))
	}
	return tw.Flush()
}
