package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/deauth.watch/internal/api"
	"github.com/banshee-data/deauth.watch/internal/event"
	"github.com/banshee-data/deauth.watch/internal/security"
	"github.com/banshee-data/deauth.watch/internal/timeutil"
)

func newQueryCommand(g *globalFlags) *cobra.Command {
	var (
		center uint64
		window uint64
		html   string
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "List alerts within a window around a timestamp",
		Long: `Lists every stored alert whose timestamp lies within --window microseconds
of --center, grouped by attacker MAC and ordered by timestamp.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("center") {
				center = timeutil.Micros(time.Now())
			}
			store, _, err := g.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			recs, err := store.EventsInWindow(cmd.Context(), center, window)
			if err != nil {
				return fmt.Errorf("query failed: %w", err)
			}
			if err := printGroups(cmd.OutOrStdout(), api.GroupByAttacker(recs)); err != nil {
				return err
			}
			if html == "" {
				return nil
			}
			return writeTimeline(html, recs, fmt.Sprintf("%s ± %s",
				timeutil.FromMicros(center).UTC().Format(time.RFC3339), time.Duration(window)*time.Microsecond))
		},
	}
	cmd.Flags().Uint64Var(&center, "center", 0, "center timestamp in µs since the epoch (default now)")
	cmd.Flags().Uint64Var(&window, "window", uint64(api.DefaultWindow/time.Microsecond), "half-width of the window in µs")
	cmd.Flags().StringVar(&html, "html", "", "also write an HTML timeline chart to this file")
	return cmd
}

func printGroups(out io.Writer, groups []api.AttackerEvents) error {
	if len(groups) == 0 {
		_, err := fmt.Fprintln(out, "no events")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, g := range groups {
		fmt.Fprintf(tw, "attacker %s (%d events)\n", g.Attacker, len(g.Events))
		fmt.Fprintln(tw, "  time\tsensor\trssi\tvariance\tframes")
		for _, r := range g.Events {
			fmt.Fprintf(tw, "  %s\t%s\t%d\t%.2f\t%d\n",
				r.Time().UTC().Format("15:04:05.000000"), r.Sensor, r.RSSIMean, r.RSSIVariance, r.FrameCount)
		}
	}
	return tw.Flush()
}

func writeTimeline(path string, recs []event.Record, subtitle string) error {
	if err := security.ValidateOutputPath(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := api.RenderTimeline(f, recs, subtitle); err != nil {
		f.Close()
		return fmt.Errorf("failed to render timeline: %w", err)
	}
	return f.Close()
}
