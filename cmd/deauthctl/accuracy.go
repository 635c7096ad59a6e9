package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/deauth.watch/internal/locate"
	"github.com/banshee-data/deauth.watch/internal/security"
)

type trialsFile struct {
	Trials []locate.Trial `yaml:"trials"`
}

func loadTrials(path string) ([]locate.Trial, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read trials: %w", err)
	}
	var f trialsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(f.Trials) == 0 {
		return nil, fmt.Errorf("%s has no trials", path)
	}
	return f.Trials, nil
}

func newAccuracyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "accuracy TRIALS.yaml",
		Short: "Score trilateration against surveyed field trials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			trials, err := loadTrials(args[0])
			if err != nil {
				return err
			}
			return printAccuracy(cmd.OutOrStdout(), locate.Evaluate(trials))
		},
	}
}

func printAccuracy(out io.Writer, results []locate.TrialResult) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "trial\tstatus\texpected\testimate\terror (m)")
	for _, r := range results {
		est, errStr := "-", "-"
		if r.Status == locate.StatusOK {
			est = r.Estimate.String()
			errStr = strconv.FormatFloat(r.Error, 'f', 4, 64)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Trial.Name, r.Status, r.Trial.Expected, est, errStr)
	}

	sections := []struct {
		title string
		key   func(locate.TrialResult) string
	}{
		{"by layout", func(r locate.TrialResult) string { return r.Trial.Layout }},
		{"by path loss exponent", func(r locate.TrialResult) string {
			return "n=" + strconv.FormatFloat(r.Trial.Exponent, 'g', -1, 64)
		}},
	}
	for _, s := range sections {
		fmt.Fprintf(tw, "\n%s\tmean\tmedian\tmin\tmax\n", s.title)
		for _, g := range locate.SummarizeBy(results, s.key) {
			fmt.Fprintf(tw, "  %s\t%.4f\t%.4f\t%.4f\t%.4f\n",
				g.Key, g.Summary.Mean, g.Summary.Median, g.Summary.Min, g.Summary.Max)
		}
	}
	return tw.Flush()
}

func newPlotCommand() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "plot TRIALS.yaml",
		Short: "Render one PNG per field trial",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			trials, err := loadTrials(args[0])
			if err != nil {
				return err
			}
			if err := security.ValidateOutputPath(outDir); err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			for _, r := range locate.Evaluate(trials) {
				path := filepath.Join(outDir, security.SanitizeFilename(r.Trial.Name)+".png")
				if err := locate.Plot(r, path); err != nil {
					return fmt.Errorf("%s: %w", r.Trial.Name, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "plots", "output directory")
	return cmd
}
