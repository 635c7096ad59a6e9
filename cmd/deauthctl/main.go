// Command deauthctl inspects a deauth.watch event store offline: it lists
// and charts alerts, reruns localization, scores field trials and manages
// schema migrations.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/deauth.watch/internal/config"
	"github.com/banshee-data/deauth.watch/internal/db"
	"github.com/banshee-data/deauth.watch/internal/db/clickhouse"
	"github.com/banshee-data/deauth.watch/internal/version"
)

type globalFlags struct {
	ConfigFile string
	DBPath     string
}

func newRootCommand() *cobra.Command {
	var g globalFlags

	cmd := &cobra.Command{
		Use:           "deauthctl",
		Short:         "Query and analyse deauth.watch alerts",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		Example: `  # Alerts within 5s of a timestamp, grouped by attacker
  deauthctl query --center 1700000000000000 --window 5000000

  # Rerun localization as of now against a config with sensor positions
  deauthctl locate -c config/deauthwatch.example.yaml

  # Score the recorded field trials
  deauthctl accuracy config/trials.example.yaml`,
	}

	cmd.PersistentFlags().StringVarP(&g.ConfigFile, "config", "c", "", "configuration file (.json or .yaml)")
	cmd.PersistentFlags().StringVar(&g.DBPath, "db", "", "SQLite database path (overrides config)")

	cmd.AddCommand(
		newQueryCommand(&g),
		newLocateCommand(&g),
		newAccuracyCommand(),
		newPlotCommand(),
		newStatusCommand(),
		newMigrateCommand(&g),
	)
	return cmd
}

func (g *globalFlags) load() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(g.ConfigFile)
	if err != nil {
		return nil, err
	}
	if g.DBPath != "" {
		cfg.Store.Path = &g.DBPath
	}
	return cfg, nil
}

// openStore opens whichever store the config selects. SQLite stores are
// migrated to the latest schema on open.
func (g *globalFlags) openStore(ctx context.Context) (db.EventStore, *config.Config, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.GetDriver() == config.DriverClickHouse {
		s, err := clickhouse.Open(ctx, *cfg.Store.ClickHouse)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open clickhouse: %w", err)
		}
		return s, cfg, nil
	}
	s, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", cfg.GetDBPath(), err)
	}
	return s, cfg, nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "deauthctl:", err)
		os.Exit(1)
	}
}
