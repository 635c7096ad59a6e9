package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/banshee-data/deauth.watch/internal/config"
	"github.com/banshee-data/deauth.watch/internal/db"
)

func newMigrateCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQLite schema",
	}

	open := func() (*db.DB, error) {
		cfg, err := g.load()
		if err != nil {
			return nil, err
		}
		if cfg.GetDriver() != config.DriverSQLite {
			return nil, fmt.Errorf("migrations apply to the sqlite store only, config selects %s", cfg.GetDriver())
		}
		return db.OpenDB(cfg.GetDBPath())
	}

	with := func(fn func(cmd *cobra.Command, d *db.DB, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			d, err := open()
			if err != nil {
				return err
			}
			defer d.Close()
			return fn(cmd, d, args)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: with(func(cmd *cobra.Command, d *db.DB, _ []string) error {
				return d.MigrateUp()
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back one migration",
			RunE: with(func(cmd *cobra.Command, d *db.DB, _ []string) error {
				return d.MigrateDown()
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show current and latest schema versions",
			RunE: with(func(cmd *cobra.Command, d *db.DB, _ []string) error {
				st, err := d.MigrationStatus()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "current %d, latest %d, dirty %t, pending %t\n",
					st.CurrentVersion, st.LatestVersion, st.Dirty, st.Pending)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			RunE: with(func(cmd *cobra.Command, d *db.DB, _ []string) error {
				v, dirty, err := d.MigrateVersion()
				if err != nil {
					return err
				}
				if dirty {
					fmt.Fprintf(cmd.OutOrStdout(), "%d (dirty)\n", v)
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Set the schema version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: with(func(cmd *cobra.Command, d *db.DB, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return d.MigrateForce(v)
			}),
		},
	)
	return cmd
}
