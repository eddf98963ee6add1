package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/valetsync/internal/store"
)

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database schema",
		Long: `Create the SQLite database and apply the schema. Safe to run on an
existing database.

Example:
  valetsync init --db ./valet.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, cfg, err := openStore(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer st.Close()
			return formatter(cmd, rootOpts).Success(map[string]string{"database": cfg.Database})
		},
	}
}

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	At string // RFC3339 instant the demo stays are relative to
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the demo rooms, stays and staff",
		Long: `Load the demo fixture: four active stays in different phases, two
valets and one receptionist.

Example:
  valetsync seed --db ./valet.db
  valetsync seed --db ./valet.db --at 2026-03-14T22:00:00Z`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.At, "at", "", "reference time (RFC3339, default now)")
	return cmd
}

func runSeed(opts *SeedOptions, cmd *cobra.Command) error {
	at := time.Now().UTC()
	if opts.At != "" {
		t, err := time.Parse(time.RFC3339, opts.At)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --at", err)
		}
		at = t
	}

	st, cfg, err := openStore(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	fixture := store.DemoFixture(at)
	if err := st.Seed(commandContext(cmd), fixture); err != nil {
		return WrapExitError(ExitFailure, "failed to seed database", err)
	}

	f := formatter(cmd, opts.RootOptions)
	if opts.Format == "json" {
		return f.Success(map[string]any{"database": cfg.Database, "at": at})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %s with the demo fixture at %s\n", cfg.Database, at.Format(time.RFC3339))
	return nil
}
