package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newLeasesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leases",
		Short: "Inspect and maintain operation leases",
		Long: `Inspect and maintain the leases that serialize start and stop.

A lease is held for the duration of one operation and expires after
store.lease_ttl so a crashed holder cannot block the resource forever.`,
	}

	cmd.AddCommand(newLeasesListCommand())
	cmd.AddCommand(newLeasesSweepCommand())
	cmd.AddCommand(newLeasesReleaseCommand())

	return cmd
}

func newLeasesListCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List leases",
		Example: `  # Operations currently in progress
  hostgate leases list

  # Include expired leases not swept yet
  hostgate leases list --all`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.close() }()

			leases, err := a.store.ListLeases(ctx, all)
			if err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), leases)
			}
			return renderLeases(cmd.OutOrStdout(), leases, time.Now())
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include expired leases")

	return cmd
}

func newLeasesSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired leases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.close() }()

			n, err := a.store.SweepExpired(ctx)
			if err != nil {
				return err
			}
			a.tel.Metrics.RecordLeasesSwept(n)
			a.logger.Info().Int64("swept", n).Msg("Removed expired leases")

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]int64{"swept": n})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired lease(s)\n", n)
			return err
		},
	}
}

func newLeasesReleaseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "release <lease-id>",
		Short: "Force-release a lease",
		Long: `Force-release a lease by ID.

Use this only when the holder is known to be gone. Releasing a lease that is
still in use lets a second operation of the same kind run concurrently.
Releasing an unknown lease is a no-op.`,
		Example: `  hostgate leases release 3f0c1d9e-8a4b-4c61-9a53-2b7f0e6d1c42`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.close() }()

			if err := a.store.Release(ctx, args[0]); err != nil {
				return err
			}
			a.logger.Warn().Str("lease_id", args[0]).Str("actor", actor).Msg("Lease force-released")

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"released": args[0]})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "released %s\n", args[0])
			return err
		},
	}
}
