package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/hostgate/pkg/engine"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show resource state, operations in progress and application readiness",
		Long: `Show a fresh view of the managed resource.

The remote state is described on every call and never cached. Operations in
progress are the unexpired leases in the lease store. When health.url is set
the application readiness endpoint is probed as well; an unreachable endpoint
is reported but does not fail the command.`,
		Example: `  hostgate status
  hostgate status --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.close() }()

			status, err := a.coord.Status(ctx, a.cfg.Resource.ID)
			if err != nil {
				return fmt.Errorf("status failed: %s (%s)", engine.SanitizedMessage(err), engine.CodeOf(err))
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), status)
			}
			return renderStatus(cmd.OutOrStdout(), status)
		},
	}

	return cmd
}
