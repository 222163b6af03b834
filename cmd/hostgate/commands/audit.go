package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/hostgate/pkg/engine"
)

func newAuditCommand() *cobra.Command {
	var (
		operation string
		limit     int
		offset    int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the operation audit log",
		Long: `Show recorded start and stop requests, newest first.

Every request is recorded, including rejected and failed ones, with the actor,
the observed state and the error code.`,
		Example: `  hostgate audit
  hostgate audit --operation stop --limit 5
  hostgate audit --json --limit 100 --offset 100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var kind *engine.OperationKind
			if operation != "" {
				k, err := engine.ParseOperationKind(operation)
				if err != nil {
					return err
				}
				kind = &k
			}

			a, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.close() }()

			records, err := a.store.ListOperations(ctx, kind, limit, offset)
			if err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), records)
			}
			return renderAudit(cmd.OutOrStdout(), records)
		},
	}

	cmd.Flags().StringVar(&operation, "operation", "", "filter by operation (start or stop)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of records")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of records to skip")

	return cmd
}
