package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newServeMetricsCommand() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve Prometheus metrics and refresh resource gauges",
		Long: `Run the Prometheus metrics endpoint until interrupted.

Every --interval the expired leases are swept and the resource state and
application readiness are refreshed, so the gauges stay current between
start and stop requests.`,
		Example: `  hostgate serve-metrics --interval 30s`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}
			ctx := cmd.Context()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.close() }()

			server := a.tel.Metrics.StartMetricsServer()
			if server == nil {
				return fmt.Errorf("metrics are disabled in the configuration")
			}
			a.logger.Info().
				Str("address", a.cfg.Telemetry.Metrics.ListenAddress).
				Str("path", a.cfg.Telemetry.Metrics.Path).
				Dur("interval", interval).
				Msg("Serving metrics")

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				a.refresh(ctx)

				select {
				case <-ctx.Done():
					shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
					defer cancel()
					return server.Shutdown(shutdownCtx)
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "refresh interval for resource gauges")

	return cmd
}

// refresh updates the state and readiness gauges. Failures are logged and
// retried on the next tick.
func (a *app) refresh(ctx context.Context) {
	if _, err := a.coord.Sweep(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to sweep expired leases")
	}
	if _, err := a.coord.Status(ctx, a.cfg.Resource.ID); err != nil && ctx.Err() == nil {
		a.logger.Warn().Err(err).Msg("Failed to refresh resource status")
	}
}
