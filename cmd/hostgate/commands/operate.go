package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/hostgate/pkg/engine"
)

func newStartCommand() *cobra.Command {
	var (
		resourceID  string
		wait        bool
		waitTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the managed resource",
		Long: `Start the managed resource if it is stopped.

The request is rejected without touching the resource when another start is
already in progress or when the resource is not stopped. With --wait the
command keeps polling the application health endpoint until it reports ready.`,
		Example: `  # Start the configured instance
  hostgate start

  # Start and wait until the application has booted
  hostgate start --wait --wait-timeout 10m

  # Machine-readable result
  hostgate start --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperation(cmd, engine.OperationStart, resourceID, func(ctx context.Context, a *app) error {
				if !wait {
					return nil
				}
				return waitForApp(ctx, cmd, a, waitTimeout)
			})
		},
	}

	cmd.Flags().StringVar(&resourceID, "resource", "", "resource ID (defaults to the configured resource)")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the application to report ready")
	cmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 10*time.Minute, "how long --wait polls before giving up")

	return cmd
}

func newStopCommand() *cobra.Command {
	var resourceID string

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the managed resource",
		Long: `Stop the managed resource if it is running.

A stop requested while the resource is still booting is rejected with
RESOURCE_BOOTING so it can be retried once the start completes.`,
		Example: `  # Stop the configured instance
  hostgate stop

  # Record who asked for it
  hostgate stop --actor ops-bot`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperation(cmd, engine.OperationStop, resourceID, nil)
		},
	}

	cmd.Flags().StringVar(&resourceID, "resource", "", "resource ID (defaults to the configured resource)")

	return cmd
}

// runOperation executes kind and prints the result. Rejections and failures
// return an error so the process exits non-zero. after runs only on success.
func runOperation(cmd *cobra.Command, kind engine.OperationKind, resourceID string, after func(context.Context, *app) error) error {
	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()

	if resourceID == "" {
		resourceID = a.cfg.Resource.ID
	}

	ctx = engine.WithActor(ctx, actor)
	outcome, execErr := a.coord.Execute(ctx, kind, resourceID)
	resp := engine.NewResponse(outcome, execErr)

	if jsonOutput {
		err = writeJSON(cmd.OutOrStdout(), resp)
	} else {
		err = renderResponse(cmd.OutOrStdout(), kind, resp)
	}
	if err != nil {
		return err
	}

	switch {
	case execErr != nil:
		return fmt.Errorf("%s failed: %s (%s)", kind, resp.Error, resp.Code)
	case !resp.Success:
		return fmt.Errorf("%s rejected: %s", kind, resp.Rejected)
	}

	if after != nil {
		return after(ctx, a)
	}
	return nil
}

func waitForApp(ctx context.Context, cmd *cobra.Command, a *app, timeout time.Duration) error {
	if a.health == nil {
		return fmt.Errorf("--wait requires health.url to be configured")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a.logger.Info().Dur("timeout", timeout).Msg("Waiting for application to become ready")

	health, err := a.health.WaitReady(ctx, a.cfg.Health.PollInterval)
	if err != nil {
		return fmt.Errorf("application did not become ready within %s", timeout)
	}
	a.tel.Metrics.SetAppReady(a.cfg.Resource.ID, true)

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), health)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s application ready %s\n",
		successStyle.Render("OK"), mutedStyle.Render(health.Detail))
	return err
}
