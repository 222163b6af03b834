// Package remote gives typed, validated access to the one compute resource this
// service controls. Every command is gated on the configured target identifier.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/openfroyo/hostgate/pkg/engine"
	"github.com/openfroyo/hostgate/pkg/retry"
	"github.com/openfroyo/hostgate/pkg/telemetry"
)

// DefaultSettleDelay gives the remote system time to begin an asynchronous transition.
const DefaultSettleDelay = 3 * time.Second

// Instance is the raw description returned by a ControlAPI.
type Instance struct {
	ID         string
	State      string
	LaunchTime *time.Time
}

// ControlAPI is the remote control plane: describe, start and stop.
// Implementations return *engine.EngineError when they can classify a failure.
type ControlAPI interface {
	Describe(ctx context.Context, id string) (*Instance, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
}

// Config configures a Client.
type Config struct {
	// TargetID is the only identifier commands may be sent to.
	TargetID string

	// SettleDelay is waited after every successful start or stop. Negative disables it.
	SettleDelay time.Duration

	// Clock supplies timestamps and the settle timer.
	Clock clock.Clock

	// Provider labels metrics, e.g. "ec2".
	Provider string
}

// Client implements engine.ResourceClient on top of a ControlAPI.
type Client struct {
	api      ControlAPI
	targetID string
	settle   time.Duration
	clock    clock.Clock
	provider string
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
}

var _ engine.ResourceClient = (*Client)(nil)

// NewClient creates a client bound to cfg.TargetID.
func NewClient(api ControlAPI, cfg Config, logger zerolog.Logger, metrics *telemetry.Metrics) (*Client, error) {
	if api == nil {
		return nil, fmt.Errorf("control API is required")
	}
	if cfg.TargetID == "" {
		return nil, fmt.Errorf("target resource ID is required")
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Provider == "" {
		cfg.Provider = "remote"
	}

	return &Client{
		api:      api,
		targetID: cfg.TargetID,
		settle:   cfg.SettleDelay,
		clock:    cfg.Clock,
		provider: cfg.Provider,
		logger:   logger.With().Str("component", "remote-client").Str("resource_id", cfg.TargetID).Logger(),
		metrics:  metrics,
	}, nil
}

// TargetID returns the configured resource identifier.
func (c *Client) TargetID() string {
	return c.targetID
}

// DescribeState reads the current state of resourceID.
func (c *Client) DescribeState(ctx context.Context, resourceID string) (*engine.ResourceState, error) {
	var inst *Instance
	err := c.call(ctx, "describe", resourceID, func(ctx context.Context) error {
		var err error
		inst, err = c.api.Describe(ctx, resourceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	observedAt := c.clock.Now()

	if inst == nil {
		return nil, notFound(resourceID)
	}

	state, err := engine.ParseState(inst.State)
	if err != nil {
		c.logger.Warn().Str("state", inst.State).Msg("Remote reported an unrecognized state")
		var engErr *engine.EngineError
		if errors.As(err, &engErr) {
			engErr.WithResource(resourceID).WithOperation("describe")
		}
		return nil, err
	}

	c.metrics.SetResourceState(c.targetID, string(state))

	return &engine.ResourceState{
		State:      state,
		ObservedAt: observedAt,
		StartedAt:  inst.LaunchTime,
	}, nil
}

// Start dispatches a start command, then waits the settle delay.
func (c *Client) Start(ctx context.Context, resourceID string) error {
	return c.dispatch(ctx, "start", resourceID, c.api.Start)
}

// Stop dispatches a stop command, then waits the settle delay.
func (c *Client) Stop(ctx context.Context, resourceID string) error {
	return c.dispatch(ctx, "stop", resourceID, c.api.Stop)
}

func (c *Client) dispatch(ctx context.Context, operation, resourceID string, fn func(context.Context, string) error) error {
	if resourceID != c.targetID {
		c.logger.Error().
			Str("operation", operation).
			Str("requested_id", resourceID).
			Msg("Refusing command for a resource other than the configured target")
		return engine.NewPermanentError("resource is not the configured target", nil).
			WithCode(engine.ErrCodeUnauthorizedTarget).
			WithOperation(operation)
	}

	err := c.call(ctx, operation, resourceID, func(ctx context.Context) error {
		return fn(ctx, resourceID)
	})
	if err != nil {
		return err
	}

	c.logger.Info().Str("operation", operation).Dur("settle", c.settle).Msg("Command dispatched")
	return c.wait(ctx, c.settle)
}

// call runs one remote request, records metrics and normalizes its error.
func (c *Client) call(ctx context.Context, operation, resourceID string, fn func(context.Context) error) error {
	timer := telemetry.NewTimer()
	err := fn(ctx)
	c.metrics.RecordRemoteCall(c.provider, operation, timer.Duration())
	if err == nil {
		return nil
	}

	normalized := normalize(err).WithResource(resourceID).WithOperation(operation)
	c.metrics.RecordRemoteError(c.provider, operation, normalized.Code)
	c.logger.Warn().
		Err(err).
		Str("operation", operation).
		Str("class", string(normalized.Class)).
		Str("code", normalized.Code).
		Msg("Remote call failed")
	return normalized
}

// wait blocks for d unless ctx ends first. It is a single bounded wait, not a poll.
func (c *Client) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := c.clock.Timer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return engine.NewTransientError("interrupted while waiting for the resource to settle", ctx.Err()).
			WithCode(engine.ErrCodeRemoteUnavailable)
	}
}

// normalize turns any remote error into a classified EngineError so raw
// remote text never reaches callers as the primary message.
func normalize(err error) *engine.EngineError {
	var engErr *engine.EngineError
	if errors.As(err, &engErr) {
		return engErr
	}

	if retry.DefaultClassifier(err) {
		return engine.NewTransientError("remote control API unavailable", err).
			WithCode(engine.ErrCodeRemoteUnavailable)
	}
	return engine.NewPermanentError("remote control API call failed", err).
		WithCode(engine.ErrCodeRemoteFailed)
}

func notFound(resourceID string) *engine.EngineError {
	return engine.NewPermanentError("resource not found", nil).
		WithCode(engine.ErrCodeResourceNotFound).
		WithResource(resourceID)
}
