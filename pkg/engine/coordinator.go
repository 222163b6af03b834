package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/hostgate/pkg/retry"
	"github.com/openfroyo/hostgate/pkg/telemetry"
)

// DefaultReleaseTimeout bounds the lease release that runs after Execute,
// independently of the caller's context.
const DefaultReleaseTimeout = 10 * time.Second

// Options configures a Coordinator. Every field is optional.
type Options struct {
	Logger  zerolog.Logger
	Metrics *telemetry.Metrics
	Tracer  trace.Tracer

	// RetryPolicy wraps lease acquisition, describe and dispatch calls.
	// The zero value uses retry.DefaultPolicy.
	RetryPolicy retry.Policy

	// Audit receives one record per Execute call.
	Audit AuditRecorder

	// Health is probed by Status.
	Health HealthProber

	ReleaseTimeout time.Duration
	Clock          clock.Clock
}

// Coordinator serializes start and stop commands against one remote resource.
// It holds no locks of its own; mutual exclusion comes from the LeaseStore.
type Coordinator struct {
	leases         LeaseStore
	client         ResourceClient
	audit          AuditRecorder
	health         HealthProber
	policy         retry.Policy
	releaseTimeout time.Duration
	clock          clock.Clock
	logger         zerolog.Logger
	metrics        *telemetry.Metrics
	tracer         trace.Tracer
}

// NewCoordinator creates a coordinator over the given lease store and client.
func NewCoordinator(leases LeaseStore, client ResourceClient, opts Options) *Coordinator {
	policy := opts.RetryPolicy
	if policy.MaxAttempts == 0 {
		defaults := retry.DefaultPolicy()
		defaults.Sleep = policy.Sleep
		defaults.OnRetry = policy.OnRetry
		if policy.Classifier != nil {
			defaults.Classifier = policy.Classifier
		}
		policy = defaults
	}
	if opts.ReleaseTimeout <= 0 {
		opts.ReleaseTimeout = DefaultReleaseTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("hostgate")
	}

	return &Coordinator{
		leases:         leases,
		client:         client,
		audit:          opts.Audit,
		health:         opts.Health,
		policy:         policy,
		releaseTimeout: opts.ReleaseTimeout,
		clock:          opts.Clock,
		logger:         opts.Logger.With().Str("component", "coordinator").Logger(),
		metrics:        opts.Metrics,
		tracer:         opts.Tracer,
	}
}

// Execute runs one start or stop request to completion.
//
// A held lease or a failed precondition is reported as a rejected Outcome, not
// as an error. Errors are *EngineError values whose messages never contain raw
// remote text. Any lease acquired here is released before Execute returns.
func (c *Coordinator) Execute(ctx context.Context, kind OperationKind, resourceID string) (outcome *Outcome, err error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	began := c.clock.Now()
	actor := ActorFromContext(ctx)

	ctx, span := telemetry.StartOperationSpan(ctx, c.tracer, string(kind), resourceID)
	defer span.End()
	span.SetAttributes(telemetry.AttrActor.String(actor))

	logger := c.logger.With().
		Str("operation", string(kind)).
		Str("resource_id", resourceID).
		Str("actor", actor).
		Logger()

	c.metrics.OperationStarted(string(kind))
	defer func() {
		c.finish(ctx, span, logger, kind, resourceID, actor, began, outcome, err)
	}()

	c.phase(span, logger, PhaseIdle)
	c.sweep(ctx, logger)

	c.phase(span, logger, PhaseLockRequested)
	lease, err := retry.Do(ctx, c.retryPolicy("acquire", logger), func(ctx context.Context) (*Lease, error) {
		return c.leases.Acquire(ctx, kind)
	})
	if err != nil {
		c.metrics.RecordLeaseAcquisition(string(kind), "error")
		return nil, asEngineError(err, ErrCodeLockStoreUnavailable).WithOperation(string(kind))
	}
	if lease == nil {
		c.metrics.RecordLeaseAcquisition(string(kind), "held")
		return &Outcome{
			Status:    OutcomeRejected,
			Kind:      kind,
			Reason:    RejectLockHeld,
			Message:   fmt.Sprintf("another %s operation is already in progress", kind),
			Timestamp: c.clock.Now(),
		}, nil
	}
	c.metrics.RecordLeaseAcquisition(string(kind), "acquired")
	defer c.release(ctx, span, logger, lease)

	span.SetAttributes(telemetry.AttrLeaseID.String(lease.ID))
	logger = logger.With().Str("lease_id", lease.ID).Logger()
	c.phase(span, logger, PhaseLocked)

	c.phase(span, logger, PhaseValidating)
	current, err := c.describe(ctx, resourceID, logger)
	if err != nil {
		return nil, err
	}

	if err := CheckPrecondition(kind, current.State); err != nil {
		var engErr *EngineError
		message := err.Error()
		if errors.As(err, &engErr) {
			message = engErr.Message
		}
		return &Outcome{
			Status:    OutcomeRejected,
			Kind:      kind,
			State:     current,
			Reason:    RejectInvalidPrecondition,
			Code:      CodeOf(err),
			Message:   message,
			LeaseID:   lease.ID,
			Timestamp: c.clock.Now(),
		}, nil
	}

	c.phase(span, logger, PhaseDispatching)
	err = retry.DoErr(ctx, c.retryPolicy("dispatch", logger), func(ctx context.Context) error {
		if kind == OperationStart {
			return c.client.Start(ctx, resourceID)
		}
		return c.client.Stop(ctx, resourceID)
	})
	if err != nil {
		return nil, asEngineError(err, ErrCodeRemoteFailed).WithOperation(string(kind))
	}

	c.phase(span, logger, PhaseSettling)
	next, err := c.describe(ctx, resourceID, logger)
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Status:    OutcomeSucceeded,
		Kind:      kind,
		State:     next,
		LeaseID:   lease.ID,
		Timestamp: c.clock.Now(),
	}, nil
}

// Status reads the resource state, the operations in progress and the
// application readiness concurrently. A failed readiness probe is reported in
// Status.AppError rather than failing the call.
func (c *Coordinator) Status(ctx context.Context, resourceID string) (*Status, error) {
	status := &Status{ResourceID: resourceID, InProgress: []OperationKind{}}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		state, err := c.describe(gctx, resourceID, c.logger)
		if err != nil {
			return err
		}
		status.State = state
		return nil
	})

	g.Go(func() error {
		leases, err := c.leases.ListActive(gctx)
		if err != nil {
			return asEngineError(err, ErrCodeLockStoreUnavailable)
		}
		for _, lease := range leases {
			status.InProgress = append(status.InProgress, lease.Kind)
		}
		return nil
	})

	if c.health != nil {
		g.Go(func() error {
			health, err := c.health.Check(gctx)
			if err != nil {
				c.logger.Debug().Err(err).Msg("Application health probe failed")
				status.AppError = SanitizedMessage(err)
				return nil
			}
			c.metrics.SetAppReady(resourceID, health.Ready)
			status.App = health
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return status, nil
}

// Sweep deletes expired leases and returns how many were removed.
func (c *Coordinator) Sweep(ctx context.Context) (int64, error) {
	n, err := c.leases.SweepExpired(ctx)
	if err != nil {
		return 0, asEngineError(err, ErrCodeLockStoreUnavailable)
	}
	c.metrics.RecordLeasesSwept(n)
	return n, nil
}

func (c *Coordinator) sweep(ctx context.Context, logger zerolog.Logger) {
	n, err := c.Sweep(ctx)
	if err != nil {
		// A stale lease only delays the next operation until it expires.
		logger.Warn().Err(err).Msg("Failed to sweep expired leases")
		return
	}
	if n > 0 {
		logger.Info().Int64("swept", n).Msg("Removed expired leases")
	}
}

func (c *Coordinator) describe(ctx context.Context, resourceID string, logger zerolog.Logger) (*ResourceState, error) {
	state, err := retry.Do(ctx, c.retryPolicy("describe", logger), func(ctx context.Context) (*ResourceState, error) {
		return c.client.DescribeState(ctx, resourceID)
	})
	if err != nil {
		return nil, asEngineError(err, ErrCodeRemoteFailed).WithResource(resourceID)
	}
	return state, nil
}

// release deletes the lease on a context that survives caller cancellation.
func (c *Coordinator) release(ctx context.Context, span trace.Span, logger zerolog.Logger, lease *Lease) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.releaseTimeout)
	defer cancel()

	if err := c.leases.Release(rctx, lease.ID); err != nil {
		logger.Error().Err(err).Time("expires_at", lease.ExpiresAt).
			Msg("Failed to release lease, it will be swept after expiry")
	}
	c.phase(span, logger, PhaseReleased)
}

func (c *Coordinator) retryPolicy(call string, logger zerolog.Logger) retry.Policy {
	p := c.policy
	next := p.OnRetry
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.metrics.RecordRetry(call)
		logger.Warn().
			Err(err).
			Str("call", call).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Retrying after transient failure")
		if next != nil {
			next(attempt, delay, err)
		}
	}
	return p
}

func (c *Coordinator) phase(span trace.Span, logger zerolog.Logger, phase Phase) {
	telemetry.AddPhaseEvent(span, string(phase))
	logger.Debug().Str("phase", string(phase)).Msg("Operation phase")
}

// finish records metrics, span status, logs and the audit record of one Execute.
func (c *Coordinator) finish(
	ctx context.Context,
	span trace.Span,
	logger zerolog.Logger,
	kind OperationKind,
	resourceID, actor string,
	began time.Time,
	outcome *Outcome,
	err error,
) {
	duration := c.clock.Since(began)
	record := &AuditRecord{
		Kind:       kind,
		ResourceID: resourceID,
		Actor:      actor,
		Duration:   duration,
		CreatedAt:  c.clock.Now(),
	}

	label := outcomeLabel(outcome, err)
	record.Outcome = label
	span.SetAttributes(telemetry.AttrOutcome.String(label))

	switch {
	case err != nil:
		class, code := ClassOf(err), CodeOf(err)
		if code == "" {
			code = ErrCodeInternal
		}
		record.ErrorCode = code
		c.metrics.RecordError(string(class), code)
		span.SetAttributes(telemetry.AttrErrorClass.String(string(class)), telemetry.AttrErrorCode.String(code))
		telemetry.RecordError(span, err)
		logger.Error().Err(err).Str("code", code).Dur("duration", duration).Msg("Operation failed")

	case outcome.Succeeded():
		record.State = string(outcome.State.State)
		record.LeaseID = outcome.LeaseID
		span.SetAttributes(telemetry.AttrState.String(record.State))
		telemetry.RecordSuccess(span)
		logger.Info().Str("state", record.State).Dur("duration", duration).Msg("Operation dispatched")

	default:
		record.Reason = string(outcome.Reason)
		record.ErrorCode = outcome.Code
		record.LeaseID = outcome.LeaseID
		if outcome.State != nil {
			record.State = string(outcome.State.State)
		}
		span.SetAttributes(telemetry.AttrReason.String(record.Reason))
		logger.Warn().
			Str("reason", record.Reason).
			Str("code", outcome.Code).
			Str("state", record.State).
			Msg("Operation rejected")
	}

	c.metrics.RecordOperation(string(kind), label, duration)

	if c.audit == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.releaseTimeout)
	defer cancel()
	if aerr := c.audit.RecordOperation(actx, record); aerr != nil {
		logger.Warn().Err(aerr).Msg("Failed to record audit entry")
	}
}

func outcomeLabel(outcome *Outcome, err error) string {
	switch {
	case err != nil:
		return "failed"
	case outcome.Succeeded():
		return string(OutcomeSucceeded)
	default:
		return string(OutcomeRejected) + "_" + string(outcome.Reason)
	}
}

// asEngineError returns err as an *EngineError, wrapping unclassified errors
// under code so they never surface unclassified.
func asEngineError(err error, code string) *EngineError {
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr
	}
	if code == ErrCodeLockStoreUnavailable {
		return NewTransientError("lock store unavailable", err).WithCode(code)
	}
	return NewPermanentError("operation failed", err).WithCode(code)
}

type actorContextKey struct{}

// WithActor records who requested the operations run with ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the actor set by WithActor, or "unknown".
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorContextKey{}).(string); ok && actor != "" {
		return actor
	}
	return "unknown"
}
