package engine

import (
	"context"
)

// LeaseStore provides cross-process mutual exclusion per operation kind.
// Implementations must rely on an atomic insert under a uniqueness constraint,
// never on an in-process mutex.
type LeaseStore interface {
	// Acquire attempts to create a lease for kind. It returns (nil, nil) when an
	// active lease for the same kind already exists and never blocks waiting for it.
	Acquire(ctx context.Context, kind OperationKind) (*Lease, error)

	// Release deletes the lease. Releasing an unknown or already released lease is a no-op.
	Release(ctx context.Context, leaseID string) error

	// SweepExpired deletes every lease whose expiry has passed, regardless of holder.
	SweepExpired(ctx context.Context) (int64, error)

	// ListActive returns the leases that have not expired yet.
	ListActive(ctx context.Context) ([]*Lease, error)
}

// ResourceClient is typed, validated access to the remote resource.
type ResourceClient interface {
	// DescribeState reads the current state. It never serves cached data.
	DescribeState(ctx context.Context, resourceID string) (*ResourceState, error)

	// Start dispatches a start command and waits the settle delay.
	Start(ctx context.Context, resourceID string) error

	// Stop dispatches a stop command and waits the settle delay.
	Stop(ctx context.Context, resourceID string) error
}

// AuditRecorder persists the outcome of every Execute call.
type AuditRecorder interface {
	RecordOperation(ctx context.Context, record *AuditRecord) error
}

// HealthProber reports whether the application on the resource finished booting.
type HealthProber interface {
	Check(ctx context.Context) (*AppHealth, error)
}
