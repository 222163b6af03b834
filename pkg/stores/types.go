package stores

import (
	"context"

	"github.com/openfroyo/hostgate/pkg/engine"
)

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Lease operations
	engine.LeaseStore
	ListLeases(ctx context.Context, includeExpired bool) ([]*engine.Lease, error)

	// Audit operations
	engine.AuditRecorder
	ListOperations(ctx context.Context, kind *engine.OperationKind, limit, offset int) ([]*engine.AuditRecord, error)

	// Utility
	HealthCheck(ctx context.Context) error
}

var _ Store = (*SQLiteStore)(nil)
