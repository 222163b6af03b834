// Package engine provides the operation coordinator for hostgate.
//
// # Overview
//
// hostgate lets authorized callers start and stop one remote compute resource.
// The engine guarantees that at most one command of each kind is in flight,
// that commands are only sent when the remote state allows them, and that a
// crashed caller never blocks others for longer than the lease TTL.
//
// A requested operation moves through these phases:
//
//  1. Idle - expired leases are swept (best effort)
//  2. LockRequested - a lease for the operation kind is inserted
//  3. Locked - the lease is held
//  4. Validating - the state is read and the precondition checked
//  5. Dispatching - the start or stop command is sent
//  6. Settling - the state is read again after the settle delay
//  7. Released - the lease is deleted, on every exit path
//
// # Core Types
//
//   - OperationKind: start or stop, each serialized by its own lease
//   - State: the remote lifecycle state (pending, running, stopping, stopped, terminated)
//   - Lease: an exclusive, time-bounded claim on one operation kind
//   - Outcome: succeeded, or rejected with lock_held / invalid_precondition
//   - EngineError: a classified failure (transient, throttled, conflict, permanent)
//
// # Interfaces
//
// The coordinator depends on small interfaces implemented elsewhere:
//
//   - LeaseStore: cross-process mutual exclusion (pkg/stores)
//   - ResourceClient: describe, start and stop (pkg/remote)
//   - AuditRecorder: persisted outcome of each call (pkg/stores)
//   - HealthProber: application readiness (pkg/apphealth)
//
// # Usage
//
//	coord := engine.NewCoordinator(store, client, engine.Options{
//	    Logger: logger,
//	    Audit:  store,
//	})
//
//	outcome, err := coord.Execute(engine.WithActor(ctx, "alice"), engine.OperationStart, resourceID)
//	resp := engine.NewResponse(outcome, err)
//
// # Error Handling
//
// Transient and throttled errors are retried with bounded exponential backoff.
// Conflict and permanent errors are returned immediately. NewResponse replaces
// error text with a fixed message per code so remote details are never shown to
// callers.
package engine
