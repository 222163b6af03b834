package engine

import (
	"fmt"
	"time"
)

// OperationKind identifies a state-changing command that is serialized by a lease.
type OperationKind string

const (
	// OperationStart boots the resource.
	OperationStart OperationKind = "start"

	// OperationStop shuts the resource down.
	OperationStop OperationKind = "stop"
)

// OperationKinds lists every operation kind in a stable order.
var OperationKinds = []OperationKind{OperationStart, OperationStop}

// Validate returns a validation error when k is not a known operation kind.
func (k OperationKind) Validate() error {
	switch k {
	case OperationStart, OperationStop:
		return nil
	default:
		return NewPermanentError(fmt.Sprintf("unknown operation %q", string(k)), nil).
			WithCode(ErrCodeValidation)
	}
}

// ParseOperationKind converts a string into an OperationKind.
func ParseOperationKind(s string) (OperationKind, error) {
	k := OperationKind(s)
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

// State is the lifecycle state reported by the remote control API.
// The values are the remote system's own vocabulary and are never renamed.
type State string

const (
	StatePending    State = "pending"
	StateRunning    State = "running"
	StateStopping   State = "stopping"
	StateStopped    State = "stopped"
	StateTerminated State = "terminated"
)

// IsKnown reports whether s belongs to the closed set of recognized states.
func (s State) IsKnown() bool {
	switch s {
	case StatePending, StateRunning, StateStopping, StateStopped, StateTerminated:
		return true
	}
	return false
}

// ParseState maps a raw remote state into a State. Values outside the closed set
// are reported as an error carrying the raw value instead of being coerced.
func ParseState(raw string) (State, error) {
	s := State(raw)
	if !s.IsKnown() {
		return "", NewPermanentError("remote reported an unrecognized state", nil).
			WithCode(ErrCodeUnrecognizedState).
			WithDetail("state", raw)
	}
	return s, nil
}

// ResourceState is a snapshot of the remote resource taken by one describe call.
// It is never cached.
type ResourceState struct {
	// State is the lifecycle state at ObservedAt.
	State State `json:"state"`

	// ObservedAt is when the describe call producing this snapshot ran.
	ObservedAt time.Time `json:"observed_at"`

	// StartedAt is the launch time of the resource, when the remote reports one.
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Lease is an exclusive, time-bounded claim on one operation kind.
type Lease struct {
	ID        string        `json:"lease_id"`
	Kind      OperationKind `json:"operation_kind"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Expired reports whether the lease has passed its expiry at now.
func (l *Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Phase is the progress of a requested operation inside the coordinator.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseLockRequested Phase = "lock_requested"
	PhaseLocked        Phase = "locked"
	PhaseValidating    Phase = "validating"
	PhaseDispatching   Phase = "dispatching"
	PhaseSettling      Phase = "settling"
	PhaseReleased      Phase = "released"
)

// OutcomeStatus is the terminal status of an Execute call that did not fail.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeRejected  OutcomeStatus = "rejected"
)

// RejectReason explains a rejected operation.
type RejectReason string

const (
	// RejectLockHeld means another operation of the same kind is in progress.
	RejectLockHeld RejectReason = "lock_held"

	// RejectInvalidPrecondition means the resource state does not allow the operation.
	RejectInvalidPrecondition RejectReason = "invalid_precondition"
)

// Outcome is the result of Coordinator.Execute when no error occurred.
type Outcome struct {
	Status OutcomeStatus `json:"status"`
	Kind   OperationKind `json:"operation"`

	// State is the new state on success, the current state on a precondition
	// rejection and nil when the lock was held.
	State *ResourceState `json:"state,omitempty"`

	Reason RejectReason `json:"reason,omitempty"`

	// Code distinguishes precondition rejections (INVALID_PRECONDITION or RESOURCE_BOOTING).
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	LeaseID   string    `json:"lease_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Succeeded reports whether the operation was dispatched.
func (o *Outcome) Succeeded() bool {
	return o != nil && o.Status == OutcomeSucceeded
}

// AuditRecord is one persisted Execute attempt.
type AuditRecord struct {
	ID         int64         `json:"id"`
	Kind       OperationKind `json:"operation"`
	ResourceID string        `json:"resource_id"`
	Actor      string        `json:"actor"`
	Outcome    string        `json:"outcome"`
	Reason     string        `json:"reason,omitempty"`
	State      string        `json:"state,omitempty"`
	ErrorCode  string        `json:"error_code,omitempty"`
	LeaseID    string        `json:"lease_id,omitempty"`
	Duration   time.Duration `json:"duration"`
	CreatedAt  time.Time     `json:"created_at"`
}

// AppHealth is the readiness of the application running on the resource.
type AppHealth struct {
	Ready     bool      `json:"ready"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Status is a dashboard view of the resource.
type Status struct {
	ResourceID string          `json:"resource_id"`
	State      *ResourceState  `json:"state"`
	InProgress []OperationKind `json:"in_progress"`
	App        *AppHealth      `json:"app,omitempty"`

	// AppError is set when the readiness probe could not be reached.
	AppError string `json:"app_error,omitempty"`
}
