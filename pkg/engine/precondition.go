package engine

import "fmt"

// CheckPrecondition returns nil when kind may be dispatched against current.
//
// start requires stopped and stop requires running. A stop while the resource is
// still pending carries ErrCodeResourceBooting so callers can tell "wait for it to
// finish starting" apart from "it is already stopped".
func CheckPrecondition(kind OperationKind, current State) error {
	switch kind {
	case OperationStart:
		if current == StateStopped {
			return nil
		}
		return NewPermanentError(
			fmt.Sprintf("cannot start: resource is %s, it must be stopped", current), nil).
			WithCode(ErrCodeInvalidPrecondition).
			WithOperation(string(kind)).
			WithDetail("state", string(current))

	case OperationStop:
		if current == StateRunning {
			return nil
		}
		if current == StatePending {
			return NewPermanentError(
				"cannot stop: resource is still starting, wait for it to finish booting", nil).
				WithCode(ErrCodeResourceBooting).
				WithOperation(string(kind)).
				WithDetail("state", string(current))
		}
		return NewPermanentError(
			fmt.Sprintf("cannot stop: resource is %s, it must be running", current), nil).
			WithCode(ErrCodeInvalidPrecondition).
			WithOperation(string(kind)).
			WithDetail("state", string(current))
	}

	return kind.Validate()
}
