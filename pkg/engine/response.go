package engine

import (
	"errors"
	"time"
)

// Response is the caller-facing rendering of an Execute result. Exactly one of
// Success, Rejected or Error is set.
type Response struct {
	Success   bool         `json:"success,omitempty"`
	Rejected  RejectReason `json:"rejected,omitempty"`
	State     State        `json:"state,omitempty"`
	Code      string       `json:"code,omitempty"`
	Message   string       `json:"message,omitempty"`
	Error     string       `json:"error,omitempty"`
	Timestamp *time.Time   `json:"timestamp,omitempty"`
}

// NewResponse converts the result of Execute into a Response. Error text is
// replaced by a fixed message per code so remote details never leak.
func NewResponse(outcome *Outcome, err error) *Response {
	if err != nil {
		return &Response{
			Code:  responseCode(err),
			Error: SanitizedMessage(err),
		}
	}
	if outcome == nil {
		return &Response{Code: ErrCodeInternal, Error: sanitizedMessages[ErrCodeInternal]}
	}

	ts := outcome.Timestamp
	resp := &Response{Timestamp: &ts}
	if outcome.State != nil {
		resp.State = outcome.State.State
	}

	if outcome.Succeeded() {
		resp.Success = true
		return resp
	}

	resp.Rejected = outcome.Reason
	resp.Code = outcome.Code
	resp.Message = outcome.Message
	return resp
}

var sanitizedMessages = map[string]string{
	ErrCodeValidation:           "invalid request",
	ErrCodeUnauthorizedTarget:   "resource is not managed by this service",
	ErrCodeResourceNotFound:     "resource not found",
	ErrCodeRemoteUnavailable:    "service unavailable",
	ErrCodeRateLimited:          "service unavailable",
	ErrCodeLockStoreUnavailable: "service unavailable",
	ErrCodeIncorrectState:       "resource state changed, try again",
	ErrCodeUnrecognizedState:    "resource reported an unrecognized state",
	ErrCodeRemoteFailed:         "remote operation failed",
	ErrCodeInternal:             "internal error",
}

// SanitizedMessage returns a fixed caller-safe message for err.
// Transient and throttled errors that survived retries read "service unavailable".
func SanitizedMessage(err error) string {
	if err == nil {
		return ""
	}
	if msg, ok := sanitizedMessages[CodeOf(err)]; ok {
		return msg
	}
	if IsRetryable(err) {
		return "service unavailable"
	}

	var engErr *EngineError
	if errors.As(err, &engErr) && engErr.Class == ErrorClassConflict {
		return sanitizedMessages[ErrCodeIncorrectState]
	}
	return sanitizedMessages[ErrCodeInternal]
}

func responseCode(err error) string {
	if code := CodeOf(err); code != "" {
		return code
	}
	return ErrCodeInternal
}
