package pickup

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict reports a lost claim race or a request that is no longer
	// claimable. Callers may re-list candidates and try another request.
	ErrConflict = errors.New("pickup was just taken")
	// ErrInvalidTransition reports a transition that is illegal from the
	// request's current state. Retrying with the same input cannot succeed.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrUnauthorized reports an actor lacking the relationship the
	// transition requires (assigned agent, owning requester, admin).
	ErrUnauthorized = errors.New("actor is not permitted to perform this transition")

	ErrNotFound       = errors.New("pickup request not found")
	ErrInvalidCommand = errors.New("invalid command")
)

type TransitionError struct {
	Kind      error
	Op        string
	RequestID string
	Status    string
	Reason    string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Op, e.RequestID, e.Kind)
	if e.Status != "" {
		msg += " (status " + e.Status + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return e.Kind }

func transitionErr(kind error, op, requestID, status, reason string) error {
	return &TransitionError{Kind: kind, Op: op, RequestID: requestID, Status: status, Reason: reason}
}

func invalidCommand(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidCommand, fmt.Sprintf(format, args...))
}

// ResultLabel names the outcome of err for metrics and audit records.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrUnauthorized):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidCommand):
		return "invalid"
	default:
		return "error"
	}
}
