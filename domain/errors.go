package domain

import "errors"

// Failure taxonomy for move and reorder operations. Call sites wrap these
// with context; callers discriminate with errors.Is.
var (
	ErrItemNotFound      = errors.New("item not found")
	ErrContainerNotFound = errors.New("container not found")
	ErrContainerArchived = errors.New("container archived")
	ErrCyclicMove        = errors.New("cyclic move rejected")
	ErrStaleOrder        = errors.New("stale order")
	ErrConflict          = errors.New("concurrency conflict")
)

// ValidationError reports a structurally malformed request, such as a
// negative index or an unknown item kind. Validation failures are
// deterministic and never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid request: " + e.Reason }
