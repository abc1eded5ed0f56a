package plan

import "errors"

// Expected, recoverable outcomes of normal use. Callers match these with
// errors.Is; anything else coming out of the coordination layer is either a
// transient persistence failure or a programming error.
var (
	// ErrNotFound reports a missing plan, or no open session for an agent type.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition reports a state change the lifecycle tables forbid,
	// including a handoff issued by an agent that does not hold control.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrValidation reports missing or malformed identifiers and fields.
	ErrValidation = errors.New("validation failed")
)
