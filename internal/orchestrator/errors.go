package orchestrator

import (
	"errors"
	"fmt"
)

// ErrDispatchLimit is returned when the conversation/update loop exceeds
// the configured maximum number of dispatches in one turn.
var ErrDispatchLimit = errors.New("memory dispatch limit exceeded")

// UnknownDirectiveError is raised when the model emits a directive outside
// the closed update_type set. It indicates a contract violation upstream
// and is never silently mapped to turn termination.
type UnknownDirectiveError struct {
	Value string
}

func (e *UnknownDirectiveError) Error() string {
	return fmt.Sprintf("unknown directive update_type %q", e.Value)
}

// CapabilityError wraps a model or extraction failure. Fatal for the
// current turn; the orchestrator performs no retries.
type CapabilityError struct {
	Capability string // "model" or "extraction"
	Err        error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s capability: %v", e.Capability, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }
