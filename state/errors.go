package state

import "fmt"

// BadStateError is raised when an action would violate a uniqueness
// invariant the protocol is supposed to prevent. It propagates
// out of the message loop rather than being logged and swallowed like an
// ordinary listener error.
type BadStateError struct {
	Reason string
}

func (e *BadStateError) Error() string {
	return fmt.Sprintf("corrupted network state: %s", e.Reason)
}

func badState(format string, args ...interface{}) error {
	return &BadStateError{Reason: fmt.Sprintf(format, args...)}
}
