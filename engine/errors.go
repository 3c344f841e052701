package engine

import (
	"fmt"

	"github.com/pkg/errors"
)

var errNetworkClosed = errors.New("network closed")

// NumericError is raised to an awaiter correlated on a numeric reply, e.g.
// JoinChannel's 403/405/471/473/474/475/476 outcomes. It carries
// the numeric and any detail text so the caller can report it usefully.
type NumericError struct {
	Numeric string
	Detail  string
}

func (e *NumericError) Error() string {
	return fmt.Sprintf("%s %s", e.Numeric, e.Detail)
}

// Dropped is emitted when the connection is lost: remote close, read/write
// failure, or a ping timeout.
type Dropped struct {
	Cause error
}

func (e *Dropped) Error() string { return "connection dropped: " + e.Cause.Error() }
func (e *Dropped) Unwrap() error { return e.Cause }

// SaslFailure is returned from the registration handshake when SASL fails
// fatally (902/906) or every offered mechanism is exhausted while
// AbortOnSaslFailure is set.
type SaslFailure struct {
	Reason string
}

func (e *SaslFailure) Error() string { return "SASL failed: " + e.Reason }

// RegistrationFailure covers nick-rejection-during-registration
// exhaustion: both primary and secondary nick rejected.
type RegistrationFailure struct {
	Reason string
}

func (e *RegistrationFailure) Error() string { return "registration failed: " + e.Reason }
