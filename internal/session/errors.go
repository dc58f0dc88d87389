package session

import "github.com/pkg/errors"

var (
	ErrHandshakeTimeout = errors.New("session: pairing handshake timed out")
	ErrProposalTimeout  = errors.New("session: proposal timed out")
	ErrProtocolFault    = errors.New("session: protocol fault")
	ErrSessionDeleted   = errors.New("session: deleted by peer")
	ErrProposalRejected = errors.New("session: proposal rejected")
	ErrAlreadyStarted   = errors.New("session: engine already started")
	ErrInvalidURI       = errors.New("session: invalid pairing uri")
	ErrNotPaired        = errors.New("session: not paired")
)

// FaultError reports a malformed or unexpected event from the peer. It ends the session
// in StateError.
type FaultError struct {
	Err error
}

// NewFault wraps err as a protocol fault.
func NewFault(err error) *FaultError {
	return &FaultError{Err: err}
}

// Faultf formats a protocol fault.
func Faultf(format string, args ...any) *FaultError {
	return &FaultError{Err: errors.Errorf(format, args...)}
}

func (e *FaultError) Error() string {
	return "session: protocol fault: " + e.Err.Error()
}

func (e *FaultError) Unwrap() error {
	return e.Err
}

func (e *FaultError) Is(target error) bool {
	return target == ErrProtocolFault
}

// RejectionError reports a proposal declined because it asked for an unsupported chain
// or method. Err carries the rpc reason.
type RejectionError struct {
	Err error
}

func (e *RejectionError) Error() string {
	return "session: proposal rejected: " + e.Err.Error()
}

func (e *RejectionError) Unwrap() error {
	return e.Err
}

func (e *RejectionError) Is(target error) bool {
	return target == ErrProposalRejected
}
