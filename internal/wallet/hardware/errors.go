package hardware

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrUnsupportedAppVersion = errors.New("hardware: unsupported device app version")
	ErrArbitraryDataDisabled = errors.New("hardware: contract data signing is disabled in the device app")
	ErrNoTransportAvailable  = errors.New("hardware: no transport available")
	ErrTransportUnsupported  = errors.New("hardware: transport not supported on this host")
	ErrDeviceNotFound        = errors.New("hardware: device not found")
	ErrHardwareActionFailed  = errors.New("hardware: action failed after retries")
	ErrTransport             = errors.New("hardware: transport error")
	ErrInvalidReply          = errors.New("hardware: invalid device reply")

	errDeviceBusy = errors.New("device busy")
)

// ErrorKind classifies a TransportError.
type ErrorKind int

const (
	// KindComms is a failed read/write or a garbled frame. Not retried.
	KindComms ErrorKind = iota
	// KindLocked means another exchange holds the device. Retried.
	KindLocked
)

func (k ErrorKind) String() string {
	switch k {
	case KindLocked:
		return "locked"
	case KindComms:
		return "comms"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// TransportError is a failure to talk to the device at all.
type TransportError struct {
	Kind ErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func commsError(err error) error {
	return &TransportError{Kind: KindComms, Err: err}
}

// TransportStatusError is a well-formed reply in which the device app refused the command.
type TransportStatusError struct {
	StatusCode uint16
}

func (e *TransportStatusError) Error() string {
	return fmt.Sprintf("device returned status 0x%04x (%s)", e.StatusCode, statusText(e.StatusCode))
}

const (
	StatusOK                = 0x9000
	StatusUserRejected      = 0x6985
	StatusInvalidData       = 0x6a80
	StatusAppNotOpen        = 0x6e00
	StatusInsNotSupported   = 0x6d00
	StatusDeviceLocked      = 0x5515
	StatusIncorrectLength   = 0x6700
	StatusSecurityNotSatisf = 0x6982
)

func statusText(code uint16) string {
	switch code {
	case StatusUserRejected:
		return "denied by the user"
	case StatusInvalidData:
		return "invalid data"
	case StatusAppNotOpen:
		return "app not open"
	case StatusInsNotSupported:
		return "instruction not supported"
	case StatusDeviceLocked:
		return "device locked"
	case StatusIncorrectLength:
		return "incorrect length"
	case StatusSecurityNotSatisf:
		return "security status not satisfied"
	default:
		return "unknown"
	}
}
