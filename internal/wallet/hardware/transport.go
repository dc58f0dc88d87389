package hardware

import (
	"context"
	"io"
)

// Device is an opened USB HID interface.
type Device interface {
	io.ReadWriter
	Close() error
}

// Command is a device APDU.
type Command struct {
	CLA  byte
	INS  byte
	P1   byte
	P2   byte
	Data []byte
}

// Bytes serializes the short APDU form CLA INS P1 P2 Lc data.
func (c Command) Bytes() []byte {
	out := make([]byte, 0, 5+len(c.Data))
	out = append(out, c.CLA, c.INS, c.P1, c.P2, byte(len(c.Data)))
	return append(out, c.Data...)
}

// Transport exchanges APDUs with a device. Exchange returns the reply with the status word
// stripped; non-OK status words surface as *TransportStatusError.
type Transport interface {
	Exchange(ctx context.Context, cmd Command) ([]byte, error)

	// ChunkSize is the largest data payload a single command may carry
	ChunkSize() int

	Close() error
}

// commsLock serializes device access. It is a buffered channel rather than a mutex so a
// busy device can be reported instead of blocked on.
type commsLock chan struct{}

func newCommsLock() commsLock {
	lock := make(commsLock, 1)
	lock <- struct{}{}
	return lock
}

func (l commsLock) tryAcquire() error {
	select {
	case <-l:
		return nil
	default:
		return &TransportError{Kind: KindLocked, Err: errDeviceBusy}
	}
}

func (l commsLock) release() {
	l <- struct{}{}
}

func splitStatus(reply []byte) ([]byte, error) {
	if len(reply) < 2 {
		return nil, commsError(ErrInvalidReply)
	}

	data, sw := reply[:len(reply)-2], uint16(reply[len(reply)-2])<<8|uint16(reply[len(reply)-1])
	if sw != StatusOK {
		return nil, &TransportStatusError{StatusCode: sw}
	}

	return data, nil
}
