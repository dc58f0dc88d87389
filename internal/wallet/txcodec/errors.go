package txcodec

import "github.com/pkg/errors"

var (
	// ErrMalformedTransaction is returned for RLP input that is not a 9 or 12 item list of
	// byte strings or that carries a fixed-length field of the wrong size.
	ErrMalformedTransaction = errors.New("txcodec: malformed transaction")

	errInvalidSignature = errors.New("txcodec: invalid signature")
)
