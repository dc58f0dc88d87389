package txcodec

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

const signatureLength = 65

// Signature is a secp256k1 signature as produced by a key or a hardware device.
// V may be the raw recovery id (0/1), the legacy 27/28 form or a full EIP-155 value.
type Signature struct {
	V uint64
	R [32]byte
	S [32]byte
}

// SignatureFromBytes parses the 65-byte r || s || v layout.
func SignatureFromBytes(b []byte) (Signature, error) {
	if len(b) != signatureLength {
		return Signature{}, errors.Errorf("txcodec: signature must be %d bytes, got %d", signatureLength, len(b))
	}

	var sig Signature
	copy(sig.R[:], b[:32])
	copy(sig.S[:], b[32:64])
	sig.V = uint64(b[64])

	return sig, nil
}

// RecoveryParam returns the recovery id (0 or 1).
func (s Signature) RecoveryParam() byte {
	switch {
	case s.V < 27:
		return byte(s.V & 1)
	case s.V < 35:
		return byte((s.V - 27) & 1)
	default:
		return byte((s.V - 35) & 1)
	}
}

// Bytes returns r || s || v with v in the 27/28 form.
func (s Signature) Bytes() []byte {
	out := make([]byte, signatureLength)
	copy(out[:32], s.R[:])
	copy(out[32:64], s.S[:])
	out[64] = 27 + s.RecoveryParam()

	return out
}

// Hex returns the 0x-prefixed hex form of Bytes.
func (s Signature) Hex() string {
	return hexutil.Encode(s.Bytes())
}
