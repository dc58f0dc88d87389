package rpc

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/chapool/go-wallet-signer/internal/util"
	"github.com/pkg/errors"
)

const Version = "2.0"

// Request is an inbound request scoped to one settled session.
type Request struct {
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ChainID string          `json:"chainId,omitempty"`
	Topic   string          `json:"topic"`
}

// Reply is the envelope sent back to the peer. Exactly one of Result and Error is set.
type Reply struct {
	ID      uint64 `json:"id"`
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

func NewResult(id uint64, result any) *Reply {
	return &Reply{ID: id, JSONRPC: Version, Result: result}
}

// NewErrorReply shapes err with ErrorFrom.
func NewErrorReply(id uint64, err error) *Reply {
	return &Reply{ID: id, JSONRPC: Version, Error: ErrorFrom(err)}
}

// Failed reports whether r carries an error.
func (r *Reply) Failed() bool {
	return r.Error != nil
}

// ParseChainID accepts CAIP-2 ("celo:44786", "eip155:44786"), decimal and 0x-hex chain ids.
func ParseChainID(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}
	if s == "" {
		return 0, errors.New("empty chain id")
	}

	var (
		id  uint64
		err error
	)
	if util.Has0x(s) {
		id, err = strconv.ParseUint(util.Strip0x(s), 16, 64)
	} else {
		id, err = strconv.ParseUint(s, 10, 64)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "invalid chain id %q", s)
	}

	return id, nil
}
