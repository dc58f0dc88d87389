package session

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// PairingVersion returns the protocol version of a "wc:<topic>@<version>?..." pairing uri.
func PairingVersion(uri string) (int, error) {
	rest, ok := strings.CutPrefix(uri, "wc:")
	if !ok {
		return 0, errors.Wrap(ErrInvalidURI, "missing wc: scheme")
	}

	topic, rest, ok := strings.Cut(rest, "@")
	if !ok || topic == "" {
		return 0, errors.Wrap(ErrInvalidURI, "missing topic")
	}

	ver, _, _ := strings.Cut(rest, "?")
	v, err := strconv.Atoi(ver)
	if err != nil || v <= 0 {
		return 0, errors.Wrapf(ErrInvalidURI, "invalid version %q", ver)
	}

	return v, nil
}
