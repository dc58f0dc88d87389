package wcv1

import (
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/chapool/go-wallet-signer/internal/session"
	"github.com/chapool/go-wallet-signer/internal/util"
	"github.com/pkg/errors"
)

const (
	uriScheme = "wc"
	version   = "1"
	keyLength = 32
)

// URI is a parsed v1 pairing string: wc:<topic>@1?bridge=<url>&key=<hex>.
type URI struct {
	Topic  string
	Bridge string
	Key    []byte
}

// ParseURI parses a v1 pairing string.
func ParseURI(raw string) (*URI, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(raw), uriScheme+":")
	if !ok {
		return nil, errors.Wrap(session.ErrInvalidURI, "missing wc: scheme")
	}

	path, query, _ := strings.Cut(rest, "?")
	topic, ver, ok := strings.Cut(path, "@")
	if !ok || topic == "" {
		return nil, errors.Wrap(session.ErrInvalidURI, "missing topic")
	}
	if ver != version {
		return nil, errors.Wrapf(session.ErrInvalidURI, "unsupported version %q", ver)
	}

	params, err := url.ParseQuery(query)
	if err != nil {
		return nil, errors.Wrapf(session.ErrInvalidURI, "query: %v", err)
	}

	bridge := params.Get("bridge")
	if bridge == "" {
		return nil, errors.Wrap(session.ErrInvalidURI, "missing bridge")
	}
	if _, err := url.Parse(bridge); err != nil {
		return nil, errors.Wrapf(session.ErrInvalidURI, "bridge: %v", err)
	}

	key, err := hex.DecodeString(util.Strip0x(params.Get("key")))
	if err != nil || len(key) != keyLength {
		return nil, errors.Wrap(session.ErrInvalidURI, "key must be 32 hex encoded bytes")
	}

	return &URI{Topic: topic, Bridge: bridge, Key: key}, nil
}

// String formats u as a pairing string.
func (u *URI) String() string {
	q := url.Values{}
	q.Set("bridge", u.Bridge)
	q.Set("key", hex.EncodeToString(u.Key))

	return uriScheme + ":" + u.Topic + "@" + version + "?" + q.Encode()
}

// socketURL maps the bridge's http(s) URL onto the websocket endpoint.
func (u *URI) socketURL() (string, error) {
	parsed, err := url.Parse(u.Bridge)
	if err != nil {
		return "", errors.Wrap(err, "invalid bridge url")
	}

	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	case "http":
		parsed.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", errors.Errorf("unsupported bridge scheme %q", parsed.Scheme)
	}

	return parsed.String(), nil
}
