package hardware

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// TransportKind names a way of reaching the device.
type TransportKind string

const (
	TransportHID TransportKind = "hid"
	TransportU2F TransportKind = "u2f"
)

// DefaultTransportPreference tries the vendor HID interface before the U2F tunnel.
var DefaultTransportPreference = []TransportKind{TransportHID, TransportU2F}

// Opener opens the device interface backing a transport kind. Open returns
// ErrTransportUnsupported when the host cannot provide that kind at all.
type Opener interface {
	Open(kind TransportKind) (Device, error)
}

// ParseTransportKinds converts configured names, skipping unknown ones.
func ParseTransportKinds(names []string) []TransportKind {
	kinds := make([]TransportKind, 0, len(names))
	for _, name := range names {
		switch kind := TransportKind(name); kind {
		case TransportHID, TransportU2F:
			kinds = append(kinds, kind)
		default:
			log.Warn().Str("transport", name).Msg("Ignoring unknown hardware transport")
		}
	}

	return kinds
}

// SelectTransport opens the first kind in preference the host supports.
func SelectTransport(opener Opener, preference []TransportKind) (Transport, error) {
	if len(preference) == 0 {
		preference = DefaultTransportPreference
	}

	notFound := false
	for _, kind := range preference {
		device, err := opener.Open(kind)
		switch {
		case err == nil:
			log.Debug().Str("transport", string(kind)).Msg("Hardware transport selected")
			return newTransport(kind, device), nil
		case errors.Is(err, ErrTransportUnsupported):
			log.Debug().Str("transport", string(kind)).Msg("Hardware transport unsupported, trying next")
		case errors.Is(err, ErrDeviceNotFound):
			notFound = true
		default:
			return nil, commsError(errors.Wrapf(err, "failed to open %s transport", kind))
		}
	}

	if notFound {
		return nil, ErrDeviceNotFound
	}

	return nil, ErrNoTransportAvailable
}

func newTransport(kind TransportKind, device Device) Transport {
	if kind == TransportU2F {
		return NewU2FTransport(device, DefaultScrambleKey)
	}

	return NewHIDTransport(device)
}
