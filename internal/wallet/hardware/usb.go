package hardware

import (
	"github.com/karalabe/hid"
	"github.com/pkg/errors"
)

const (
	ledgerVendorID = 0x2c97

	ledgerUsagePage = 0xffa0
	fidoUsagePage   = 0xf1d0

	// used on platforms where the usage page is not reported
	ledgerInterface = 0
	fidoInterface   = 1
)

// USBOpener finds Ledger devices through the host HID stack.
type USBOpener struct{}

var _ Opener = USBOpener{}

func (USBOpener) Open(kind TransportKind) (Device, error) {
	if !hid.Supported() {
		return nil, ErrTransportUnsupported
	}

	infos, err := hid.Enumerate(ledgerVendorID, 0)
	if err != nil {
		return nil, errors.Wrap(err, "failed to enumerate HID devices")
	}

	for _, info := range infos {
		if !matchesInterface(kind, info.UsagePage, info.Interface) {
			continue
		}

		device, err := info.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open %s", info.Path)
		}

		return device, nil
	}

	return nil, ErrDeviceNotFound
}

func matchesInterface(kind TransportKind, usagePage uint16, iface int) bool {
	switch kind {
	case TransportHID:
		return usagePage == ledgerUsagePage || (usagePage == 0 && iface == ledgerInterface)
	case TransportU2F:
		return usagePage == fidoUsagePage || (usagePage == 0 && iface == fidoInterface)
	default:
		return false
	}
}
