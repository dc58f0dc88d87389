package hardware

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
)

// deviceHandler answers one APDU with reply data and a status word.
type deviceHandler func(cmd Command) ([]byte, uint16)

func parseCommand(apdu []byte) Command {
	cmd := Command{CLA: apdu[0], INS: apdu[1], P1: apdu[2], P2: apdu[3]}
	if len(apdu) > 5 {
		cmd.Data = append([]byte(nil), apdu[5:5+int(apdu[4])]...)
	}

	return cmd
}

func withStatus(data []byte, sw uint16) []byte {
	return binary.BigEndian.AppendUint16(append([]byte(nil), data...), sw)
}

// fakeHIDDevice emulates the device side of the Ledger HID framing.
type fakeHIDDevice struct {
	mu       sync.Mutex
	handler  deviceHandler
	pending  []byte
	expected int
	out      bytes.Buffer
	commands []Command
	writeErr error
	closed   bool
}

func newFakeHIDDevice(handler deviceHandler) *fakeHIDDevice {
	return &fakeHIDDevice{handler: handler}
}

func (d *fakeHIDDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.writeErr != nil {
		return 0, d.writeErr
	}
	if len(p) != hidPacketSize {
		return 0, errors.New("short packet")
	}

	if binary.BigEndian.Uint16(p[3:]) == 0 {
		d.expected = int(binary.BigEndian.Uint16(p[5:]))
		d.pending = append([]byte(nil), p[7:]...)
	} else {
		d.pending = append(d.pending, p[5:]...)
	}

	if len(d.pending) >= d.expected {
		cmd := parseCommand(d.pending[:d.expected])
		d.commands = append(d.commands, cmd)

		data, sw := d.handler(cmd)
		for _, packet := range wrapHID(withStatus(data, sw)) {
			d.out.Write(packet)
		}
		d.pending = nil
	}

	return len(p), nil
}

func (d *fakeHIDDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.out.Read(p)
}

func (d *fakeHIDDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	return nil
}

func (d *fakeHIDDevice) recorded() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]Command(nil), d.commands...)
}

// fakeU2FDevice emulates a CTAPHID authenticator tunneling APDUs in key handles.
type fakeU2FDevice struct {
	mu          sync.Mutex
	handler     deviceHandler
	scrambleKey []byte
	cid         uint32
	pending     []byte
	expected    int
	out         bytes.Buffer
	commands    []Command
}

func newFakeU2FDevice(handler deviceHandler) *fakeU2FDevice {
	return &fakeU2FDevice{handler: handler, scrambleKey: []byte(DefaultScrambleKey), cid: 0x01020304}
}

func (d *fakeU2FDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cid := binary.BigEndian.Uint32(p)
	if cid == ctapBroadcastCID && p[4] == ctapCmdInit {
		resp := append([]byte(nil), p[7:7+ctapNonceSize]...)
		resp = binary.BigEndian.AppendUint32(resp, d.cid)
		resp = append(resp, 2, 1, 0, 0, 0)

		return len(p), writeCTAP(&d.out, ctapBroadcastCID, ctapCmdInit, resp)
	}
	if cid != d.cid {
		return 0, errors.New("unknown channel")
	}

	if p[4]&0x80 != 0 {
		d.expected = int(binary.BigEndian.Uint16(p[5:]))
		d.pending = append([]byte(nil), p[7:]...)
	} else {
		d.pending = append(d.pending, p[5:]...)
	}
	if len(d.pending) < d.expected {
		return len(p), nil
	}

	u2fAPDU := d.pending[:d.expected]
	d.pending = nil

	// 0x00 INS P1 P2 0x00 Lc(2) | challenge(32) | appID(32) | khLen | keyHandle | Le(2)
	body := u2fAPDU[7:]
	khLen := int(body[64])
	cmd := parseCommand(scramble(body[65:65+khLen], d.scrambleKey))
	d.commands = append(d.commands, cmd)

	data, sw := d.handler(cmd)
	resp := []byte{0x01, 0x00, 0x00, 0x00, 0x01}
	resp = append(resp, withStatus(data, sw)...)
	resp = withStatus(resp, StatusOK)

	return len(p), writeCTAP(&d.out, d.cid, ctapCmdMsg, resp)
}

func (d *fakeU2FDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.out.Read(p)
}

func (d *fakeU2FDevice) Close() error { return nil }

// celoAppHandler answers the Celo app commands used by the tests.
func celoAppHandler(config []byte, signature []byte) deviceHandler {
	return func(cmd Command) ([]byte, uint16) {
		if cmd.CLA != appCLA {
			return nil, StatusInsNotSupported
		}

		switch cmd.INS {
		case insGetConfiguration:
			return config, StatusOK
		case insGetAddress:
			pub := bytes.Repeat([]byte{0x04}, 65)
			addr := []byte("9858effd232b4033e47d90003d41ec34ecaeda94")
			reply := append([]byte{byte(len(pub))}, pub...)
			reply = append(reply, byte(len(addr)))
			return append(reply, addr...), StatusOK
		case insProvideERC20:
			return nil, StatusOK
		case insSignTransaction, insSignMessage:
			return signature, StatusOK
		default:
			return nil, StatusInsNotSupported
		}
	}
}
