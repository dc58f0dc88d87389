// Package hardwaretest emulates a device running the Celo app for tests.
package hardwaretest

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/chapool/go-wallet-signer/internal/wallet/hardware"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
)

const (
	packetSize = 64
	channel    = 0x0101
	tagAPDU    = 0x05

	insGetAddress       = 0x02
	insSignTransaction  = 0x04
	insGetConfiguration = 0x06
	insSignMessage      = 0x08
	insProvideERC20     = 0x0a
)

// Device answers Celo app APDUs over the HID framing, signing with Key.
type Device struct {
	Key                  *ecdsa.PrivateKey
	Version              hardware.Version
	ArbitraryDataEnabled bool
	// RejectSigning makes the user deny every signing request
	RejectSigning bool

	mu       sync.Mutex
	pending  []byte
	expected int
	signing  []byte
	out      bytes.Buffer
	closed   bool

	instructions []byte
	tokens       [][]byte
}

func NewDevice(key *ecdsa.PrivateKey) *Device {
	return &Device{
		Key:                  key,
		Version:              hardware.Version{1, 0, 3},
		ArbitraryDataEnabled: true,
	}
}

// Instructions returns the INS byte of every APDU received.
func (d *Device) Instructions() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]byte(nil), d.instructions...)
}

// Tokens returns the ERC20 descriptors the host provided.
func (d *Device) Tokens() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([][]byte(nil), d.tokens...)
}

func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.closed
}

func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, errors.New("device closed")
	}
	if len(p) != packetSize || binary.BigEndian.Uint16(p) != channel || p[2] != tagAPDU {
		return 0, errors.New("malformed packet")
	}

	if binary.BigEndian.Uint16(p[3:]) == 0 {
		d.expected = int(binary.BigEndian.Uint16(p[5:]))
		d.pending = append([]byte(nil), p[7:]...)
	} else {
		d.pending = append(d.pending, p[5:]...)
	}
	if len(d.pending) < d.expected {
		return len(p), nil
	}

	apdu := d.pending[:d.expected]
	d.pending = nil

	data, sw := d.handle(apdu[1], apdu[2], apdu[5:5+int(apdu[4])])
	d.reply(binary.BigEndian.AppendUint16(data, sw))

	return len(p), nil
}

func (d *Device) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.out.Read(p)
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	return nil
}

func (d *Device) reply(payload []byte) {
	payload = append(binary.BigEndian.AppendUint16(nil, uint16(len(payload))), payload...)

	for seq := 0; len(payload) > 0; seq++ {
		packet := make([]byte, packetSize)
		binary.BigEndian.PutUint16(packet, channel)
		packet[2] = tagAPDU
		binary.BigEndian.PutUint16(packet[3:], uint16(seq))
		n := copy(packet[5:], payload)
		payload = payload[n:]
		d.out.Write(packet)
	}
}

func (d *Device) handle(ins byte, p1 byte, data []byte) ([]byte, uint16) {
	d.instructions = append(d.instructions, ins)

	switch ins {
	case insGetConfiguration:
		flags := byte(0)
		if d.ArbitraryDataEnabled {
			flags = 0x01
		}
		return []byte{flags, d.Version[0], d.Version[1], d.Version[2]}, hardware.StatusOK

	case insGetAddress:
		pub := crypto.FromECDSAPub(&d.Key.PublicKey)
		addr := strings.ToLower(hex.EncodeToString(crypto.PubkeyToAddress(d.Key.PublicKey).Bytes()))
		out := append([]byte{byte(len(pub))}, pub...)
		out = append(out, byte(len(addr)))
		return append(out, addr...), hardware.StatusOK

	case insProvideERC20:
		d.tokens = append(d.tokens, append([]byte(nil), data...))
		return nil, hardware.StatusOK

	case insSignTransaction, insSignMessage:
		if p1 == 0x00 {
			d.signing = nil
		}
		d.signing = append(d.signing, data...)
		return d.sign(ins)

	default:
		return nil, hardware.StatusInsNotSupported
	}
}

func (d *Device) sign(ins byte) ([]byte, uint16) {
	if len(d.signing) < 1 || len(d.signing) < 1+4*int(d.signing[0]) {
		return nil, hardware.StatusOK
	}
	body := d.signing[1+4*int(d.signing[0]):]

	var (
		hash    []byte
		chainID uint64
	)
	switch ins {
	case insSignMessage:
		if len(body) < 4 || len(body)-4 < int(binary.BigEndian.Uint32(body)) {
			return nil, hardware.StatusOK
		}
		hash = accounts.TextHash(body[4:])

	case insSignTransaction:
		_, _, rest, err := rlp.Split(body)
		if err != nil || len(rest) != 0 {
			// more chunks to come
			return nil, hardware.StatusOK
		}

		var items [][]byte
		if err := rlp.DecodeBytes(body, &items); err != nil {
			return nil, hardware.StatusInvalidData
		}
		if len(items) == 12 {
			for _, b := range items[9] {
				chainID = chainID<<8 | uint64(b)
			}
		}
		hash = crypto.Keccak256(body)
	}

	if d.RejectSigning {
		return nil, hardware.StatusUserRejected
	}

	sig, err := crypto.Sign(hash, d.Key)
	if err != nil {
		return nil, hardware.StatusInvalidData
	}

	v := 27 + sig[64]
	if chainID != 0 {
		v = byte(35 + 2*chainID + uint64(sig[64]))
	}

	out := []byte{v}
	out = append(out, sig[:32]...)
	return append(out, sig[32:64]...), hardware.StatusOK
}

// Opener serves Device as the HID interface and reports U2F as unsupported.
type Opener struct {
	Device *Device
}

func (o Opener) Open(kind hardware.TransportKind) (hardware.Device, error) {
	if kind != hardware.TransportHID {
		return nil, hardware.ErrTransportUnsupported
	}

	return o.Device, nil
}
