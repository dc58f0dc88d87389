package hardware

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	ctapPacketSize   = 64
	ctapBroadcastCID = 0xffffffff
	ctapCmdInit      = 0x86
	ctapCmdMsg       = 0x83
	ctapCmdKeepalive = 0xbb
	ctapCmdError     = 0xbf
	ctapNonceSize    = 8

	u2fInsAuthenticate = 0x02
	u2fP1EnforceSign   = 0x03
	u2fResponseOffset  = 5 // user presence byte + 4 byte counter

	// the key handle carrying the tunneled APDU is limited to 255 bytes
	u2fChunkSize = 150

	// DefaultScrambleKey is the key the Celo device app expects tunneled APDUs to be
	// XORed with.
	DefaultScrambleKey = "w0w"
	defaultU2FOrigin   = "https://www.ledgerwallet.com"
)

// U2FTransport tunnels APDUs through U2F authenticate requests over CTAPHID, for devices
// or hosts that do not expose the vendor HID interface.
type U2FTransport struct {
	device      Device
	lock        commsLock
	scrambleKey []byte
	appID       [32]byte
	cid         uint32
	log         zerolog.Logger
}

var _ Transport = (*U2FTransport)(nil)

func NewU2FTransport(device Device, scrambleKey string) *U2FTransport {
	return &U2FTransport{
		device:      device,
		lock:        newCommsLock(),
		scrambleKey: []byte(scrambleKey),
		appID:       sha256.Sum256([]byte(defaultU2FOrigin)),
		log:         log.With().Str("component", "hardware_u2f").Logger(),
	}
}

func (t *U2FTransport) ChunkSize() int {
	return u2fChunkSize
}

func (t *U2FTransport) Close() error {
	return t.device.Close()
}

func (t *U2FTransport) Exchange(ctx context.Context, cmd Command) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.lock.tryAcquire(); err != nil {
		return nil, err
	}
	defer t.lock.release()

	if t.cid == 0 {
		cid, err := t.allocateChannel()
		if err != nil {
			return nil, err
		}
		t.cid = cid
	}

	keyHandle := scramble(cmd.Bytes(), t.scrambleKey)
	if len(keyHandle) > 0xff {
		return nil, commsError(errors.Errorf("tunneled APDU too long: %d bytes", len(keyHandle)))
	}

	if err := t.write(ctapCmdMsg, t.authenticateAPDU(keyHandle)); err != nil {
		return nil, err
	}
	resp, err := t.read(ctapCmdMsg)
	if err != nil {
		return nil, err
	}

	// U2F layer status first, then the tunneled device reply with its own status word
	resp, err = splitStatus(resp)
	if err != nil {
		return nil, err
	}
	if len(resp) < u2fResponseOffset {
		return nil, commsError(ErrInvalidReply)
	}

	return splitStatus(resp[u2fResponseOffset:])
}

func (t *U2FTransport) authenticateAPDU(keyHandle []byte) []byte {
	var challenge [32]byte

	data := make([]byte, 0, len(challenge)+len(t.appID)+1+len(keyHandle))
	data = append(data, challenge[:]...)
	data = append(data, t.appID[:]...)
	data = append(data, byte(len(keyHandle)))
	data = append(data, keyHandle...)

	// extended length encoding: 0x00 Lc(2) data Le(2)
	apdu := []byte{0x00, u2fInsAuthenticate, u2fP1EnforceSign, 0x00, 0x00, byte(len(data) >> 8), byte(len(data))}
	apdu = append(apdu, data...)

	return append(apdu, 0x00, 0x00)
}

func (t *U2FTransport) allocateChannel() (uint32, error) {
	nonce := make([]byte, ctapNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return 0, commsError(err)
	}

	if err := writeCTAP(t.device, ctapBroadcastCID, ctapCmdInit, nonce); err != nil {
		return 0, err
	}

	for {
		resp, err := readCTAP(t.device, ctapBroadcastCID, ctapCmdInit)
		if err != nil {
			return 0, err
		}
		// replies to other hosts' INIT requests share the broadcast channel
		if len(resp) < ctapNonceSize+4 || !bytes.Equal(resp[:ctapNonceSize], nonce) {
			continue
		}

		cid := binary.BigEndian.Uint32(resp[ctapNonceSize:])
		t.log.Debug().Uint32("cid", cid).Msg("CTAPHID channel allocated")

		return cid, nil
	}
}

func (t *U2FTransport) write(cmd byte, data []byte) error {
	return writeCTAP(t.device, t.cid, cmd, data)
}

func (t *U2FTransport) read(cmd byte) ([]byte, error) {
	return readCTAP(t.device, t.cid, cmd)
}

func scramble(apdu []byte, key []byte) []byte {
	out := make([]byte, len(apdu))
	for i := range apdu {
		out[i] = apdu[i]
		if len(key) > 0 {
			out[i] ^= key[i%len(key)]
		}
	}

	return out
}

// writeCTAP frames data as a CTAPHID message: an init packet CID(4) CMD(1) BCNT(2) data(57)
// followed by continuation packets CID(4) SEQ(1) data(59).
func writeCTAP(w io.Writer, cid uint32, cmd byte, data []byte) error {
	packet := make([]byte, ctapPacketSize)
	binary.BigEndian.PutUint32(packet, cid)
	packet[4] = cmd
	binary.BigEndian.PutUint16(packet[5:], uint16(len(data)))
	n := copy(packet[7:], data)
	data = data[n:]

	if _, err := w.Write(packet); err != nil {
		return commsError(err)
	}

	for seq := byte(0); len(data) > 0; seq++ {
		if seq > 0x7f {
			return commsError(errors.New("CTAPHID message too long"))
		}

		packet = make([]byte, ctapPacketSize)
		binary.BigEndian.PutUint32(packet, cid)
		packet[4] = seq
		n = copy(packet[5:], data)
		data = data[n:]

		if _, err := w.Write(packet); err != nil {
			return commsError(err)
		}
	}

	return nil
}

func readCTAP(r io.Reader, cid uint32, cmd byte) ([]byte, error) {
	packet := make([]byte, ctapPacketSize)

	var (
		resp  []byte
		total int
	)
	for {
		if _, err := io.ReadFull(r, packet); err != nil {
			return nil, commsError(err)
		}
		if binary.BigEndian.Uint32(packet) != cid {
			continue
		}

		switch packet[4] {
		case ctapCmdKeepalive:
			continue
		case ctapCmdError:
			return nil, commsError(errors.Errorf("CTAPHID error 0x%02x", packet[7]))
		case cmd:
		default:
			return nil, commsError(ErrInvalidReply)
		}

		total = int(binary.BigEndian.Uint16(packet[5:]))
		resp = make([]byte, 0, total)
		resp = append(resp, packet[7:min(7+total, ctapPacketSize)]...)
		break
	}

	for seq := byte(0); len(resp) < total; seq++ {
		if _, err := io.ReadFull(r, packet); err != nil {
			return nil, commsError(err)
		}
		if binary.BigEndian.Uint32(packet) != cid || packet[4] != seq {
			return nil, commsError(ErrInvalidReply)
		}

		left := total - len(resp)
		resp = append(resp, packet[5:min(5+left, ctapPacketSize)]...)
	}

	return resp, nil
}
