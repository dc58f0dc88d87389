package hardware

import (
	"context"
	"encoding/binary"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	hidPacketSize = 64
	hidChannel    = 0x0101
	hidTagAPDU    = 0x05

	// Lc is a single byte
	hidChunkSize = 255
)

// HIDTransport speaks the Ledger HID framing.
//
// Every packet is 64 bytes long and starts with the channel id (2 bytes, 0x0101), the
// command tag (1 byte, 0x05) and the packet sequence index (2 bytes). The first packet then
// carries the total APDU length (2 bytes) followed by the APDU itself.
type HIDTransport struct {
	device Device
	lock   commsLock
	log    zerolog.Logger
}

var _ Transport = (*HIDTransport)(nil)

func NewHIDTransport(device Device) *HIDTransport {
	return &HIDTransport{
		device: device,
		lock:   newCommsLock(),
		log:    log.With().Str("component", "hardware_hid").Logger(),
	}
}

func (t *HIDTransport) ChunkSize() int {
	return hidChunkSize
}

func (t *HIDTransport) Close() error {
	return t.device.Close()
}

func (t *HIDTransport) Exchange(ctx context.Context, cmd Command) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.lock.tryAcquire(); err != nil {
		return nil, err
	}
	defer t.lock.release()

	for _, packet := range wrapHID(cmd.Bytes()) {
		t.log.Trace().Hex("packet", packet).Msg("HID packet sent")
		if _, err := t.device.Write(packet); err != nil {
			return nil, commsError(err)
		}
	}

	reply, err := unwrapHID(t.device)
	if err != nil {
		return nil, err
	}

	return splitStatus(reply)
}

func wrapHID(apdu []byte) [][]byte {
	payload := make([]byte, 2, 2+len(apdu))
	binary.BigEndian.PutUint16(payload, uint16(len(apdu)))
	payload = append(payload, apdu...)

	const headerSize = 5
	space := hidPacketSize - headerSize

	var packets [][]byte
	for seq := 0; len(payload) > 0; seq++ {
		packet := make([]byte, hidPacketSize)
		binary.BigEndian.PutUint16(packet[0:], hidChannel)
		packet[2] = hidTagAPDU
		binary.BigEndian.PutUint16(packet[3:], uint16(seq))

		n := copy(packet[headerSize:], payload[:min(space, len(payload))])
		payload = payload[n:]
		packets = append(packets, packet)
	}

	return packets
}

func unwrapHID(r io.Reader) ([]byte, error) {
	var (
		reply []byte
		total = -1
	)

	packet := make([]byte, hidPacketSize)
	for seq := 0; total < 0 || len(reply) < total; seq++ {
		if _, err := io.ReadFull(r, packet); err != nil {
			return nil, commsError(err)
		}
		if binary.BigEndian.Uint16(packet[0:]) != hidChannel || packet[2] != hidTagAPDU {
			return nil, commsError(ErrInvalidReply)
		}
		if int(binary.BigEndian.Uint16(packet[3:])) != seq {
			return nil, commsError(ErrInvalidReply)
		}

		payload := packet[5:]
		if seq == 0 {
			total = int(binary.BigEndian.Uint16(payload))
			reply = make([]byte, 0, total)
			payload = payload[2:]
		}

		if left := total - len(reply); left < len(payload) {
			payload = payload[:left]
		}
		reply = append(reply, payload...)
	}

	return reply, nil
}
