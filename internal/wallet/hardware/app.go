package hardware

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/chapool/go-wallet-signer/internal/wallet/txcodec"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const (
	appCLA = 0xe0

	insGetAddress       = 0x02
	insSignTransaction  = 0x04
	insGetConfiguration = 0x06
	insSignMessage      = 0x08
	insProvideERC20     = 0x0a

	p1FirstChunk  = 0x00
	p1NextChunk   = 0x80
	p1ShowAddress = 0x01

	flagArbitraryData = 0x01

	signatureReplyLength = 65
)

// Version is a device app semantic version.
type Version [3]byte

// ParseVersion parses "major.minor.patch".
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(strings.TrimPrefix(strings.TrimSpace(s), "v"), ".")
	if len(parts) != 3 {
		return Version{}, errors.Errorf("invalid version %q", s)
	}

	var v Version
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			return Version{}, errors.Errorf("invalid version %q", s)
		}
		v[i] = byte(n)
	}

	return v, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}

// AtLeast reports whether v >= other.
func (v Version) AtLeast(other Version) bool {
	for i := range v {
		if v[i] != other[i] {
			return v[i] > other[i]
		}
	}

	return true
}

// AppConfiguration is the reply to the configuration command.
type AppConfiguration struct {
	ArbitraryDataEnabled bool
	Version              Version
}

// Token describes an ERC20 contract the device can render amounts for. Signature is the
// vendor signature over the token descriptor.
type Token struct {
	Symbol    string
	Address   common.Address
	Decimals  uint32
	ChainID   uint64
	Signature []byte
}

// App drives the Celo device app over a Transport.
type App struct {
	transport Transport
}

func NewApp(transport Transport) *App {
	return &App{transport: transport}
}

func (a *App) Close() error {
	return a.transport.Close()
}

// GetAppConfiguration returns the app flags and version.
//
//	CLA | INS | P1 | P2 | Lc
//	 E0 | 06  | 00 | 00 | 00
//
// The reply is flags (1 byte, 0x01 = arbitrary data signing enabled) and the version
// (3 bytes).
func (a *App) GetAppConfiguration(ctx context.Context) (AppConfiguration, error) {
	reply, err := a.exchange(ctx, insGetConfiguration, 0, nil)
	if err != nil {
		return AppConfiguration{}, err
	}
	if len(reply) != 4 {
		return AppConfiguration{}, errors.Wrapf(ErrInvalidReply, "configuration reply has %d bytes", len(reply))
	}

	cfg := AppConfiguration{ArbitraryDataEnabled: reply[0]&flagArbitraryData != 0}
	copy(cfg.Version[:], reply[1:])

	return cfg, nil
}

// GetAddress derives the address at path on the device, optionally asking the user to
// confirm it on screen.
//
// The reply is pubkey length (1) | pubkey | address length (1) | hex address.
func (a *App) GetAddress(ctx context.Context, path []uint32, display bool) (common.Address, error) {
	p1 := byte(0)
	if display {
		p1 = p1ShowAddress
	}

	reply, err := a.exchange(ctx, insGetAddress, p1, serializePath(path))
	if err != nil {
		return common.Address{}, err
	}

	if len(reply) < 1 || len(reply) < 1+int(reply[0]) {
		return common.Address{}, errors.Wrap(ErrInvalidReply, "reply lacks public key entry")
	}
	reply = reply[1+int(reply[0]):]

	if len(reply) < 1 || len(reply) < 1+int(reply[0]) {
		return common.Address{}, errors.Wrap(ErrInvalidReply, "reply lacks address entry")
	}

	var addr common.Address
	if _, err := hex.Decode(addr[:], reply[1:1+int(reply[0])]); err != nil {
		return common.Address{}, errors.Wrap(ErrInvalidReply, err.Error())
	}

	return addr, nil
}

// ProvideERC20TokenInformation teaches the device a token so it can display amounts.
//
// Data is ticker length (1) | ticker | address (20) | decimals (4) | chain id (4) | signature.
func (a *App) ProvideERC20TokenInformation(ctx context.Context, token Token) error {
	data := make([]byte, 0, 1+len(token.Symbol)+common.AddressLength+8+len(token.Signature))
	data = append(data, byte(len(token.Symbol)))
	data = append(data, token.Symbol...)
	data = append(data, token.Address.Bytes()...)
	data = binary.BigEndian.AppendUint32(data, token.Decimals)
	data = binary.BigEndian.AppendUint32(data, uint32(token.ChainID))
	data = append(data, token.Signature...)

	_, err := a.exchange(ctx, insProvideERC20, 0, data)
	return err
}

// SignTransaction sends the RLP signing preimage and returns the device signature. The
// first chunk is prefixed with the serialized path.
//
// The signature V is the low byte of the full v value the device computed.
func (a *App) SignTransaction(ctx context.Context, path []uint32, rawTx []byte) (txcodec.Signature, error) {
	payload := append(serializePath(path), rawTx...)

	return a.sign(ctx, insSignTransaction, payload)
}

// SignPersonalMessage signs message with the EIP-191 personal prefix applied on device.
// The payload is path | message length (4) | message.
func (a *App) SignPersonalMessage(ctx context.Context, path []uint32, message []byte) (txcodec.Signature, error) {
	payload := serializePath(path)
	payload = binary.BigEndian.AppendUint32(payload, uint32(len(message)))
	payload = append(payload, message...)

	return a.sign(ctx, insSignMessage, payload)
}

func (a *App) sign(ctx context.Context, ins byte, payload []byte) (txcodec.Signature, error) {
	var (
		reply []byte
		err   error
		p1    = byte(p1FirstChunk)
		size  = a.transport.ChunkSize()
	)
	for len(payload) > 0 {
		n := min(size, len(payload))
		reply, err = a.exchange(ctx, ins, p1, payload[:n])
		if err != nil {
			return txcodec.Signature{}, err
		}
		payload = payload[n:]
		p1 = p1NextChunk
	}

	if len(reply) != signatureReplyLength {
		return txcodec.Signature{}, errors.Wrap(ErrInvalidReply, "reply lacks signature")
	}

	// the device answers v | r | s
	var sig txcodec.Signature
	sig.V = uint64(reply[0])
	copy(sig.R[:], reply[1:33])
	copy(sig.S[:], reply[33:65])

	return sig, nil
}

func (a *App) exchange(ctx context.Context, ins byte, p1 byte, data []byte) ([]byte, error) {
	return a.transport.Exchange(ctx, Command{CLA: appCLA, INS: ins, P1: p1, Data: data})
}

// serializePath encodes the number of components followed by each big-endian index.
func serializePath(path []uint32) []byte {
	out := make([]byte, 1, 1+4*len(path))
	out[0] = byte(len(path))
	for _, component := range path {
		out = binary.BigEndian.AppendUint32(out, component)
	}

	return out
}
