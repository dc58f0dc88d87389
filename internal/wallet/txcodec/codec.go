package txcodec

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
)

const (
	unsignedFieldCount = 9
	signedFieldCount   = 12

	legacyV   = 27
	eip155Add = 8 // 27 + 8 = 35, the EIP-155 base
)

// Encode serializes tx into its RLP wire form.
//
// Without a signature the 9 transaction fields are emitted, followed by the
// [chainId, 0, 0] triple when tx commits to a chain; that form is the signing preimage.
// With a signature the triple is replaced by [v, r, s].
func Encode(tx *Transaction, sig *Signature) ([]byte, error) {
	items := baseItems(tx)

	switch {
	case sig != nil:
		v := new(big.Int).SetUint64(legacyV + uint64(sig.RecoveryParam()))
		if tx.ChainID != 0 {
			v.Add(v, new(big.Int).SetUint64(tx.ChainID*2+eip155Add))
		}
		items = append(items, v, stripZeros(sig.R[:]), stripZeros(sig.S[:]))
	case tx.ChainID != 0:
		items = append(items, tx.ChainID, []byte{}, []byte{})
	}

	raw, err := rlp.EncodeToBytes(items)
	if err != nil {
		return nil, errors.Wrap(err, "txcodec: failed to encode transaction")
	}

	return raw, nil
}

// SigningHash returns the keccak256 hash a signer has to sign for tx.
func SigningHash(tx *Transaction) (common.Hash, error) {
	preimage, err := Encode(tx, nil)
	if err != nil {
		return common.Hash{}, err
	}

	return crypto.Keccak256Hash(preimage), nil
}

// Decode parses a 9 (unsigned) or 12 (chain-committed or signed) item RLP list.
//
// A signed input whose sender cannot be recovered still decodes; V, R, S, From, Hash and
// ChainID are then left unset.
func Decode(raw []byte) (*Transaction, error) {
	var items [][]byte
	if err := rlp.DecodeBytes(raw, &items); err != nil {
		return nil, errors.Wrap(ErrMalformedTransaction, err.Error())
	}
	if len(items) != unsignedFieldCount && len(items) != signedFieldCount {
		return nil, errors.Wrapf(ErrMalformedTransaction, "expected %d or %d items, got %d", unsignedFieldCount, signedFieldCount, len(items))
	}

	tx, err := decodeBase(items)
	if err != nil {
		return nil, err
	}
	if len(items) == unsignedFieldCount {
		return tx, nil
	}

	v := new(big.Int).SetBytes(items[9])
	rRaw, sRaw := items[10], items[11]
	if len(rRaw) > 32 || len(sRaw) > 32 {
		return nil, errors.Wrap(ErrMalformedTransaction, "signature component exceeds 32 bytes")
	}
	r, s := new(big.Int).SetBytes(rRaw), new(big.Int).SetBytes(sRaw)

	// r = s = 0 marks an unsigned transaction that commits to the chain id in v.
	if r.Sign() == 0 && s.Sign() == 0 {
		if !v.IsUint64() {
			return nil, errors.Wrap(ErrMalformedTransaction, "chain id overflows uint64")
		}
		tx.ChainID = v.Uint64()
		return tx, nil
	}

	chainID := chainIDFromV(v)
	from, err := recoverSender(items[:unsignedFieldCount], chainID, v, r, s)
	if err != nil {
		return tx, nil
	}

	hash := crypto.Keccak256Hash(raw)
	tx.ChainID = chainID
	tx.V, tx.R, tx.S = v, r, s
	tx.From = &from
	tx.Hash = &hash

	return tx, nil
}

func baseItems(tx *Transaction) []interface{} {
	return []interface{}{
		tx.Nonce,
		bigOrZero(tx.GasPrice),
		tx.GasLimit,
		addressBytes(tx.FeeCurrency),
		addressBytes(tx.GatewayFeeRecipient),
		tx.GatewayFee,
		addressBytes(tx.To),
		bigOrZero(tx.Value),
		tx.Data,
	}
}

func decodeBase(items [][]byte) (*Transaction, error) {
	nonce, err := decodeUint64(items[0], "nonce")
	if err != nil {
		return nil, err
	}
	gasLimit, err := decodeUint64(items[2], "gasLimit")
	if err != nil {
		return nil, err
	}
	feeCurrency, err := decodeAddress(items[3], "feeCurrency")
	if err != nil {
		return nil, err
	}
	gatewayFeeRecipient, err := decodeAddress(items[4], "gatewayFeeRecipient")
	if err != nil {
		return nil, err
	}
	to, err := decodeAddress(items[6], "to")
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		Nonce:               nonce,
		GasPrice:            new(big.Int).SetBytes(items[1]),
		GasLimit:            gasLimit,
		FeeCurrency:         feeCurrency,
		GatewayFeeRecipient: gatewayFeeRecipient,
		To:                  to,
		Value:               new(big.Int).SetBytes(items[7]),
	}
	if len(items[5]) > 0 {
		tx.GatewayFee = new(big.Int).SetBytes(items[5])
	}
	if len(items[8]) > 0 {
		tx.Data = common.CopyBytes(items[8])
	}

	return tx, nil
}

// chainIDFromV inverts v = 35 + 2*chainID + recoveryParam; legacy values map to 0.
func chainIDFromV(v *big.Int) uint64 {
	base := big.NewInt(legacyV + eip155Add)
	if v.Cmp(base) < 0 {
		return 0
	}
	id := new(big.Int).Sub(v, base)
	id.Rsh(id, 1)
	if !id.IsUint64() {
		return 0
	}

	return id.Uint64()
}

func recoverSender(base [][]byte, chainID uint64, v, r, s *big.Int) (common.Address, error) {
	preimage := make([]interface{}, 0, signedFieldCount)
	for _, item := range base {
		preimage = append(preimage, item)
	}

	offset := new(big.Int).SetUint64(legacyV)
	if chainID != 0 {
		preimage = append(preimage, chainID, []byte{}, []byte{})
		offset.Add(offset, new(big.Int).SetUint64(chainID*2+eip155Add))
	}

	recovery := new(big.Int).Sub(v, offset)
	if recovery.Sign() < 0 || recovery.Cmp(big.NewInt(1)) > 0 {
		return common.Address{}, errInvalidSignature
	}
	if !crypto.ValidateSignatureValues(byte(recovery.Uint64()), r, s, false) {
		return common.Address{}, errInvalidSignature
	}

	encoded, err := rlp.EncodeToBytes(preimage)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "txcodec: failed to encode signing preimage")
	}
	hash := crypto.Keccak256(encoded)

	sig := make([]byte, signatureLength)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:64])
	sig[64] = byte(recovery.Uint64())

	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, errors.Wrap(errInvalidSignature, err.Error())
	}

	return crypto.PubkeyToAddress(*pub), nil
}

func decodeUint64(b []byte, field string) (uint64, error) {
	if len(b) > 8 {
		return 0, errors.Wrapf(ErrMalformedTransaction, "%s overflows uint64", field)
	}
	var out uint64
	for _, c := range b {
		out = out<<8 | uint64(c)
	}

	return out, nil
}

func decodeAddress(b []byte, field string) (*common.Address, error) {
	switch len(b) {
	case 0:
		return nil, nil
	case common.AddressLength:
		addr := common.BytesToAddress(b)
		return &addr, nil
	default:
		return nil, errors.Wrapf(ErrMalformedTransaction, "%s must be empty or %d bytes, got %d", field, common.AddressLength, len(b))
	}
}

func addressBytes(addr *common.Address) []byte {
	if addr == nil {
		return []byte{}
	}

	return addr.Bytes()
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}

	return v
}

func stripZeros(b []byte) []byte {
	return bytes.TrimLeft(b, "\x00")
}
