package txcodec

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Transaction is a Celo legacy transaction. FeeCurrency, GatewayFeeRecipient and
// GatewayFee are the Celo extension fields; nil means "not set" and encodes as an
// empty string.
type Transaction struct {
	Nonce               uint64
	GasPrice            *big.Int
	GasLimit            uint64
	FeeCurrency         *common.Address
	GatewayFeeRecipient *common.Address
	GatewayFee          *big.Int
	To                  *common.Address
	Value               *big.Int
	Data                []byte

	// ChainID of zero means the transaction does not commit to a chain.
	ChainID uint64

	// Set by Decode when the input carries a recoverable signature.
	V    *big.Int
	R    *big.Int
	S    *big.Int
	From *common.Address
	Hash *common.Hash
}

// Signed reports whether Decode recovered a signature for tx.
func (tx *Transaction) Signed() bool {
	return tx.V != nil && tx.From != nil
}

type transactionJSON struct {
	Nonce               hexutil.Uint64  `json:"nonce"`
	GasPrice            *hexutil.Big    `json:"gasPrice"`
	GasLimit            hexutil.Uint64  `json:"gas"`
	FeeCurrency         *common.Address `json:"feeCurrency,omitempty"`
	GatewayFeeRecipient *common.Address `json:"gatewayFeeRecipient,omitempty"`
	GatewayFee          *hexutil.Big    `json:"gatewayFee,omitempty"`
	To                  *common.Address `json:"to"`
	Value               *hexutil.Big    `json:"value"`
	Data                hexutil.Bytes   `json:"data"`
	ChainID             *hexutil.Uint64 `json:"chainId,omitempty"`
	V                   *hexutil.Big    `json:"v,omitempty"`
	R                   *hexutil.Big    `json:"r,omitempty"`
	S                   *hexutil.Big    `json:"s,omitempty"`
	From                *common.Address `json:"from,omitempty"`
	Hash                *common.Hash    `json:"hash,omitempty"`
}

// MarshalJSON renders tx with the hex quantities used by JSON-RPC.
func (tx *Transaction) MarshalJSON() ([]byte, error) {
	out := transactionJSON{
		Nonce:               hexutil.Uint64(tx.Nonce),
		GasPrice:            (*hexutil.Big)(tx.GasPrice),
		GasLimit:            hexutil.Uint64(tx.GasLimit),
		FeeCurrency:         tx.FeeCurrency,
		GatewayFeeRecipient: tx.GatewayFeeRecipient,
		GatewayFee:          (*hexutil.Big)(tx.GatewayFee),
		To:                  tx.To,
		Value:               (*hexutil.Big)(tx.Value),
		Data:                tx.Data,
		V:                   (*hexutil.Big)(tx.V),
		R:                   (*hexutil.Big)(tx.R),
		S:                   (*hexutil.Big)(tx.S),
		From:                tx.From,
		Hash:                tx.Hash,
	}
	if tx.ChainID != 0 {
		chainID := hexutil.Uint64(tx.ChainID)
		out.ChainID = &chainID
	}

	return json.Marshal(out)
}
