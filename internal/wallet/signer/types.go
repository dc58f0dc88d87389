package signer

import (
	"context"
	"math/big"

	"github.com/chapool/go-wallet-signer/internal/wallet/chain"
	"github.com/chapool/go-wallet-signer/internal/wallet/txcodec"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var (
	ErrNotInitialized      = errors.New("signer: not initialized")
	ErrChainMismatch       = errors.New("signer: chain id mismatch")
	ErrFromAddressMismatch = errors.New("signer: from address does not match signer")
	ErrConnectUnsupported  = errors.New("signer: connect is not supported")
	ErrLocked              = errors.New("signer: locked")
	ErrNoNetwork           = errors.New("signer: no network to populate from")
	ErrIncomplete          = errors.New("signer: transaction is missing required fields")
	ErrNoActiveSigner      = errors.New("signer: no active signer")
)

// Signer signs messages and transactions for one account.
type Signer interface {
	// GetAddress returns the account address
	GetAddress(ctx context.Context) (common.Address, error)

	// SignMessage signs message with the EIP-191 personal message prefix
	SignMessage(ctx context.Context, message []byte) (txcodec.Signature, error)

	// SignTransaction signs a fully populated request
	SignTransaction(ctx context.Context, req *TxRequest) (*SignedTransaction, error)

	// PopulateTransaction returns a copy of req with nonce, chain id, gas price and gas limit
	// filled in where absent
	PopulateTransaction(ctx context.Context, req *TxRequest) (*TxRequest, error)

	// Connect returns a signer for the same account bound to network
	Connect(network NetworkSource) (Signer, error)
}

// NetworkSource provides the chain state PopulateTransaction needs. chain.Client satisfies it.
type NetworkSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	GasPrice(ctx context.Context, feeCurrency *common.Address) (*big.Int, error)
	EstimateGas(ctx context.Context, msg chain.CallMsg) (uint64, error)
}

// TxRequest is a transaction as requested by a dapp; nil fields are unset.
type TxRequest struct {
	From                *common.Address
	To                  *common.Address
	Nonce               *uint64
	GasPrice            *big.Int
	GasLimit            *uint64
	FeeCurrency         *common.Address
	GatewayFeeRecipient *common.Address
	GatewayFee          *big.Int
	Value               *big.Int
	Data                []byte
	ChainID             *uint64
}

// Copy returns a shallow copy of r. Pointed-to values are never mutated in place.
func (r *TxRequest) Copy() *TxRequest {
	c := *r
	return &c
}

// Transaction converts a populated request into a codec transaction.
func (r *TxRequest) Transaction() (*txcodec.Transaction, error) {
	var missing []string
	if r.Nonce == nil {
		missing = append(missing, "nonce")
	}
	if r.GasPrice == nil {
		missing = append(missing, "gasPrice")
	}
	if r.GasLimit == nil {
		missing = append(missing, "gas")
	}
	if r.ChainID == nil {
		missing = append(missing, "chainId")
	}
	if len(missing) > 0 {
		return nil, errors.Wrapf(ErrIncomplete, "%v", missing)
	}

	value := r.Value
	if value == nil {
		value = new(big.Int)
	}

	return &txcodec.Transaction{
		Nonce:               *r.Nonce,
		GasPrice:            r.GasPrice,
		GasLimit:            *r.GasLimit,
		FeeCurrency:         r.FeeCurrency,
		GatewayFeeRecipient: r.GatewayFeeRecipient,
		GatewayFee:          r.GatewayFee,
		To:                  r.To,
		Value:               value,
		Data:                r.Data,
		ChainID:             *r.ChainID,
	}, nil
}

// SignedTransaction is the wire form of a signed transaction and its decoded view.
type SignedTransaction struct {
	Raw         []byte
	Hash        common.Hash
	Transaction *txcodec.Transaction
}

func ptr[T any](v T) *T {
	return &v
}
