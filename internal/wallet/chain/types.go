package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var ErrNoEndpoints = errors.New("at least one RPC URL is required")

// Client is the subset of the node JSON-RPC API the wallet needs
type Client interface {
	ChainID(ctx context.Context) (uint64, error)

	// PendingNonceAt returns the next nonce for account including pending transactions
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)

	// GasPrice suggests a gas price, denominated in feeCurrency when set
	GasPrice(ctx context.Context, feeCurrency *common.Address) (*big.Int, error)

	// EstimateGas estimates the gas limit of msg. Estimates for transactions paying fees in
	// a non-native currency are scaled by the configured multiplier.
	EstimateGas(ctx context.Context, msg CallMsg) (uint64, error)

	// SendRawTransaction broadcasts an RLP encoded signed transaction
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)

	Close()
}

// CallMsg describes a transaction for gas estimation
type CallMsg struct {
	From        *common.Address
	To          *common.Address
	FeeCurrency *common.Address
	GasPrice    *big.Int
	Value       *big.Int
	Data        []byte
}
