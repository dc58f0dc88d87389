package signer

import (
	"context"

	"github.com/chapool/go-wallet-signer/internal/util"
	"github.com/chapool/go-wallet-signer/internal/wallet/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// populate fills the fields a node has to provide. An explicit chain id has to agree with
// chainID; an explicit from has to be the signer's account.
func populate(ctx context.Context, req *TxRequest, from common.Address, chainID uint64, network NetworkSource) (*TxRequest, error) {
	if req.From != nil && *req.From != from {
		return nil, errors.Wrapf(ErrFromAddressMismatch, "request from %s, signer %s", req.From.Hex(), from.Hex())
	}
	if req.ChainID != nil && *req.ChainID != chainID {
		return nil, errors.Wrapf(ErrChainMismatch, "request chain %d, configured chain %d", *req.ChainID, chainID)
	}

	out := req.Copy()
	out.From = &from
	out.ChainID = ptr(chainID)

	if out.Nonce != nil && out.GasPrice != nil && out.GasLimit != nil {
		return out, nil
	}
	if network == nil {
		return nil, ErrNoNetwork
	}

	log := util.LogFromContext(ctx)

	if out.Nonce == nil {
		nonce, err := network.PendingNonceAt(ctx, from)
		if err != nil {
			return nil, errors.Wrap(err, "failed to get nonce")
		}
		out.Nonce = &nonce
	}

	if out.GasPrice == nil {
		price, err := network.GasPrice(ctx, out.FeeCurrency)
		if err != nil {
			return nil, errors.Wrap(err, "failed to get gas price")
		}
		out.GasPrice = price
	}

	if out.GasLimit == nil {
		gas, err := network.EstimateGas(ctx, chain.CallMsg{
			From:        &from,
			To:          out.To,
			FeeCurrency: out.FeeCurrency,
			GasPrice:    out.GasPrice,
			Value:       out.Value,
			Data:        out.Data,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to estimate gas")
		}
		out.GasLimit = &gas
	}

	log.Debug().
		Uint64("nonce", *out.Nonce).
		Str("gas_price", out.GasPrice.String()).
		Uint64("gas", *out.GasLimit).
		Uint64("chain_id", chainID).
		Msg("Transaction populated")

	return out, nil
}
