package chain

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type dialFunc func(ctx context.Context, url string) (*rpc.Client, error)

// RPCClient talks to a list of node endpoints and fails over to the next one when an
// endpoint cannot be reached. Errors reported by a node are returned as is.
type RPCClient struct {
	urls    []string
	clients []*rpc.Client
	dial    dialFunc
	mu      sync.Mutex
	current int

	feeCurrencyGasMultiplier uint64
}

var _ Client = (*RPCClient)(nil)

// NewRPCClient creates a client over urls. Endpoints are dialed lazily.
func NewRPCClient(urls []string, feeCurrencyGasMultiplier uint64) (*RPCClient, error) {
	return newRPCClient(urls, feeCurrencyGasMultiplier, rpc.DialContext)
}

func newRPCClient(urls []string, feeCurrencyGasMultiplier uint64, dial dialFunc) (*RPCClient, error) {
	if len(urls) == 0 {
		return nil, ErrNoEndpoints
	}
	if feeCurrencyGasMultiplier == 0 {
		feeCurrencyGasMultiplier = 1
	}

	return &RPCClient{
		urls:                     urls,
		clients:                  make([]*rpc.Client, len(urls)),
		dial:                     dial,
		feeCurrencyGasMultiplier: feeCurrencyGasMultiplier,
	}, nil
}

// Close closes all endpoint connections
func (c *RPCClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, client := range c.clients {
		if client != nil {
			client.Close()
			c.clients[i] = nil
		}
	}
}

func (c *RPCClient) ChainID(ctx context.Context) (uint64, error) {
	var chainID hexutil.Uint64
	if err := c.call(ctx, &chainID, "eth_chainId"); err != nil {
		return 0, errors.Wrap(err, "failed to get chain ID")
	}

	return uint64(chainID), nil
}

func (c *RPCClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var nonce hexutil.Uint64
	if err := c.call(ctx, &nonce, "eth_getTransactionCount", account, "pending"); err != nil {
		return 0, errors.Wrap(err, "failed to get pending nonce")
	}

	return uint64(nonce), nil
}

func (c *RPCClient) GasPrice(ctx context.Context, feeCurrency *common.Address) (*big.Int, error) {
	args := []interface{}{}
	if feeCurrency != nil {
		args = append(args, feeCurrency)
	}

	var price hexutil.Big
	if err := c.call(ctx, &price, "eth_gasPrice", args...); err != nil {
		return nil, errors.Wrap(err, "failed to get gas price")
	}

	return (*big.Int)(&price), nil
}

type callArgs struct {
	From        *common.Address `json:"from,omitempty"`
	To          *common.Address `json:"to,omitempty"`
	FeeCurrency *common.Address `json:"feeCurrency,omitempty"`
	GasPrice    *hexutil.Big    `json:"gasPrice,omitempty"`
	Value       *hexutil.Big    `json:"value,omitempty"`
	Data        hexutil.Bytes   `json:"data,omitempty"`
}

func (c *RPCClient) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	args := callArgs{
		From:        msg.From,
		To:          msg.To,
		FeeCurrency: msg.FeeCurrency,
		GasPrice:    (*hexutil.Big)(msg.GasPrice),
		Value:       (*hexutil.Big)(msg.Value),
		Data:        msg.Data,
	}

	var gas hexutil.Uint64
	if err := c.call(ctx, &gas, "eth_estimateGas", args); err != nil {
		return 0, errors.Wrap(err, "failed to estimate gas")
	}

	// node estimates undershoot for transfers paying fees in a stable token
	if msg.FeeCurrency != nil {
		return uint64(gas) * c.feeCurrencyGasMultiplier, nil
	}

	return uint64(gas), nil
}

func (c *RPCClient) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	var hash common.Hash
	if err := c.call(ctx, &hash, "eth_sendRawTransaction", hexutil.Bytes(raw)); err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to send transaction")
	}

	return hash, nil
}

// call runs method on the current endpoint, moving on to the next one while the failure
// is a connectivity problem.
func (c *RPCClient) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	var lastErr error

	for i := 0; i < len(c.urls); i++ {
		idx, client, err := c.clientAt(ctx, i)
		if err != nil {
			lastErr = err
			continue
		}

		err = client.CallContext(ctx, result, method, args...)
		if err == nil {
			c.setCurrent(idx)
			return nil
		}

		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) || ctx.Err() != nil {
			return err
		}

		log.Warn().
			Str("url", c.urls[idx]).
			Str("method", method).
			Err(err).
			Msg("RPC endpoint failed, trying next")
		c.drop(idx, client)
		lastErr = err
	}

	return errors.Wrap(lastErr, "all RPC endpoints are unavailable")
}

func (c *RPCClient) clientAt(ctx context.Context, offset int) (int, *rpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := (c.current + offset) % len(c.urls)
	if c.clients[idx] != nil {
		return idx, c.clients[idx], nil
	}

	client, err := c.dial(ctx, c.urls[idx])
	if err != nil {
		log.Warn().
			Str("url", c.urls[idx]).
			Err(err).
			Msg("Failed to connect to RPC node")
		return idx, nil, errors.Wrapf(err, "failed to dial %s", c.urls[idx])
	}
	c.clients[idx] = client

	return idx, client, nil
}

func (c *RPCClient) setCurrent(idx int) {
	c.mu.Lock()
	c.current = idx
	c.mu.Unlock()
}

func (c *RPCClient) drop(idx int, client *rpc.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.clients[idx] == client {
		client.Close()
		c.clients[idx] = nil
	}
}
