package rpc

import (
	"context"

	"github.com/chapool/go-wallet-signer/internal/util"
	"github.com/chapool/go-wallet-signer/internal/wallet/signer"
	"github.com/chapool/go-wallet-signer/internal/wallet/txcodec"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

// Signers yields the active signer. signer.Registry satisfies it.
type Signers interface {
	Active() (signer.Identity, signer.Signer, error)
}

// Broadcaster submits a signed transaction to the network. chain.Client satisfies it.
type Broadcaster interface {
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
}

// Unlocker is implemented by signers that need a password before signing.
type Unlocker interface {
	Locked() bool
	Unlock(ctx context.Context, password string) error
}

// SignedTransactionResult is the sign_transaction result: the raw bytes and the decoded
// transaction.
type SignedTransactionResult struct {
	Raw hexutil.Bytes        `json:"raw"`
	Tx  *txcodec.Transaction `json:"tx"`
}

// Dispatcher routes approved calls to the active signer.
type Dispatcher struct {
	signers     Signers
	broadcaster Broadcaster
}

func NewDispatcher(signers Signers, broadcaster Broadcaster) *Dispatcher {
	return &Dispatcher{signers: signers, broadcaster: broadcaster}
}

// Handle dispatches call and shapes the outcome into a reply. It never fails: every
// error becomes an error reply.
func (d *Dispatcher) Handle(ctx context.Context, call *Call, password string) *Reply {
	result, err := d.Dispatch(ctx, call, password)
	if err != nil {
		util.LogFromContext(ctx).Debug().Err(err).
			Uint64("request_id", call.Request.ID).
			Str("method", call.Method.String()).
			Msg("Request failed")
		return NewErrorReply(call.Request.ID, err)
	}

	return NewResult(call.Request.ID, result)
}

// Dispatch runs call against the active signer. password unlocks a locked signer.
func (d *Dispatcher) Dispatch(ctx context.Context, call *Call, password string) (any, error) {
	_, s, err := d.signers.Active()
	if err != nil {
		return nil, err
	}

	if !call.Method.Implemented() {
		return nil, errors.Wrapf(ErrUnsupportedMethod, "method %q", call.Method)
	}

	addr, err := s.GetAddress(ctx)
	if err != nil {
		return nil, err
	}

	if call.Method == MethodAccounts {
		return []common.Address{addr}, nil
	}

	if err := unlock(ctx, s, password); err != nil {
		return nil, err
	}

	switch call.Method {
	case MethodSign, MethodPersonalSign:
		if call.Account != nil && *call.Account != addr {
			return nil, invalidParams("account %s is not the active account", call.Account.Hex())
		}
		sig, err := s.SignMessage(ctx, call.Message)
		if err != nil {
			return nil, err
		}
		return sig.Hex(), nil

	case MethodSignTransaction:
		signed, err := d.signTransaction(ctx, s, call.Tx)
		if err != nil {
			return nil, err
		}
		return &SignedTransactionResult{Raw: signed.Raw, Tx: signed.Transaction}, nil

	case MethodSendTransaction:
		if d.broadcaster == nil {
			return nil, errors.New("no network to broadcast to")
		}
		signed, err := d.signTransaction(ctx, s, call.Tx)
		if err != nil {
			return nil, err
		}
		hash, err := d.broadcaster.SendRawTransaction(ctx, signed.Raw)
		if err != nil {
			return nil, errors.Wrap(err, "failed to broadcast transaction")
		}
		util.LogFromContext(ctx).Info().Str("hash", hash.Hex()).Msg("Transaction broadcast")
		return hash, nil

	case MethodUnknown, MethodAccounts, MethodComputeSharedSecret, MethodPersonalDecrypt, MethodSignTypedData:
	}

	return nil, errors.Wrapf(ErrUnsupportedMethod, "method %q", call.Method)
}

func (d *Dispatcher) signTransaction(ctx context.Context, s signer.Signer, tx *signer.TxRequest) (*signer.SignedTransaction, error) {
	if tx == nil {
		return nil, invalidParams("transaction is required")
	}

	populated, err := s.PopulateTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}

	return s.SignTransaction(ctx, populated)
}

func unlock(ctx context.Context, s signer.Signer, password string) error {
	u, ok := s.(Unlocker)
	if !ok || !u.Locked() {
		return nil
	}
	if password == "" {
		return signer.ErrLocked
	}

	return u.Unlock(ctx, password)
}
