package signer

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"

	"github.com/chapool/go-wallet-signer/internal/wallet/address"
	"github.com/chapool/go-wallet-signer/internal/wallet/txcodec"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// UnlockFunc recovers the private key of a locked LocalSigner.
type UnlockFunc func(ctx context.Context, password string) (*ecdsa.PrivateKey, error)

// LocalSigner signs in process with a key derived from the wallet mnemonic.
type LocalSigner struct {
	address common.Address
	chainID uint64
	network NetworkSource
	unlock  UnlockFunc

	mu  sync.RWMutex
	key *ecdsa.PrivateKey
}

var _ Signer = (*LocalSigner)(nil)

// NewLocalSigner creates an unlocked signer. The signer takes ownership of key.
func NewLocalSigner(key *ecdsa.PrivateKey, chainID uint64, network NetworkSource) *LocalSigner {
	return &LocalSigner{
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		network: network,
		key:     key,
	}
}

// NewLockedLocalSigner creates a signer for account that needs Unlock before signing.
func NewLockedLocalSigner(account common.Address, chainID uint64, network NetworkSource, unlock UnlockFunc) *LocalSigner {
	return &LocalSigner{
		address: account,
		chainID: chainID,
		network: network,
		unlock:  unlock,
	}
}

// Unlock recovers the key with password. Unlocking an unlocked signer is a no-op.
func (s *LocalSigner) Unlock(ctx context.Context, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key != nil {
		return nil
	}
	if s.unlock == nil {
		return ErrLocked
	}

	key, err := s.unlock(ctx, password)
	if err != nil {
		return errors.Wrap(err, "failed to unlock signer")
	}
	if crypto.PubkeyToAddress(key.PublicKey) != s.address {
		address.ZeroKey(key)
		return errors.Wrap(ErrLocked, "unlocked key does not match account")
	}
	s.key = key

	return nil
}

// Lock drops the key. Only signers created with an UnlockFunc can be unlocked again.
func (s *LocalSigner) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()

	address.ZeroKey(s.key)
	s.key = nil
}

func (s *LocalSigner) Locked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.key == nil
}

func (s *LocalSigner) GetAddress(context.Context) (common.Address, error) {
	return s.address, nil
}

func (s *LocalSigner) SignMessage(_ context.Context, message []byte) (txcodec.Signature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.key == nil {
		return txcodec.Signature{}, ErrLocked
	}

	raw, err := crypto.Sign(accounts.TextHash(message), s.key)
	if err != nil {
		return txcodec.Signature{}, errors.Wrap(err, "failed to sign message")
	}

	return txcodec.SignatureFromBytes(raw)
}

func (s *LocalSigner) SignTransaction(_ context.Context, req *TxRequest) (*SignedTransaction, error) {
	if req.From != nil && *req.From != s.address {
		return nil, ErrFromAddressMismatch
	}

	tx, err := req.Transaction()
	if err != nil {
		return nil, err
	}

	hash, err := txcodec.SigningHash(tx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.key == nil {
		return nil, ErrLocked
	}

	raw, err := crypto.Sign(hash.Bytes(), s.key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction")
	}

	sig, err := txcodec.SignatureFromBytes(raw)
	if err != nil {
		return nil, err
	}

	return finalize(tx, sig)
}

func (s *LocalSigner) PopulateTransaction(ctx context.Context, req *TxRequest) (*TxRequest, error) {
	return populate(ctx, req, s.address, s.chainID, s.network)
}

// Connect returns a signer sharing the account and unlock function but bound to network.
// The copy starts locked unless s is unlocked.
func (s *LocalSigner) Connect(network NetworkSource) (Signer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := &LocalSigner{
		address: s.address,
		chainID: s.chainID,
		network: network,
		unlock:  s.unlock,
	}
	if s.key != nil {
		key := *s.key
		key.D = new(big.Int).Set(s.key.D)
		c.key = &key
	}

	return c, nil
}

// finalize attaches sig to tx and decodes the result to fill sender and hash.
func finalize(tx *txcodec.Transaction, sig txcodec.Signature) (*SignedTransaction, error) {
	raw, err := txcodec.Encode(tx, &sig)
	if err != nil {
		return nil, err
	}

	decoded, err := txcodec.Decode(raw)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode signed transaction")
	}
	if !decoded.Signed() {
		return nil, errors.New("signed transaction has no recoverable sender")
	}

	return &SignedTransaction{
		Raw:         raw,
		Hash:        *decoded.Hash,
		Transaction: decoded,
	}, nil
}
