package wallet

import (
	"context"
	"crypto/ecdsa"

	"github.com/chapool/go-wallet-signer/internal/util"
	"github.com/chapool/go-wallet-signer/internal/wallet/address"
	"github.com/chapool/go-wallet-signer/internal/wallet/keystore"
	"github.com/chapool/go-wallet-signer/internal/wallet/seed"
	"github.com/chapool/go-wallet-signer/internal/wallet/signer"
	"github.com/pkg/errors"
)

// Service manages the locally held wallet: the encrypted mnemonic on disk and the
// account derived from it.
type Service interface {
	// Create encrypts mnemonic with password and stores it. The mnemonic is not
	// retained in memory afterwards.
	Create(ctx context.Context, mnemonic string, password string) (*Account, error)

	// Account reads the account recorded in the keystore without decrypting it
	Account(ctx context.Context) (*Account, error)

	// Unlock decrypts the keystore and derives the signing key.
	// WARNING: Caller must clear the private key after use (see address.ZeroKey)
	Unlock(ctx context.Context, password string) (*ecdsa.PrivateKey, error)

	// Signer returns a locked local signer for the account
	Signer(ctx context.Context, chainID uint64, network signer.NetworkSource) (*signer.LocalSigner, error)
}

type service struct {
	keystoreService keystore.Service
	seedManager     seed.Manager
	addressService  address.Service
	derivationPath  string
}

// NewService creates a new wallet Service
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewService(keystoreService keystore.Service, seedManager seed.Manager, addressService address.Service, derivationPath string) Service {
	return &service{
		keystoreService: keystoreService,
		seedManager:     seedManager,
		addressService:  addressService,
		derivationPath:  derivationPath,
	}
}

func (s *service) Create(ctx context.Context, mnemonic string, password string) (*Account, error) {
	log := util.LogFromContext(ctx).With().Str("component", "wallet").Logger()

	if len(password) < minPasswordLength {
		return nil, ErrPasswordTooShort
	}

	// The mnemonic is the only secret; the keystore password never becomes a BIP39 passphrase.
	if err := s.seedManager.Initialize(mnemonic, ""); err != nil {
		return nil, err
	}
	defer s.seedManager.Clear()

	addr, err := s.addressService.DeriveAddress(ctx, s.seedManager.GetSeed(), s.derivationPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive account address")
	}

	ks, err := s.keystoreService.CreateKeystore(ctx, seed.NormalizeMnemonic(mnemonic), password, addr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create keystore")
	}

	log.Info().Str("address", addr.Hex()).Str("path", ks.Path).Msg("Keystore created")

	return &Account{Address: addr, DerivationPath: s.derivationPath, KeystorePath: ks.Path}, nil
}

func (s *service) Account(ctx context.Context) (*Account, error) {
	ks, err := s.keystoreService.GetKeystore(ctx)
	if err != nil {
		return nil, err
	}

	return &Account{Address: ks.Address(), DerivationPath: s.derivationPath, KeystorePath: ks.Path}, nil
}

func (s *service) Unlock(ctx context.Context, password string) (*ecdsa.PrivateKey, error) {
	ks, err := s.keystoreService.GetKeystore(ctx)
	if err != nil {
		return nil, err
	}

	mnemonic, err := s.keystoreService.DecryptMnemonic(ctx, ks, password)
	if err != nil {
		return nil, err
	}

	if err := s.seedManager.Initialize(mnemonic, ""); err != nil {
		return nil, err
	}
	defer s.seedManager.Clear()

	valid, err := VerifyPasswordByAddress(ctx, s.seedManager, s.addressService, ks, s.derivationPath)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, ErrVerificationFailed
	}

	key, err := s.addressService.DerivePrivateKey(ctx, s.seedManager.GetSeed(), s.derivationPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive signing key")
	}

	return key, nil
}

func (s *service) Signer(ctx context.Context, chainID uint64, network signer.NetworkSource) (*signer.LocalSigner, error) {
	account, err := s.Account(ctx)
	if err != nil {
		return nil, err
	}

	return signer.NewLockedLocalSigner(account.Address, chainID, network, s.Unlock), nil
}
