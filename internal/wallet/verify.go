package wallet

import (
	"context"

	"github.com/chapool/go-wallet-signer/internal/wallet/address"
	"github.com/chapool/go-wallet-signer/internal/wallet/keystore"
	"github.com/chapool/go-wallet-signer/internal/wallet/seed"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// VerifyPasswordByAddress derives the account at path from the loaded seed and compares
// it with the address recorded in the keystore. Keystores without a recorded address
// are accepted.
func VerifyPasswordByAddress(ctx context.Context, seedManager seed.Manager, addressService address.Service, ks *keystore.Keystore, path string) (bool, error) {
	log := log.With().Str("component", "password_verification").Logger()

	seedBytes := seedManager.GetSeed()
	if seedBytes == nil {
		return false, seed.ErrNotInitialized
	}

	derived, err := addressService.DeriveAddress(ctx, seedBytes, path)
	if err != nil {
		log.Error().Err(err).Msg("Failed to derive verification address")
		return false, errors.Wrap(err, "failed to derive verification address")
	}

	stored := ks.Address()
	if stored == (common.Address{}) {
		log.Info().Msg("No verification address recorded in keystore")
		return true, nil
	}

	if derived != stored {
		log.Warn().
			Str("derived", derived.Hex()).
			Str("stored", stored.Hex()).
			Msg("Password verification failed: addresses do not match")
		return false, nil
	}

	return true, nil
}
