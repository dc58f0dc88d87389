package address

import (
	"context"
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// CeloCoinType is the SLIP-44 coin type registered for Celo
	CeloCoinType = 52752
	// EthereumCoinType is accepted for keys shared with Ethereum wallets
	EthereumCoinType = 60

	hardenedOffset = 0x80000000
)

// Service derives signing keys and addresses from a BIP39 seed.
type Service interface {
	// DeriveAddress derives the account address at path
	DeriveAddress(ctx context.Context, seed []byte, path string) (common.Address, error)

	// DerivePrivateKey derives the private key at path
	// WARNING: Caller must clear the private key after use (see ZeroKey)
	DerivePrivateKey(ctx context.Context, seed []byte, path string) (*ecdsa.PrivateKey, error)

	// GetBIP44Path formats the account path for the given address index
	GetBIP44Path(addressIndex int) string
}
