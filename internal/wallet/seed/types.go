package seed

import "github.com/pkg/errors"

var (
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
	ErrNotInitialized  = errors.New("seed not initialized")
)

// Manager holds the BIP39 seed of the signing wallet in memory.
type Manager interface {
	// Initialize validates the mnemonic and stores the derived seed
	Initialize(mnemonic string, password string) error

	// GetSeed returns a copy of the seed, nil before Initialize
	GetSeed() []byte

	IsInitialized() bool

	// Clear zeroes the seed
	Clear()
}
