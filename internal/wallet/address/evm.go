package address

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip32"
)

var ErrInvalidPath = errors.New("invalid derivation path")

type service struct {
	coinType uint32
}

// NewService creates a new address Service deriving under m/44'/coinType'.
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewService(coinType uint32) Service {
	return &service{coinType: coinType}
}

// DeriveAddress derives an address from seed and BIP44 path
func (s *service) DeriveAddress(ctx context.Context, seed []byte, path string) (common.Address, error) {
	privateKey, err := s.DerivePrivateKey(ctx, seed, path)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "failed to derive private key")
	}
	defer ZeroKey(privateKey)

	return crypto.PubkeyToAddress(privateKey.PublicKey), nil
}

// DerivePrivateKey derives a private key from seed and BIP44 path
func (s *service) DerivePrivateKey(_ context.Context, seed []byte, path string) (*ecdsa.PrivateKey, error) {
	masterKey, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create master key")
	}

	derivedKey, err := deriveKeyFromPath(masterKey, path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive key from path")
	}

	keyBytes := derivedKey.Key
	defer func() {
		for i := range keyBytes {
			keyBytes[i] = 0
		}
	}()

	privateKey, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert to ECDSA private key")
	}

	return privateKey, nil
}

// GetBIP44Path gets the BIP44 path m/44'/{coin}'/0'/0/{index}
func (s *service) GetBIP44Path(addressIndex int) string {
	return fmt.Sprintf("m/44'/%d'/0'/0/%d", s.coinType, addressIndex)
}

// ZeroKey clears the scalar of a private key.
func ZeroKey(key *ecdsa.PrivateKey) {
	if key == nil || key.D == nil {
		return
	}
	key.D.SetInt64(0)
}

func deriveKeyFromPath(masterKey *bip32.Key, path string) (*bip32.Key, error) {
	indices, err := ParsePath(path)
	if err != nil {
		return nil, err
	}

	key := masterKey
	for _, index := range indices {
		key, err = key.NewChildKey(index)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to derive child key at index %d", index)
		}
	}

	return key, nil
}

// ParsePath parses a BIP32 path string into child indices.
// Example: "m/44'/52752'/0'/0/0" -> [0x8000002c, 0x8000ce10, 0x80000000, 0, 0]
func ParsePath(path string) ([]uint32, error) {
	path = strings.TrimSpace(path)
	if path == "" || path[0] != 'm' {
		return nil, errors.Wrapf(ErrInvalidPath, "%q must start with m", path)
	}

	rest := strings.TrimPrefix(strings.TrimPrefix(path, "m"), "/")
	if rest == "" {
		return []uint32{}, nil
	}

	parts := strings.Split(rest, "/")
	indices := make([]uint32, 0, len(parts))
	for _, part := range parts {
		hardened := strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h")
		if hardened {
			part = part[:len(part)-1]
		}

		index, err := strconv.ParseUint(part, 10, 32)
		if err != nil || index >= hardenedOffset {
			return nil, errors.Wrapf(ErrInvalidPath, "invalid path segment %q", part)
		}

		if hardened {
			index += hardenedOffset
		}
		indices = append(indices, uint32(index))
	}

	return indices, nil
}
