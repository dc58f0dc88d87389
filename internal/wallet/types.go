package wallet

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const minPasswordLength = 8

var (
	ErrPasswordTooShort   = errors.Errorf("password must be at least %d characters", minPasswordLength)
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrVerificationFailed = errors.New("derived address does not match the keystore address")
)

// Account describes the local wallet account kept in the keystore
type Account struct {
	Address        common.Address
	DerivationPath string
	KeystorePath   string
}
