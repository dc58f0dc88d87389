package wallet

import (
	"context"
	"fmt"
	"os"

	"github.com/chapool/go-wallet-signer/internal/wallet/keystore"
	"github.com/chapool/go-wallet-signer/internal/wallet/seed"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// PromptFunc asks the user for a secret
type PromptFunc func(prompt string) (string, error)

// InitializeKeystore makes sure a keystore exists. Without one, a fresh 24 word mnemonic
// is generated, shown once through show, and encrypted with a password read through
// prompt. An existing keystore is left untouched.
func InitializeKeystore(ctx context.Context, walletService Service, prompt PromptFunc, show func(mnemonic string)) (*Account, error) {
	log := log.With().Str("component", "wallet_init").Logger()

	account, err := walletService.Account(ctx)
	if err == nil {
		log.Info().Str("address", account.Address.Hex()).Msg("Keystore found")
		return account, nil
	}
	if !errors.Is(err, keystore.ErrKeystoreNotFound) {
		return nil, errors.Wrap(err, "failed to load keystore")
	}

	log.Info().Msg("Keystore not found. Generating new mnemonic...")

	mnemonic, err := seed.NewMnemonic()
	if err != nil {
		return nil, err
	}

	password, err := prompt(fmt.Sprintf("Enter password for keystore (min %d characters): ", minPasswordLength))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read password")
	}
	if len(password) < minPasswordLength {
		return nil, ErrPasswordTooShort
	}

	passwordConfirm, err := prompt("Confirm password: ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to read password confirmation")
	}
	if password != passwordConfirm {
		return nil, ErrPasswordMismatch
	}

	account, err = walletService.Create(ctx, mnemonic, password)
	if err != nil {
		return nil, err
	}

	show(mnemonic)

	return account, nil
}

// TerminalPrompt reads a password from the terminal without echoing it
//
//nolint:forbidigo // Password input requires direct terminal I/O
func TerminalPrompt(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", errors.Wrap(err, "failed to read password from terminal")
	}

	fmt.Fprintln(os.Stderr)

	return string(passwordBytes), nil
}
