package keystore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/chapool/go-wallet-signer/internal/util"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const (
	fileMode = 0o600
	dirMode  = 0o700
)

type service struct {
	path   string
	params ScryptParams
}

// NewService creates a keystore Service persisting to a single JSON file at path
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewService(path string, params ScryptParams) Service {
	return &service{
		path:   path,
		params: params,
	}
}

func (s *service) CreateKeystore(ctx context.Context, mnemonic string, password string, address common.Address) (*Keystore, error) {
	log := util.LogFromContext(ctx)

	exists, err := s.Exists(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check keystore existence")
	}
	if exists {
		return nil, ErrKeystoreExists
	}

	keystoreJSON, err := encryptMnemonic(mnemonic, password, address, s.params)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encrypt mnemonic")
		return nil, errors.Wrap(err, "failed to encrypt mnemonic")
	}

	data, err := json.MarshalIndent(keystoreJSON, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal keystore JSON")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), dirMode); err != nil {
		return nil, errors.Wrap(err, "failed to create keystore directory")
	}

	// write to a sibling file first so a crash never leaves a truncated keystore behind
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, fileMode); err != nil {
		return nil, errors.Wrap(err, "failed to write keystore")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return nil, errors.Wrap(err, "failed to move keystore into place")
	}

	log.Info().Str("path", s.path).Str("id", keystoreJSON.ID).Msg("Keystore created")

	return &Keystore{Path: s.path, KeystoreJSON: *keystoreJSON}, nil
}

func (s *service) DecryptMnemonic(ctx context.Context, keystore *Keystore, password string) (string, error) {
	mnemonic, err := decryptMnemonic(&keystore.KeystoreJSON, password)
	if err != nil {
		if !errors.Is(err, ErrInvalidPassword) {
			util.LogFromContext(ctx).Error().Err(err).Str("path", keystore.Path).Msg("Failed to decrypt mnemonic")
		}
		return "", errors.Wrap(err, "failed to decrypt mnemonic")
	}

	return mnemonic, nil
}

func (s *service) GetKeystore(_ context.Context) (*Keystore, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrKeystoreNotFound
		}
		return nil, errors.Wrap(err, "failed to read keystore")
	}

	var keystoreJSON KeystoreJSON
	if err := json.Unmarshal(data, &keystoreJSON); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal keystore JSON")
	}
	if keystoreJSON.Version != keystoreVersion {
		return nil, errors.Errorf("unsupported keystore version %d", keystoreJSON.Version)
	}

	return &Keystore{Path: s.path, KeystoreJSON: keystoreJSON}, nil
}

func (s *service) Exists(_ context.Context) (bool, error) {
	_, err := os.Stat(s.path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, errors.Wrap(err, "failed to stat keystore")
	}
}
