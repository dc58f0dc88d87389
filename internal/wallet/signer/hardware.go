package signer

import (
	"context"
	"sync"

	"github.com/chapool/go-wallet-signer/internal/util"
	"github.com/chapool/go-wallet-signer/internal/wallet/address"
	"github.com/chapool/go-wallet-signer/internal/wallet/hardware"
	"github.com/chapool/go-wallet-signer/internal/wallet/txcodec"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// HardwareConfig configures a HardwareSigner.
type HardwareConfig struct {
	DerivationPath  string
	ChainID         uint64
	RequiredVersion hardware.Version
	Transports      []hardware.TransportKind
	Tokens          []hardware.Token
}

// HardwareSigner signs on a device running the Celo app. Every device operation runs
// through the retrier and the signer serializes access to the device.
type HardwareSigner struct {
	cfg     HardwareConfig
	path    []uint32
	opener  hardware.Opener
	retrier *hardware.Retrier
	network NetworkSource

	mu      sync.Mutex
	app     *hardware.App
	address *common.Address
	version hardware.Version
}

var _ Signer = (*HardwareSigner)(nil)

func NewHardwareSigner(cfg HardwareConfig, opener hardware.Opener, retrier *hardware.Retrier, network NetworkSource) (*HardwareSigner, error) {
	path, err := address.ParsePath(cfg.DerivationPath)
	if err != nil {
		return nil, err
	}

	return &HardwareSigner{
		cfg:     cfg,
		path:    path,
		opener:  opener,
		retrier: retrier,
		network: network,
	}, nil
}

// Init opens the device, checks the app and reads the account address.
func (s *HardwareSigner) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.app != nil {
		return nil
	}

	transport, err := hardware.SelectTransport(s.opener, s.cfg.Transports)
	if err != nil {
		return err
	}
	app := hardware.NewApp(transport)

	var appCfg hardware.AppConfiguration
	err = s.retrier.Perform(ctx, "get_app_configuration", func(ctx context.Context) error {
		var err error
		appCfg, err = app.GetAppConfiguration(ctx)
		return err
	})
	if err != nil {
		_ = app.Close()
		return err
	}

	if !appCfg.Version.AtLeast(s.cfg.RequiredVersion) {
		_ = app.Close()
		return errors.Wrapf(hardware.ErrUnsupportedAppVersion, "app %s, required %s", appCfg.Version, s.cfg.RequiredVersion)
	}
	if !appCfg.ArbitraryDataEnabled {
		_ = app.Close()
		return hardware.ErrArbitraryDataDisabled
	}

	var addr common.Address
	err = s.retrier.Perform(ctx, "get_address", func(ctx context.Context) error {
		var err error
		addr, err = app.GetAddress(ctx, s.path, false)
		return err
	})
	if err != nil {
		_ = app.Close()
		return err
	}

	s.app = app
	s.address = &addr
	s.version = appCfg.Version

	util.LogFromContext(ctx).Info().
		Str("address", addr.Hex()).
		Str("app_version", appCfg.Version.String()).
		Msg("Hardware signer initialized")

	return nil
}

// Close releases the device.
func (s *HardwareSigner) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.app == nil {
		return nil
	}

	err := s.app.Close()
	s.app = nil
	s.address = nil

	return err
}

func (s *HardwareSigner) GetAddress(context.Context) (common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.address == nil {
		return common.Address{}, ErrNotInitialized
	}

	return *s.address, nil
}

func (s *HardwareSigner) SignMessage(ctx context.Context, message []byte) (txcodec.Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.app == nil {
		return txcodec.Signature{}, ErrNotInitialized
	}

	var sig txcodec.Signature
	err := s.retrier.Perform(ctx, "sign_personal_message", func(ctx context.Context) error {
		var err error
		sig, err = s.app.SignPersonalMessage(ctx, s.path, message)
		return err
	})
	if err != nil {
		return txcodec.Signature{}, err
	}

	return sig, nil
}

func (s *HardwareSigner) SignTransaction(ctx context.Context, req *TxRequest) (*SignedTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.app == nil {
		return nil, ErrNotInitialized
	}
	if req.From != nil && *req.From != *s.address {
		return nil, ErrFromAddressMismatch
	}

	tx, err := req.Transaction()
	if err != nil {
		return nil, err
	}

	if err := s.provideTokens(ctx, tx); err != nil {
		return nil, err
	}

	preimage, err := txcodec.Encode(tx, nil)
	if err != nil {
		return nil, err
	}

	var sig txcodec.Signature
	err = s.retrier.Perform(ctx, "sign_transaction", func(ctx context.Context) error {
		var err error
		sig, err = s.app.SignTransaction(ctx, s.path, preimage)
		return err
	})
	if err != nil {
		return nil, err
	}

	rec, err := deviceRecoveryParam(byte(sig.V), tx.ChainID)
	if err != nil {
		return nil, err
	}
	sig.V = uint64(rec)

	signed, err := finalize(tx, sig)
	if err != nil {
		return nil, err
	}
	if *signed.Transaction.From != *s.address {
		return nil, errors.Errorf("device signed for %s, expected %s", signed.Transaction.From.Hex(), s.address.Hex())
	}

	return signed, nil
}

func (s *HardwareSigner) PopulateTransaction(ctx context.Context, req *TxRequest) (*TxRequest, error) {
	from, err := s.GetAddress(ctx)
	if err != nil {
		return nil, err
	}

	return populate(ctx, req, from, s.cfg.ChainID, s.network)
}

// Connect always fails, a device account cannot be rebound.
func (s *HardwareSigner) Connect(NetworkSource) (Signer, error) {
	return nil, ErrConnectUnsupported
}

// provideTokens sends the descriptors of known tokens referenced by tx so the device can
// render amounts. Each distinct token is sent once.
func (s *HardwareSigner) provideTokens(ctx context.Context, tx *txcodec.Transaction) error {
	provided := make(map[common.Address]struct{}, 2)

	for _, addr := range []*common.Address{tx.To, tx.FeeCurrency} {
		if addr == nil {
			continue
		}
		if _, ok := provided[*addr]; ok {
			continue
		}

		token, ok := s.lookupToken(*addr, tx.ChainID)
		if !ok {
			continue
		}

		err := s.retrier.Perform(ctx, "provide_erc20", func(ctx context.Context) error {
			return s.app.ProvideERC20TokenInformation(ctx, token)
		})
		if err != nil {
			return err
		}
		provided[*addr] = struct{}{}

		log.Debug().Str("token", token.Symbol).Str("address", token.Address.Hex()).Msg("Token information provided to device")
	}

	return nil
}

func (s *HardwareSigner) lookupToken(addr common.Address, chainID uint64) (hardware.Token, bool) {
	for _, token := range s.cfg.Tokens {
		if token.Address == addr && (token.ChainID == 0 || token.ChainID == chainID) {
			return token, true
		}
	}

	return hardware.Token{}, false
}

// deviceRecoveryParam recovers the parity bit from the single v byte the device returns;
// for EIP-155 the full v = 35 + 2*chainID + rec does not fit a byte.
func deviceRecoveryParam(v byte, chainID uint64) (byte, error) {
	var rec byte
	if chainID == 0 {
		rec = v - 27
	} else {
		rec = v - byte(chainID*2+35)
	}

	if rec > 1 {
		return 0, errors.Wrapf(hardware.ErrInvalidReply, "unexpected signature v 0x%02x for chain %d", v, chainID)
	}

	return rec, nil
}
