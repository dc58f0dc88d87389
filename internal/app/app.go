// Package app wires configuration, signers, the chain client and the session stack.
package app

import (
	"context"

	"github.com/chapool/go-wallet-signer/internal/config"
	"github.com/chapool/go-wallet-signer/internal/metrics"
	"github.com/chapool/go-wallet-signer/internal/rpc"
	"github.com/chapool/go-wallet-signer/internal/session"
	"github.com/chapool/go-wallet-signer/internal/session/wcv1"
	"github.com/chapool/go-wallet-signer/internal/session/wcv2"
	"github.com/chapool/go-wallet-signer/internal/session/wcv2beta"
	"github.com/chapool/go-wallet-signer/internal/wallet"
	"github.com/chapool/go-wallet-signer/internal/wallet/address"
	"github.com/chapool/go-wallet-signer/internal/wallet/chain"
	"github.com/chapool/go-wallet-signer/internal/wallet/hardware"
	"github.com/chapool/go-wallet-signer/internal/wallet/keystore"
	"github.com/chapool/go-wallet-signer/internal/wallet/seed"
	"github.com/chapool/go-wallet-signer/internal/wallet/signer"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownProtocol = errors.New("app: unknown session protocol")
	ErrNoClientFactory = errors.New("app: no client factory for session protocol")
)

// Network is what the signers and the dispatcher need from the chain.
type Network interface {
	signer.NetworkSource
	rpc.Broadcaster
}

// App keeps every long lived component. Build it with New and release it with Shutdown.
type App struct {
	Config     config.Server
	Clock      clock.Clock
	Chain      Network
	Wallet     wallet.Service
	Signers    *signer.Registry
	Validator  *rpc.Validator
	Dispatcher *rpc.Dispatcher
	Metrics    *metrics.Metrics
	// Registry holds the metrics of this App only
	Registry *prometheus.Registry

	// Factories create the SDK clients of the v2 protocol generations
	Factories Factories

	hardware *signer.HardwareSigner
	closers  []func()
}

type Factories struct {
	V2Beta wcv2beta.ClientFactory
	V2     wcv2.ClientFactory
}

// New builds the components for cfg against the configured chain endpoints.
func New(cfg config.Server) (*App, error) {
	client, err := chain.NewRPCClient(cfg.Chain.RPCURLs, cfg.Chain.FeeCurrencyGasMultiplier)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create chain client")
	}

	a, err := NewWithNetwork(cfg, client)
	if err != nil {
		client.Close()
		return nil, err
	}
	a.closers = append(a.closers, client.Close)

	return a, nil
}

// NewWithNetwork builds the components on top of an existing network.
func NewWithNetwork(cfg config.Server, network Network) (*App, error) {
	walletService, err := newWalletService(cfg.Wallet)
	if err != nil {
		return nil, err
	}

	methods, unknown := rpc.ParseMethods(cfg.Session.SupportedMethods)
	for _, name := range unknown {
		log.Warn().Str("method", name).Msg("Ignoring unknown supported method")
	}

	registry := signer.NewRegistry()
	reg := prometheus.NewRegistry()

	return &App{
		Config:     cfg,
		Clock:      clock.NewDefaultClock(),
		Chain:      network,
		Wallet:     walletService,
		Signers:    registry,
		Validator:  rpc.NewValidator(cfg.Chain.ChainID, cfg.Chain.SupportedChainIDs, methods),
		Dispatcher: rpc.NewDispatcher(registry, network),
		Metrics:    metrics.New(reg),
		Registry:   reg,
	}, nil
}

func newWalletService(cfg config.Wallet) (wallet.Service, error) { //nolint:ireturn
	path, err := address.ParsePath(cfg.DerivationPath)
	if err != nil {
		return nil, errors.Wrap(err, "invalid derivation path")
	}
	if len(path) < 2 {
		return nil, errors.Errorf("derivation path %q has no coin type", cfg.DerivationPath)
	}
	coinType := path[1] &^ 0x80000000

	params := keystore.DefaultScryptParams()
	if cfg.LightKDF {
		params = keystore.LightScryptParams()
	}

	return wallet.NewService(
		keystore.NewService(cfg.KeystorePath, params),
		seed.NewManager(),
		address.NewService(coinType),
		cfg.DerivationPath,
	), nil
}

// Activate makes the configured custody the active signer.
func (a *App) Activate(ctx context.Context, opener hardware.Opener) error {
	custody, err := signer.ParseCustody(a.Config.Wallet.Custody)
	if err != nil {
		return err
	}

	switch custody {
	case signer.CustodyHardware:
		if opener == nil {
			opener = hardware.USBOpener{}
		}
		return a.ActivateHardware(ctx, opener)
	default:
		return a.ActivateLocal(ctx)
	}
}

// ActivateLocal activates a locked signer for the keystore account. It is unlocked by
// the password given with the first approved request.
func (a *App) ActivateLocal(ctx context.Context) error {
	account, err := a.Wallet.Account(ctx)
	if err != nil {
		return err
	}

	s, err := a.Wallet.Signer(ctx, a.Config.Chain.ChainID, a.Chain)
	if err != nil {
		return err
	}

	a.swap(signer.Identity{
		Address:        account.Address,
		Custody:        signer.CustodyLocal,
		DerivationPath: account.DerivationPath,
	}, s, nil)

	return nil
}

// ActivateHardware opens the device and activates its account.
func (a *App) ActivateHardware(ctx context.Context, opener hardware.Opener) error {
	cfg := a.Config.Hardware

	version, err := hardware.ParseVersion(cfg.RequiredAppVersion)
	if err != nil {
		return err
	}

	retrier := hardware.NewRetrier(cfg.RetryAttempts, cfg.RetryDelay, a.Clock)
	retrier.OnRetry = a.Metrics.HardwareRetry

	tokens := make([]hardware.Token, 0, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		tokens = append(tokens, hardware.Token(t))
	}

	s, err := signer.NewHardwareSigner(signer.HardwareConfig{
		DerivationPath:  a.Config.Wallet.DerivationPath,
		ChainID:         a.Config.Chain.ChainID,
		RequiredVersion: version,
		Transports:      hardware.ParseTransportKinds(cfg.Transports),
		Tokens:          tokens,
	}, opener, retrier, a.Chain)
	if err != nil {
		return err
	}

	if err := s.Init(ctx); err != nil {
		return err
	}

	addr, err := s.GetAddress(ctx)
	if err != nil {
		_ = s.Close()
		return err
	}

	a.swap(signer.Identity{
		Address:        addr,
		Custody:        signer.CustodyHardware,
		DerivationPath: a.Config.Wallet.DerivationPath,
	}, s, s)

	return nil
}

func (a *App) swap(identity signer.Identity, s signer.Signer, device *signer.HardwareSigner) {
	a.Signers.Activate(identity, s)

	if a.hardware != nil && a.hardware != device {
		if err := a.hardware.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close previous hardware signer")
		}
	}
	a.hardware = device

	log.Info().Str("address", identity.Address.Hex()).Str("custody", string(identity.Custody)).Msg("Signer activated")
}

// Adapter picks the protocol adapter for uri. Version 1 uris always use the built-in
// bridge client; version 2 uris use the configured v2 generation.
func (a *App) Adapter(uri string) (session.Adapter, error) { //nolint:ireturn
	v, err := session.PairingVersion(uri)
	if err != nil {
		return nil, err
	}

	meta := session.Metadata(a.Config.Session.Metadata)

	if v == 1 {
		return wcv1.NewAdapter(meta, nil), nil
	}
	if v != 2 {
		return nil, errors.Wrapf(ErrUnknownProtocol, "pairing version %d", v)
	}

	switch a.Config.Session.Protocol {
	case "v2beta":
		if a.Factories.V2Beta == nil {
			return nil, errors.Wrap(ErrNoClientFactory, "v2beta")
		}
		return wcv2beta.NewAdapter(wcv2beta.Options{
			RelayURL: a.Config.Session.RelayURL,
			Metadata: meta,
		}, a.Factories.V2Beta), nil
	case "v2", "v1":
		if a.Factories.V2 == nil {
			return nil, errors.Wrap(ErrNoClientFactory, "v2")
		}
		return wcv2.NewAdapter(wcv2.Options{
			ProjectID: a.Config.Session.ProjectID,
			RelayURL:  a.Config.Session.RelayURL,
			Metadata:  meta,
		}, a.Factories.V2), nil
	default:
		return nil, errors.Wrapf(ErrUnknownProtocol, "%q", a.Config.Session.Protocol)
	}
}

// NewEngine creates a session engine for adapter. Metrics observe every engine next
// to observer.
func (a *App) NewEngine(adapter session.Adapter, decisions <-chan session.Decision, observer session.Observer) *session.Engine {
	if observer == nil {
		observer = session.NopObserver{}
	}

	cfg := a.Config.Session

	return session.NewEngine(session.Config{
		HandshakeTimeout: cfg.HandshakeTimeout,
		ProposalTimeout:  cfg.ProposalTimeout,
		RequestTimeout:   cfg.RequestTimeout,
		DismissDelay:     cfg.DismissDelay,
	}, adapter, session.Dependencies{
		Validator:  a.Validator,
		Dispatcher: a.Dispatcher,
		Signers:    a.Signers,
		Decisions:  decisions,
		Observer:   session.MultiObserver(a.Metrics, observer),
		Clock:      a.Clock,
	})
}

// Pair runs one session for uri until it ends.
func (a *App) Pair(ctx context.Context, uri string, decisions <-chan session.Decision, observer session.Observer) error {
	adapter, err := a.Adapter(uri)
	if err != nil {
		return err
	}

	return a.NewEngine(adapter, decisions, observer).Run(ctx, uri)
}

// Shutdown releases the active signer and the chain client.
func (a *App) Shutdown(_ context.Context) []error {
	log.Warn().Msg("Shutting down")

	var errs []error

	a.Signers.Deactivate()
	if a.hardware != nil {
		log.Debug().Msg("Closing hardware signer")
		if err := a.hardware.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close hardware signer")
			errs = append(errs, err)
		}
		a.hardware = nil
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil

	return errs
}
