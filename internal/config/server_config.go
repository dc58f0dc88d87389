package config

import (
	"path/filepath"
	"time"

	"github.com/chapool/go-wallet-signer/internal/util"
	"github.com/rs/zerolog"
)

const (
	// AlfajoresChainID is the Celo testnet the wallet targets by default.
	AlfajoresChainID uint64 = 44787
	// MainnetChainID is Celo mainnet.
	MainnetChainID uint64 = 42220

	DefaultDerivationPath = "m/44'/52752'/0'/0/0"
)

type LoggerServer struct {
	Level              zerolog.Level
	PrettyPrintConsole bool
	Caller             bool
}

type Chain struct {
	ChainID           uint64
	RPCURLs           []string
	SupportedChainIDs []uint64

	// FeeCurrencyGasMultiplier scales gas estimates for transactions paying fees in a
	// non-native token. Set to 1 to disable.
	FeeCurrencyGasMultiplier uint64
}

type Wallet struct {
	KeystorePath   string
	DerivationPath string
	Custody        string
	// LightKDF trades keystore brute-force resistance for faster unlocks
	LightKDF bool
}

type Hardware struct {
	RequiredAppVersion string
	Transports         []string
	RetryAttempts      int
	RetryDelay         time.Duration
	Tokens             []Token
}

type Metadata struct {
	Name        string
	Description string
	URL         string
	Icons       []string
}

type Session struct {
	Protocol         string
	RelayURL         string
	ProjectID        string `json:"-"`
	HandshakeTimeout time.Duration
	ProposalTimeout  time.Duration
	RequestTimeout   time.Duration
	DismissDelay     time.Duration
	SupportedMethods []string
	Metadata         Metadata
}

type Status struct {
	// ListenAddress of the status server, empty disables it
	ListenAddress string
}

type Server struct {
	Logger   LoggerServer
	Chain    Chain
	Wallet   Wallet
	Hardware Hardware
	Session  Session
	Status   Status
}

// DefaultServiceConfigFromEnv returns the server config as parsed from environment variables
// and their respective defaults defined below.
// We don't expect that ENV_VARs change while we are running our application or our tests
// (and it would be a bad thing to do anyways with parallel testing).
// Do NOT use os.Setenv / os.Unsetenv in tests utilizing DefaultServiceConfigFromEnv()!
func DefaultServiceConfigFromEnv() Server {
	// An `.env.local` file in your project root can override the currently set ENV variables.
	//
	// We never automatically apply `.env.local` when running "go test" as these ENV variables
	// may be sensitive and applying them modifies the process-global "os.Env" state.
	if !util.RunningInTest() {
		DotEnvTryLoad(filepath.Join(util.GetProjectRootDir(), ".env.local"))
	}

	chainID := util.GetEnvAsUint64("WALLET_CHAIN_ID", AlfajoresChainID)

	return Server{
		Logger: LoggerServer{
			Level:              util.LogLevelFromString(util.GetEnv("WALLET_LOGGER_LEVEL", zerolog.InfoLevel.String())),
			PrettyPrintConsole: util.GetEnvAsBool("WALLET_LOGGER_PRETTY_PRINT_CONSOLE", false),
			Caller:             util.GetEnvAsBool("WALLET_LOGGER_CALLER", false),
		},
		Chain: Chain{
			ChainID:                  chainID,
			RPCURLs:                  util.GetEnvAsStringArr("WALLET_CHAIN_RPC_URLS", []string{"https://alfajores-forno.celo-testnet.org"}),
			SupportedChainIDs:        parseChainIDs(util.GetEnvAsStringArr("WALLET_CHAIN_SUPPORTED_IDS", nil), chainID),
			FeeCurrencyGasMultiplier: util.GetEnvAsUint64("WALLET_CHAIN_FEE_CURRENCY_GAS_MULTIPLIER", 5),
		},
		Wallet: Wallet{
			KeystorePath:   util.GetEnv("WALLET_KEYSTORE_PATH", filepath.Join(util.GetProjectRootDir(), "keystore.json")),
			DerivationPath: util.GetEnv("WALLET_DERIVATION_PATH", DefaultDerivationPath),
			Custody:        util.GetEnv("WALLET_CUSTODY", "local"),
			LightKDF:       util.GetEnvAsBool("WALLET_KEYSTORE_LIGHT_KDF", false),
		},
		Hardware: Hardware{
			RequiredAppVersion: util.GetEnv("WALLET_HARDWARE_REQUIRED_APP_VERSION", "1.0.3"),
			Transports:         util.GetEnvAsStringArr("WALLET_HARDWARE_TRANSPORTS", []string{"hid", "u2f"}),
			RetryAttempts:      util.GetEnvAsInt("WALLET_HARDWARE_RETRY_ATTEMPTS", 3),
			RetryDelay:         util.GetEnvAsDuration("WALLET_HARDWARE_RETRY_DELAY", time.Second),
			Tokens:             ParseTokens(util.GetEnvAsStringArr("WALLET_HARDWARE_TOKENS", defaultTokens(chainID))),
		},
		Session: Session{
			Protocol:         util.GetEnv("WALLET_SESSION_PROTOCOL", "v1"),
			RelayURL:         util.GetEnv("WALLET_SESSION_RELAY_URL", "wss://relay.walletconnect.com"),
			ProjectID:        util.GetEnv("WALLET_SESSION_PROJECT_ID", ""),
			HandshakeTimeout: util.GetEnvAsDuration("WALLET_SESSION_HANDSHAKE_TIMEOUT", 30*time.Second),
			ProposalTimeout:  util.GetEnvAsDuration("WALLET_SESSION_PROPOSAL_TIMEOUT", 30*time.Second),
			RequestTimeout:   util.GetEnvAsDuration("WALLET_SESSION_REQUEST_TIMEOUT", 5*time.Minute),
			DismissDelay:     util.GetEnvAsDuration("WALLET_SESSION_DISMISS_DELAY", 2*time.Second),
			SupportedMethods: util.GetEnvAsStringArr("WALLET_SESSION_SUPPORTED_METHODS", []string{
				"accounts",
				"sign",
				"personal_sign",
				"sign_transaction",
				"send_transaction",
				"compute_shared_secret",
				"personal_decrypt",
				"sign_typed_data",
			}),
			Metadata: Metadata{
				Name:        util.GetEnv("WALLET_SESSION_METADATA_NAME", "go-wallet-signer"),
				Description: util.GetEnv("WALLET_SESSION_METADATA_DESCRIPTION", "Celo wallet signer"),
				URL:         util.GetEnv("WALLET_SESSION_METADATA_URL", "https://github.com/chapool/go-wallet-signer"),
				Icons:       util.GetEnvAsStringArr("WALLET_SESSION_METADATA_ICONS", nil),
			},
		},
		Status: Status{
			ListenAddress: util.GetEnv("WALLET_STATUS_LISTEN_ADDRESS", ""),
		},
	}
}
