package config

import (
	"github.com/chapool/go-wallet-signer/internal/util"
	"github.com/spf13/viper"
)

// Keys of the CLI flags bound through viper. A key that is set wins over the
// environment.
const (
	KeyLogLevel    = "log-level"
	KeyPretty      = "pretty"
	KeyChainID     = "chain-id"
	KeyRPCURLs     = "rpc-url"
	KeyKeystore    = "keystore"
	KeyDerivation  = "derivation-path"
	KeyCustody     = "custody"
	KeyProtocol    = "protocol"
	KeyRelayURL    = "relay-url"
	KeyRequestWait = "request-timeout"
	KeyStatusAddr  = "status-addr"
)

// ApplyOverrides copies every key set in v into cfg.
func ApplyOverrides(cfg *Server, v *viper.Viper) {
	if v.IsSet(KeyLogLevel) {
		cfg.Logger.Level = util.LogLevelFromString(v.GetString(KeyLogLevel))
	}
	if v.IsSet(KeyPretty) {
		cfg.Logger.PrettyPrintConsole = v.GetBool(KeyPretty)
	}
	if v.IsSet(KeyChainID) {
		chainID := v.GetUint64(KeyChainID)
		if chainID != cfg.Chain.ChainID {
			cfg.Chain.ChainID = chainID
			cfg.Chain.SupportedChainIDs = parseChainIDs(nil, chainID)
			cfg.Hardware.Tokens = ParseTokens(defaultTokens(chainID))
		}
	}
	if v.IsSet(KeyRPCURLs) {
		cfg.Chain.RPCURLs = v.GetStringSlice(KeyRPCURLs)
	}
	if v.IsSet(KeyKeystore) {
		cfg.Wallet.KeystorePath = v.GetString(KeyKeystore)
	}
	if v.IsSet(KeyDerivation) {
		cfg.Wallet.DerivationPath = v.GetString(KeyDerivation)
	}
	if v.IsSet(KeyCustody) {
		cfg.Wallet.Custody = v.GetString(KeyCustody)
	}
	if v.IsSet(KeyProtocol) {
		cfg.Session.Protocol = v.GetString(KeyProtocol)
	}
	if v.IsSet(KeyRelayURL) {
		cfg.Session.RelayURL = v.GetString(KeyRelayURL)
	}
	if v.IsSet(KeyRequestWait) {
		cfg.Session.RequestTimeout = v.GetDuration(KeyRequestWait)
	}
	if v.IsSet(KeyStatusAddr) {
		cfg.Status.ListenAddress = v.GetString(KeyStatusAddr)
	}
}

// ServiceConfigWithOverrides returns DefaultServiceConfigFromEnv with the keys set in v applied.
func ServiceConfigWithOverrides(v *viper.Viper) Server {
	cfg := DefaultServiceConfigFromEnv()
	ApplyOverrides(&cfg, v)

	return cfg
}
