package config_test

import (
	"testing"
	"time"

	"github.com/chapool/go-wallet-signer/internal/config"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestApplyOverrides(t *testing.T) {
	cfg := config.DefaultServiceConfigFromEnv()
	before := cfg

	config.ApplyOverrides(&cfg, viper.New())
	assert.Equal(t, before, cfg)

	v := viper.New()
	v.Set(config.KeyLogLevel, "debug")
	v.Set(config.KeyChainID, uint64(42220))
	v.Set(config.KeyRPCURLs, []string{"https://forno.celo.org"})
	v.Set(config.KeyCustody, "hardware")
	v.Set(config.KeyProtocol, "v2beta")
	v.Set(config.KeyRequestWait, "45s")
	v.Set(config.KeyStatusAddr, "127.0.0.1:9090")

	config.ApplyOverrides(&cfg, v)

	assert.Equal(t, zerolog.DebugLevel, cfg.Logger.Level)
	assert.Equal(t, config.MainnetChainID, cfg.Chain.ChainID)
	assert.Equal(t, []uint64{config.MainnetChainID}, cfg.Chain.SupportedChainIDs)
	assert.Equal(t, []string{"https://forno.celo.org"}, cfg.Chain.RPCURLs)
	assert.Equal(t, "hardware", cfg.Wallet.Custody)
	assert.Equal(t, "v2beta", cfg.Session.Protocol)
	assert.Equal(t, 45*time.Second, cfg.Session.RequestTimeout)
	assert.Equal(t, "127.0.0.1:9090", cfg.Status.ListenAddress)
	assert.Len(t, cfg.Hardware.Tokens, 2)
	assert.Equal(t, before.Wallet.KeystorePath, cfg.Wallet.KeystorePath)
}
