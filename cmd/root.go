package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chapool/go-wallet-signer/cmd/env"
	"github.com/chapool/go-wallet-signer/cmd/keystore"
	"github.com/chapool/go-wallet-signer/cmd/pair"
	"github.com/chapool/go-wallet-signer/cmd/probe"
	"github.com/chapool/go-wallet-signer/cmd/tx"
	"github.com/chapool/go-wallet-signer/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Version: config.GetFormattedBuildArgs(),
	Use:     "app",
	Short:   config.ModuleName,
	Long: fmt.Sprintf(`%v

A Celo wallet signer that pairs with dapps over WalletConnect.
Configured through ENV, flags override their ENV counterparts.`, config.ModuleName),
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	v := viper.New()
	bindFlags(rootCmd, v)

	// attach the subcommands
	rootCmd.AddCommand(
		env.New(v),
		keystore.New(v),
		pair.New(v),
		probe.New(v),
		tx.New(v),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		log.Error().Err(err).Msg("Failed to execute root command")
		os.Exit(1)
	}
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.PersistentFlags()
	flags.String(config.KeyLogLevel, "", "log level (trace, debug, info, warn, error)")
	flags.Bool(config.KeyPretty, false, "pretty print console logs")
	flags.Uint64(config.KeyChainID, 0, "chain id to sign for")
	flags.StringSlice(config.KeyRPCURLs, nil, "chain RPC endpoints, tried in order")
	flags.String(config.KeyKeystore, "", "path of the keystore file")
	flags.String(config.KeyDerivation, "", "BIP44 derivation path of the account")
	flags.String(config.KeyCustody, "", "key custody (local, hardware)")
	flags.String(config.KeyProtocol, "", "WalletConnect v2 generation (v2beta, v2)")
	flags.String(config.KeyRelayURL, "", "WalletConnect relay")
	flags.Duration(config.KeyRequestWait, time.Duration(0), "how long a request waits for a decision")
	flags.String(config.KeyStatusAddr, "", "listen address of the health and metrics server")

	if err := v.BindPFlags(flags); err != nil {
		log.Fatal().Err(err).Msg("Failed to bind flags")
	}
}
