package keystore

import (
	"context"
	"fmt"

	"github.com/chapool/go-wallet-signer/internal/app"
	"github.com/chapool/go-wallet-signer/internal/config"
	"github.com/chapool/go-wallet-signer/internal/util/command"
	"github.com/chapool/go-wallet-signer/internal/wallet"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func New(v *viper.Viper) *cobra.Command {
	return command.NewSubcommandGroup("keystore",
		newCreate(v),
		newAddress(v),
	)
}

func newCreate(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Creates the keystore unless one exists",
		Long: `Generates a 24 word mnemonic, shows it once and stores it encrypted with
a password read from the terminal. An existing keystore is left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			return command.WithApp(cmd.Context(), config.ServiceConfigWithOverrides(v), func(ctx context.Context, a *app.App) error {
				account, err := wallet.InitializeKeystore(ctx, a.Wallet, wallet.TerminalPrompt, func(mnemonic string) {
					fmt.Fprintln(out, "Write down your recovery phrase. It is not shown again:")
					fmt.Fprintln(out, mnemonic)
				})
				if err != nil {
					return err
				}

				fmt.Fprintln(out, account.Address.Hex())

				return nil
			})
		},
	}
}

func newAddress(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Prints the keystore account without unlocking it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return command.WithApp(cmd.Context(), config.ServiceConfigWithOverrides(v), func(ctx context.Context, a *app.App) error {
				account, err := a.Wallet.Account(ctx)
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", account.Address.Hex(), account.DerivationPath, account.KeystorePath)

				return nil
			})
		},
	}
}
