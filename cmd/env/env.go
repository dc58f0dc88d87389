package env

import (
	"encoding/json"
	"fmt"

	"github.com/chapool/go-wallet-signer/internal/config"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func New(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Prints the effective config as JSON",
		Long: `Prints the config assembled from ENV and flags as JSON.
Secrets are omitted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.ServiceConfigWithOverrides(v)

			out, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return errors.Wrap(err, "failed to marshal config")
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			return nil
		},
	}
}
