package tx

import (
	"github.com/chapool/go-wallet-signer/internal/util/command"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	sendFlag string = "send"
)

func New(v *viper.Viper) *cobra.Command {
	return command.NewSubcommandGroup("tx",
		newDecode(),
		newSign(v),
	)
}
