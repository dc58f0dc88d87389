package tx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chapool/go-wallet-signer/internal/app"
	"github.com/chapool/go-wallet-signer/internal/config"
	"github.com/chapool/go-wallet-signer/internal/rpc"
	"github.com/chapool/go-wallet-signer/internal/util/command"
	"github.com/chapool/go-wallet-signer/internal/wallet"
	"github.com/chapool/go-wallet-signer/internal/wallet/signer"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newSign(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign <tx-json>",
		Short: "Signs a transaction with the configured custody",
		Long: `Signs a transaction given as a JSON-RPC transaction object, e.g.
{"from":"0x..","to":"0x..","gas":"0x5208","gasPrice":"0x3b9aca00","value":"0x1"}
Missing nonce and fee fields are filled from the chain.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			send, err := cmd.Flags().GetBool(sendFlag)
			if err != nil {
				return err
			}

			return command.WithApp(cmd.Context(), config.ServiceConfigWithOverrides(v), func(ctx context.Context, a *app.App) error {
				return sign(ctx, cmd, a, args[0], send)
			})
		},
	}

	cmd.Flags().Bool(sendFlag, false, "broadcast the signed transaction")

	return cmd
}

func sign(ctx context.Context, cmd *cobra.Command, a *app.App, txJSON string, send bool) error {
	method := rpc.MethodSignTransaction
	if send {
		method = rpc.MethodSendTransaction
	}

	params, err := json.Marshal([]json.RawMessage{json.RawMessage(txJSON)})
	if err != nil {
		return errors.Wrap(err, "failed to encode transaction")
	}

	call, err := a.Validator.ValidateRequest(&rpc.Request{
		ID:     1,
		Method: method.String(),
		Params: params,
	})
	if err != nil {
		return err
	}

	if err := a.Activate(ctx, nil); err != nil {
		return err
	}

	var password string
	if signer.Custody(a.Config.Wallet.Custody) != signer.CustodyHardware {
		password, err = wallet.TerminalPrompt("Keystore password: ")
		if err != nil {
			return err
		}
	}

	reply := a.Dispatcher.Handle(ctx, call, password)
	if reply.Failed() {
		return reply.Error
	}

	out, err := json.MarshalIndent(reply.Result, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal result")
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	return nil
}
