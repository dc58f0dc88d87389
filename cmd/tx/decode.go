package tx

import (
	"encoding/json"
	"fmt"

	"github.com/chapool/go-wallet-signer/internal/wallet/txcodec"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newDecode() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <raw-hex>",
		Short: "Decodes a raw Celo transaction",
		Long: `Decodes a raw Celo legacy transaction and prints it as JSON.
Signed transactions include the recovered sender and hash.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := hexutil.Decode(args[0])
			if err != nil {
				return errors.Wrap(err, "failed to decode hex")
			}

			tx, err := txcodec.Decode(raw)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(tx, "", "  ")
			if err != nil {
				return errors.Wrap(err, "failed to marshal transaction")
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			return nil
		},
	}
}
