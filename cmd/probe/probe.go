package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chapool/go-wallet-signer/internal/config"
	"github.com/chapool/go-wallet-signer/internal/util/command"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	verboseFlag string = "verbose"

	probeTimeout = 5 * time.Second
)

var ErrProbeFailed = errors.New("probe failed")

func New(v *viper.Viper) *cobra.Command {
	return command.NewSubcommandGroup("probe",
		newLiveness(v),
		newReadiness(v),
	)
}

func newProbe(v *viper.Viper, use string, short string, path string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			verbose, err := cmd.Flags().GetBool(verboseFlag)
			if err != nil {
				return err
			}

			cfg := config.ServiceConfigWithOverrides(v)
			if cfg.Status.ListenAddress == "" {
				return errors.Wrap(ErrProbeFailed, "status server is disabled")
			}

			body, err := probe(cmd.Context(), "http://"+cfg.Status.ListenAddress+path)
			if verbose {
				fmt.Fprintln(cmd.OutOrStdout(), body)
			}

			return err
		},
	}

	cmd.Flags().BoolP(verboseFlag, "v", false, "print the probe response")

	return cmd
}

func newLiveness(v *viper.Viper) *cobra.Command {
	return newProbe(v, "liveness", "Checks the status server answers", "/-/healthy")
}

func newReadiness(v *viper.Viper) *cobra.Command {
	return newProbe(v, "readiness", "Checks a signer is active and the session is alive", "/-/ready")
}

func probe(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to create probe request")
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", errors.Wrap(ErrProbeFailed, err.Error())
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", errors.Wrap(err, "failed to read probe response")
	}

	if res.StatusCode != http.StatusOK {
		return string(body), errors.Wrapf(ErrProbeFailed, "status %d", res.StatusCode)
	}

	return string(body), nil
}
