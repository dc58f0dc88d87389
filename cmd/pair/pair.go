package pair

import (
	"context"
	"time"

	"github.com/chapool/go-wallet-signer/internal/api"
	"github.com/chapool/go-wallet-signer/internal/api/router"
	"github.com/chapool/go-wallet-signer/internal/app"
	"github.com/chapool/go-wallet-signer/internal/config"
	"github.com/chapool/go-wallet-signer/internal/rpc"
	"github.com/chapool/go-wallet-signer/internal/session"
	"github.com/chapool/go-wallet-signer/internal/util/command"
	"github.com/chapool/go-wallet-signer/internal/wallet"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const shutdownTimeout = 5 * time.Second

func New(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "pair <uri>",
		Short: "Pairs with a dapp and serves its requests",
		Long: `Pairs with the dapp behind a WalletConnect uri and asks on the terminal
before approving the session and each request. Runs until the session ends.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return command.WithApp(cmd.Context(), config.ServiceConfigWithOverrides(v), func(ctx context.Context, a *app.App) error {
				return run(ctx, cmd, a, args[0])
			})
		},
	}
}

func run(ctx context.Context, cmd *cobra.Command, a *app.App, uri string) error {
	adapter, err := a.Adapter(uri)
	if err != nil {
		return err
	}

	if err := a.Activate(ctx, nil); err != nil {
		return err
	}

	p := newPrompter(cmd.OutOrStdout(), cmd.InOrStdin(), func() bool { return signerLocked(a) }, wallet.TerminalPrompt)

	decisions := make(chan session.Decision)
	engine := a.NewEngine(adapter, decisions, p)

	if a.Config.Status.ListenAddress != "" {
		s := api.NewServer(a.Config.Status, a, engine)
		router.Init(s)

		go func() {
			log.Info().Str("addr", a.Config.Status.ListenAddress).Msg("Starting status server")
			if err := s.Start(); err != nil {
				log.Error().Err(err).Msg("Status server stopped")
			}
		}()

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			s.Shutdown(shutdownCtx)
		}()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go p.run(ctx, decisions)

	err = engine.Run(ctx, uri)
	if err != nil && ctx.Err() != nil {
		log.Info().Msg("Interrupted")
		return nil
	}

	return err
}

func signerLocked(a *app.App) bool {
	_, s, err := a.Signers.Active()
	if err != nil {
		return false
	}

	u, ok := s.(rpc.Unlocker)

	return ok && u.Locked()
}
