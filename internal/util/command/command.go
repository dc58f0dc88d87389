package command

import (
	"context"

	"github.com/chapool/go-wallet-signer/internal/app"
	"github.com/chapool/go-wallet-signer/internal/config"
	"github.com/chapool/go-wallet-signer/internal/util"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// NewSubcommandGroup returns a command that only groups subs and prints its help when run alone.
func NewSubcommandGroup(name string, subs ...*cobra.Command) *cobra.Command {
	c := &cobra.Command{
		Use:   name,
		Short: name + " related subcommands",
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				log.Error().Err(err).Msg("Failed to print help")
			}
		},
	}
	c.AddCommand(subs...)

	return c
}

// WithApp sets up logging, builds the app for cfg and runs fn with it. The app is shut
// down after fn returns, whatever the outcome.
func WithApp(ctx context.Context, cfg config.Server, fn func(ctx context.Context, a *app.App) error) error {
	util.SetupLogger(util.LoggerConfig(cfg.Logger))

	a, err := app.New(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to initialize app")
	}

	defer func() {
		for _, err := range a.Shutdown(ctx) {
			log.Warn().Err(err).Msg("Failed to shut down app cleanly")
		}
	}()

	return fn(ctx, a)
}
