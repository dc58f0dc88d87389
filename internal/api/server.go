package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/chapool/go-wallet-signer/internal/app"
	"github.com/chapool/go-wallet-signer/internal/config"
	"github.com/chapool/go-wallet-signer/internal/session"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// StateSource reports the state of the running session.
type StateSource interface {
	State() session.State
}

type Router struct {
	Routes     []*echo.Route
	Root       *echo.Group
	Management *echo.Group
}

// Server exposes liveness, readiness and metrics of a running wallet. Echo and Router
// are set by router.Init.
type Server struct {
	Echo   *echo.Echo
	Router *Router

	Config config.Status
	App    *app.App
	// Engine is nil until a session runs
	Engine StateSource
}

func NewServer(cfg config.Status, a *app.App, engine StateSource) *Server {
	return &Server{
		Config: cfg,
		App:    a,
		Engine: engine,
	}
}

// Ready reports whether a signer is active and the session has not ended.
func (s *Server) Ready() bool {
	if s.App == nil || s.Echo == nil {
		return false
	}

	if _, _, err := s.App.Signers.Active(); err != nil {
		log.Debug().Err(err).Msg("No active signer")
		return false
	}

	if s.Engine != nil && s.Engine.State().Terminal() {
		return false
	}

	return true
}

func (s *Server) Start() error {
	if s.Echo == nil {
		return errors.New("server is not initialized")
	}

	if err := s.Echo.Start(s.Config.ListenAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) []error {
	log.Warn().Msg("Shutting down status server")

	var errs []error

	if s.Echo != nil {
		log.Debug().Msg("Shutting down echo server")

		if err := s.Echo.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Failed to shutdown echo server")
			errs = append(errs, err)
		}
	}

	return errs
}
