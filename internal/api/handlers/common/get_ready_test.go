package common_test

import (
	"net/http"
	"testing"

	"github.com/chapool/go-wallet-signer/internal/api"
	"github.com/chapool/go-wallet-signer/internal/session"
	"github.com/chapool/go-wallet-signer/internal/test"
	"github.com/stretchr/testify/require"
)

type fixedState session.State

func (s fixedState) State() session.State { return session.State(s) }

func TestGetReadyReadiness(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		res := test.PerformRequest(t, s, http.MethodGet, "/-/ready")
		require.Equal(t, http.StatusOK, res.Result().StatusCode)
		require.Equal(t, "Ready.", res.Body.String())
	})
}

func TestGetReadyWithoutSigner(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		// forcefully drop the active signer to check if ready state works
		s.App.Signers.Deactivate()

		res := test.PerformRequest(t, s, http.MethodGet, "/-/ready")
		require.Equal(t, 521, res.Result().StatusCode)
		require.Equal(t, "Not ready.", res.Body.String())
	})
}

func TestGetReadySessionEnded(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		s.Engine = fixedState(session.StateSettled)

		res := test.PerformRequest(t, s, http.MethodGet, "/-/ready")
		require.Equal(t, http.StatusOK, res.Result().StatusCode)

		s.Engine = fixedState(session.StateDisconnected)

		res = test.PerformRequest(t, s, http.MethodGet, "/-/ready")
		require.Equal(t, 521, res.Result().StatusCode)
	})
}

func TestGetHealthy(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		s.App.Signers.Deactivate()

		res := test.PerformRequest(t, s, http.MethodGet, "/-/healthy")
		require.Equal(t, http.StatusOK, res.Result().StatusCode)
		require.Equal(t, "Healthy.", res.Body.String())
	})
}
