package common

import (
	"github.com/chapool/go-wallet-signer/internal/api"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func GetMetricsRoute(s *api.Server) *echo.Route {
	handler := promhttp.HandlerFor(s.App.Registry, promhttp.HandlerOpts{})

	return s.Router.Root.GET("/metrics", echo.WrapHandler(handler))
}
