// Package admin serves the plain-HTTP control surface next to the data
// plane: liveness, proxy status, and Prometheus metrics. It never shares
// a port with the proxy itself.
package admin

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tlsgate/internal/config"
	"tlsgate/internal/metrics"
	"tlsgate/internal/middleware"
	"tlsgate/internal/proxy"
)

// Version is a string type for dependency injection of the build version.
type Version string

// Handler serves the admin endpoints.
type Handler struct {
	cfg     *config.Config
	proxy   *proxy.Server
	version Version
}

// NewHandler creates a Handler.
func NewHandler(cfg *config.Config, p *proxy.Server, v Version) *Handler {
	return &Handler{cfg: cfg, proxy: p, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *Handler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information.
func (h *Handler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":             "ok",
		"version":            string(h.version),
		"gateway":            h.cfg.Gateway.Addr(),
		"active_connections": h.proxy.ActiveConnections(),
		"total_connections":  h.proxy.TotalConnections(),
	})
}

// NewEcho builds the admin Echo instance with routes and middleware wired.
func NewEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.SecurityHeaders())

	e.GET("/healthz", h.Healthz)
	e.GET("/proxy/status", h.Status)
	e.GET(cfg.Admin.Metrics, echo.WrapHandler(
		promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
	))

	return e
}
