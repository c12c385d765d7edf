package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"tlsgate/internal/admin"
	"tlsgate/internal/config"
	"tlsgate/internal/gateway"
	"tlsgate/internal/metrics"
	"tlsgate/internal/proxy"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("tlsgate"),
		kong.Description("TLS-terminating HTTP/1.1 reverse proxy for a single plaintext gateway."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() admin.Version { return admin.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			gateway.NewEndpoint,
			newProxyServer,
			admin.NewHandler,
			admin.NewEcho,
		),
		fx.Invoke(warnConfigPermissions, startProxy, startAdmin),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newProxyServer(cfg *config.Config, ep *gateway.Endpoint, logger *slog.Logger, m *metrics.Metrics) (*proxy.Server, error) {
	return proxy.New(cfg, ep, logger, m, version)
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startProxy(lc fx.Lifecycle, s *proxy.Server, ep *gateway.Endpoint, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if cfg.Gateway.CheckOnStart {
				if err := gateway.NewClient(ep, logger).Preflight(ctx); err != nil {
					return fmt.Errorf("gateway check failed: %w", err)
				}
				logger.Info("gateway check passed", "gateway", ep.Addr)
			}
			return s.Start()
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down proxy")
			return s.Stop(ctx)
		},
	})
}

func startAdmin(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	if !cfg.Admin.Enabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Admin.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind admin %s: %w", addr, err)
			}
			logger.Info("starting admin server", "addr", addr)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("admin server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down admin server")
			return e.Shutdown(ctx)
		},
	})
}
