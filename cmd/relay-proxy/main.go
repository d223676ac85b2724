package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"golang.org/x/time/rate"
	"gopkg.in/natefinch/lumberjack.v2"

	"relay-proxy-go/internal/client"
	"relay-proxy-go/internal/config"
	"relay-proxy-go/internal/handler"
	"relay-proxy-go/internal/metrics"
	"relay-proxy-go/internal/middleware"
	"relay-proxy-go/internal/proxy"
	"relay-proxy-go/internal/stats"
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
		kong.Name("relay-proxy"),
		kong.Description("Forwarding HTTP proxy with a control API."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			config.Load,
			config.NewRuntime,
			newLogger,
			newStats,
			newMetrics,
			newEcho,
			client.NewPool,
			proxy.NewServer,
			handler.NewControlHandler,
		),
		// Hooks stop in reverse order: the data path drains first, then
		// pooled upstream connections are released, and the control API
		// shuts down last.
		fx.Invoke(
			handler.RegisterRoutes,
			registerMetricsRoute,
			startWatcher,
			startAPI,
			closeUpstreamOnStop,
			startProxy,
		),
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

	var out io.Writer = os.Stdout
	if cfg.Log.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		}
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(out, opts)
	default:
		h = slog.NewJSONHandler(out, opts)
	}

	return slog.New(h)
}

func newStats() *stats.Register {
	return stats.NewRegister(time.Now())
}

// newMetrics returns nil when metrics are disabled; consumers treat a nil
// *metrics.Metrics as "recording off".
func newMetrics(cfg *config.Config) *metrics.Metrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.New()
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// WriteTimeout is disabled (0) because /stats/live holds a websocket
	// open indefinitely. Other responses are small; ReadTimeout and
	// IdleTimeout still bound misbehaving clients.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.BodyLimit("1M"))
	e.Use(middleware.SecurityHeaders())
	if m != nil {
		e.Use(middleware.MetricsMiddleware(m))
	}

	if cfg.API.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.API.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.API.RateLimit.RequestsPerSecond)
	}

	return e
}

// registerMetricsRoute exposes the Prometheus registry on the control API.
func registerMetricsRoute(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if m == nil {
		return
	}
	h := promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
	e.GET(cfg.Metrics.Path, echo.WrapHandler(h))
}

// startWatcher hot-reloads the config file when enabled. Running on defaults
// and flags alone means there is no file to watch.
func startWatcher(lc fx.Lifecycle, cli *config.CLI, cfg *config.Config, rt *config.Runtime, logger *slog.Logger) error {
	if !cfg.Watch.Enabled || cfg.Path() == "" {
		return nil
	}
	w, err := config.NewWatcher(cli, cfg, rt, logger)
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { return w.Start() },
		OnStop:  func(_ context.Context) error { return w.Stop() },
	})
	return nil
}

func closeUpstreamOnStop(lc fx.Lifecycle, pool *client.Pool) {
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			pool.CloseIdle()
			return nil
		},
	})
}

func startAPI(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.API.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting control api", "addr", addr)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("control api error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down control api")
			return e.Shutdown(ctx)
		},
	})
}

func startProxy(lc fx.Lifecycle, srv *proxy.Server) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { return srv.Start() },
		OnStop:  func(ctx context.Context) error { return srv.Stop(ctx) },
	})
}
