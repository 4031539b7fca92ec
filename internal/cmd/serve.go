package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/krewdev/bluetrap/internal/config"
	"github.com/krewdev/bluetrap/internal/defense"
	errwrap "github.com/krewdev/bluetrap/internal/errors"
	"github.com/krewdev/bluetrap/internal/keys"
	"github.com/krewdev/bluetrap/internal/metrics"
	"github.com/krewdev/bluetrap/internal/observability"
	"github.com/krewdev/bluetrap/internal/server"
	"github.com/krewdev/bluetrap/internal/server/handlers"
	servermw "github.com/krewdev/bluetrap/internal/server/middleware"
	"github.com/krewdev/bluetrap/internal/state"
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bot-trap HTTP server",
	Long: `Start the HTTP server with the defense layer enabled.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-read and validate config (restart to apply)

On shutdown the server drains HTTP requests, stops the janitor, closes the
state store and flushes logs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Invalid configuration", err)
			return err
		}

		observability.InitServerLogger(config.AppName, cfg.Logging, config.AppName)
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(config.AppName, cfg.Metrics.Port, config.AppName); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
			}
		}
		metrics.SetServerStartTime(time.Now().Unix())

		logger.Info("Initializing server",
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.String("store_driver", cfg.Store.Driver),
			zap.Bool("metrics_enabled", cfg.Metrics.Enabled),
			zap.Int("metrics_port", cfg.Metrics.Port))

		if cfg.Defense.AgentKey == config.DefaultAgentKey {
			logger.Warn("Using the built-in development agent key; set defense.agent_key for production")
		}

		store, err := state.Open(ctx, cfg.Store, logger)
		if err != nil {
			return errwrap.WrapConfigInvalid(ctx, err, "state store configuration failed")
		}

		profile, err := handlers.LoadProfile(cfg.Protected.ProfilePath)
		if err != nil {
			_ = store.Close()
			return errwrap.WrapConfigInvalid(ctx, err, "protected profile could not be loaded")
		}

		speedTrap := defense.NewSpeedTrap(store, cfg.Defense.SpeedTrapThreshold)
		guard := defense.NewGuard(store, defense.Limits{
			MaxLevels:            cfg.Maze.MaxLevels,
			MaxRequestsPerSecond: cfg.Maze.MaxRequestsPerSecond,
			RateWindow:           cfg.Maze.RateWindow,
			RateIdle:             cfg.Janitor.RateIdle,
			ActiveWindow:         cfg.Maze.ActiveWindow,
		}, logger)

		janitor := defense.NewJanitor(store, defense.JanitorConfig{
			Interval:   cfg.Janitor.Interval,
			VisitTTL:   cfg.Janitor.VisitTTL,
			TrapIdle:   cfg.Janitor.TrapIdle,
			RateIdle:   cfg.Janitor.RateIdle,
			RateWindow: cfg.Maze.RateWindow,
		}, logger)
		if cfg.Janitor.Enabled {
			janitor.Start(context.Background())
		}

		keyLimiter := keys.NewLimiter(keys.LimiterConfig{
			RatePerMinute: cfg.Keys.RatePerMinute,
			Burst:         cfg.Keys.Burst,
		})

		var health *handlers.HealthManager
		if cfg.Health.Enabled {
			health = handlers.NewHealthManager(versionInfo.Version)
			health.RegisterStore(store)
			if cfg.Metrics.Enabled {
				health.RegisterChecker("telemetry", telemetryHealthChecker{})
			}
		}

		proxies := servermw.NewTrustedProxies(cfg.Server.TrustedProxies)
		srv := server.New(server.Options{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
			Identify:     proxies.ClientID,
			Defense: servermw.DefenseOptions{
				Gate:        defense.NewGate(cfg.Defense.AgentKey),
				SpeedTrap:   speedTrap,
				SkipPaths:   cfg.Defense.SkipPaths,
				RequireAuth: cfg.Defense.RequireAuth,
				Logger:      logger,
			},
			Trap: &handlers.TrapHandlers{
				Guard:              guard,
				SpeedTrapThreshold: speedTrap.Threshold(),
				TarpitDelay:        cfg.Maze.TarpitDelay,
				Logger:             logger,
			},
			Agent: &handlers.AgentHandlers{
				Limiter:   keyLimiter,
				KeyLength: cfg.Keys.Length,
				Profile:   profile,
				Logger:    logger,
			},
			Health:      health,
			CORSOrigins: cfg.Server.CORSOrigins,
			MetricsPort: observability.GetMetricsPort(),
			AdminToken:  cfg.Server.AdminToken,
		})

		// Shutdown handlers run LIFO: HTTP drains first, the logger flushes last.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			if err := observability.StopMetrics(); err != nil {
				logger.Warn("Metrics exporter stop returned error", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Closing state store...", zap.String("mode", string(store.Mode())))
			if err := store.Close(); err != nil {
				return errwrap.WrapDatabaseError(ctx, err, "state store close failed")
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Stopping janitor and key limiter...")
			janitor.Stop()
			keyLimiter.Close()
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: re-reading configuration")

			if err := viper.ReadInConfig(); err != nil {
				var notFound viper.ConfigFileNotFoundError
				if errors.As(err, &notFound) {
					logger.Info("No config file found - using defaults and environment variables")
					return nil
				}
				logger.Error("Failed to reload config file",
					zap.String("file", viper.ConfigFileUsed()),
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			if _, err := loadConfig(); err != nil {
				logger.Error("Reloaded configuration is invalid", zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			logger.Info("Configuration validated; restart to apply changes",
				zap.String("file", viper.ConfigFileUsed()))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(ctx); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			janitor.Stop()
			keyLimiter.Close()
			_ = store.Close()
			return errwrap.WrapInternal(ctx, err, "server error")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8000, "server port")
	serveCmd.Flags().String("store", "", "state store driver: redis|libsql|sqlite|memory")
	serveCmd.Flags().Bool("require-auth", false, "reject unauthenticated callers that pass the speed trap")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("store.driver", serveCmd.Flags().Lookup("store"))
	_ = viper.BindPFlag("defense.require_auth", serveCmd.Flags().Lookup("require-auth"))
}
