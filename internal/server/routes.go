package server

import (
	"github.com/fulmenhq/gofulmen/signals"
	"go.uber.org/zap"

	"github.com/krewdev/bluetrap/internal/observability"
	"github.com/krewdev/bluetrap/internal/server/handlers"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	if trap := s.opts.Trap; trap != nil {
		s.router.Get("/stats/trapped", trap.Stats)
		s.router.Get("/maze/{level}", trap.Maze)
	}

	if agent := s.opts.Agent; agent != nil {
		s.router.Get("/me", agent.Me)
		s.router.Post("/generate-key", agent.GenerateKey)
		s.router.Get("/verify-wallet/{address}", agent.VerifyWallet)
	}

	if health := s.opts.Health; health != nil {
		s.router.Get("/health", health.HealthHandler)
		s.router.Get("/health/live", health.LivenessHandler)
		s.router.Get("/health/ready", health.ReadinessHandler)
		s.router.Get("/health/startup", health.StartupHandler)
	}

	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/metrics", MetricsHandler(s.opts.MetricsPort))

	s.registerAdminEndpoint()
}

// registerAdminEndpoint exposes POST /admin/signal when an admin token is configured.
func (s *Server) registerAdminEndpoint() {
	logger := observability.ServerLogger

	if s.opts.AdminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (server.admin_token not set)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.opts.AdminToken,
		RateLimit: 10, // per minute
		RateBurst: 5,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("rate_limit", "10/min, burst 5"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}
