package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/krewdev/bluetrap/internal/observability"
	"github.com/krewdev/bluetrap/internal/server/handlers"
	servermw "github.com/krewdev/bluetrap/internal/server/middleware"
)

// Options carries everything the HTTP surface needs. Nil handler groups
// leave their routes unregistered.
type Options struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Identify resolves the per-client key; nil uses the peer address.
	Identify servermw.ClientIdentifier
	Defense  servermw.DefenseOptions

	Trap   *handlers.TrapHandlers
	Agent  *handlers.AgentHandlers
	Health *handlers.HealthManager

	// CORSOrigins enables cross-origin access for the listed browser origins.
	CORSOrigins []string

	MetricsPort int
	AdminToken  string
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	opts   Options
}

// New creates a new HTTP server instance
func New(opts Options) *Server {
	r := chi.NewRouter()

	// Order: request ID for correlation, client identity, metrics around
	// everything, recovery, CORS, then the defense layer in front of the routes.
	// Preflights are answered by CORS and never reach the speed trap.
	r.Use(servermw.RequestID)
	r.Use(servermw.ClientIP(opts.Identify))
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(corsOptions(opts.CORSOrigins)))
	}
	if opts.Defense.Gate != nil || opts.Defense.SpeedTrap != nil {
		r.Use(servermw.Defense(opts.Defense))
	}

	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	s := &Server{router: r, opts: opts}

	handlers.SetHTTPErrorResponder(HandleError)
	s.registerRoutes()

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  orDefault(s.opts.ReadTimeout, 30*time.Second),
		WriteTimeout: orDefault(s.opts.WriteTimeout, 30*time.Second),
		IdleTimeout:  orDefault(s.opts.IdleTimeout, 120*time.Second),
	}

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Starting HTTP server",
			zap.String("host", s.opts.Host),
			zap.Int("port", s.opts.Port),
			zap.String("addr", addr))
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Shutting down HTTP server")
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the server port for testing
func (s *Server) Port() int {
	return s.opts.Port
}

func corsOptions(origins []string) cors.Options {
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Agent-Auth", "X-Wallet-Address", servermw.RequestIDHeader},
		ExposedHeaders:   []string{servermw.RequestIDHeader, "Retry-After", "X-Agent-Authenticated"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
