package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/emaforlin/ws-greeting-server/config"
	"github.com/emaforlin/ws-greeting-server/middleware"
	"github.com/pkg/errors"
)

// Server represents the HTTP server with graceful shutdown
type Server struct {
	config     *config.Config
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
	onShutdown []func(context.Context) error
}

// New creates a new server instance
func New(cfg *config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	return &Server{
		config: cfg,
		mux:    mux,
		logger: logger,
		httpServer: &http.Server{
			Addr:         cfg.GetServerAddress(),
			Handler:      mux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
	}
}

// RegisterHandler registers a handler for the given pattern
func (s *Server) RegisterHandler(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// RegisterHandlerWithMiddleware registers a handler with middleware; the
// first middleware is outermost.
func (s *Server) RegisterHandlerWithMiddleware(pattern string, handler http.HandlerFunc, middlewares ...middleware.Middleware) {
	s.mux.HandleFunc(pattern, middleware.Chain(middlewares...)(handler))
}

// RegisterOnShutdown registers a function to run once the HTTP server has
// stopped accepting requests. Hooks run in registration order and share the
// shutdown deadline. Hijacked WebSocket connections are not tracked by the
// HTTP server, so whoever owns them must close and drain them here.
func (s *Server) RegisterOnShutdown(f func(ctx context.Context) error) {
	s.onShutdown = append(s.onShutdown, f)
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.httpServer.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully within the configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("starting server",
		"addr", ln.Addr().String(),
		"websocket", s.config.GetWebSocketURL(s.config.WebSocket.Path),
		"health", s.config.GetHTTPURL("/health"),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "server failed")
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")

	// Give outstanding requests a deadline to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("server forced to shutdown", "error", err)
		return errors.Wrap(err, "shutdown")
	}
	for _, f := range s.onShutdown {
		if err := f(shutdownCtx); err != nil {
			s.logger.Warn("shutdown hook failed", "error", err)
			return errors.Wrap(err, "shutdown")
		}
	}

	s.logger.Info("server exited")
	return nil
}

// Stop stops the server immediately
func (s *Server) Stop() error {
	return s.httpServer.Close()
}

// GetConfig returns the server configuration
func (s *Server) GetConfig() *config.Config {
	return s.config
}
