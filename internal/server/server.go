package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/zsiec/nanoplay/internal/config"
	apperrors "github.com/zsiec/nanoplay/internal/errors"
	"github.com/zsiec/nanoplay/internal/health"
	"github.com/zsiec/nanoplay/internal/logger"
)

// Server is the status HTTP server: health, version and the playback API.
type Server struct {
	config       *config.ServerConfig
	router       *mux.Router
	httpServer   *http.Server
	logger       logger.Logger
	healthMgr    *health.Manager
	errorHandler *apperrors.ErrorHandler

	additionalRoutes []func(*mux.Router)

	started  time.Time
	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

// New creates a new server instance. Routes are built when Start runs.
func New(cfg *config.ServerConfig, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNullLogger()
	}
	log = logger.WithComponent(log, "server")

	return &Server{
		config:       cfg,
		router:       mux.NewRouter(),
		logger:       log,
		healthMgr:    health.NewManager(log),
		errorHandler: apperrors.NewErrorHandler(log),
		started:      time.Now(),
		ready:        make(chan struct{}),
	}
}

// Health returns the manager checkers are registered with.
func (s *Server) Health() *health.Manager {
	return s.healthMgr
}

// ErrorHandler returns the JSON error writer shared with route handlers.
func (s *Server) ErrorHandler() *apperrors.ErrorHandler {
	return s.errorHandler
}

// RegisterRoutes adds route handlers, applied when the server starts.
func (s *Server) RegisterRoutes(registerFunc func(*mux.Router)) {
	s.additionalRoutes = append(s.additionalRoutes, registerFunc)
}

// Start listens and serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.setupRoutes()

	addr := net.JoinHostPort(s.config.ListenAddr, fmt.Sprint(s.config.HTTPPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()
	close(s.ready)

	go s.healthMgr.StartPeriodicChecks(ctx, 30*time.Second)

	s.logger.WithField("addr", ln.Addr().String()).Info("Starting status server")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("status server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown stops the server within the configured timeout.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	s.logger.Info("Status server shutdown complete")
	return nil
}

// Addr blocks until the server listens and returns its address.
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener.Addr(), nil
}

// GetRouter returns the router for testing.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}
