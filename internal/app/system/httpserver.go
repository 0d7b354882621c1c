package system

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/openfeeds/rate-layer/pkg/logger"
)

// HTTPServer runs an http.Server under the Manager lifecycle. Start binds the
// listener synchronously so port conflicts fail startup instead of surfacing
// later from a goroutine.
type HTTPServer struct {
	name string
	srv  *http.Server
	log  *logger.Logger

	mu    sync.Mutex
	bound string
}

// NewHTTPServer wraps handler in a managed HTTP server on addr.
func NewHTTPServer(name, addr string, handler http.Handler, log *logger.Logger) *HTTPServer {
	if log == nil {
		log = logger.NewDefault(name)
	}
	return &HTTPServer{
		name: name,
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		log: log,
	}
}

// Name implements Service.
func (s *HTTPServer) Name() string { return s.name }

// Addr returns the bound listen address once started, or the configured
// address before that. Useful when the configured port is 0.
func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound != "" {
		return s.bound
	}
	return s.srv.Addr
}

// Start binds the address and begins serving in the background.
func (s *HTTPServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.bound = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		s.log.WithField("addr", ln.Addr().String()).Info("HTTP server listening")
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("HTTP server failed")
		}
	}()
	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *HTTPServer) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
