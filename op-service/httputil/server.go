package httputil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// standupWait is how long Start waits for Serve to fail before reporting the server as up.
const standupWait = 10 * time.Millisecond

// HTTPServer runs an http.Server on its own listener. Binding to port 0 picks a free port,
// which Addr and Port report once started. A stopped server can be started again.
type HTTPServer struct {
	mu       sync.RWMutex
	listener net.Listener
	srv      *http.Server
	cancel   context.CancelFunc

	config *config
}

// NewHTTPServer creates a stopped server for handler.
func NewHTTPServer(addr string, handler http.Handler, opts ...Option) *HTTPServer {
	cfg := &config{
		listenAddr: addr,
		handler:    handler,
		timeouts:   DefaultTimeouts,
	}
	cfg.ApplyOptions(opts...)
	return &HTTPServer{config: cfg}
}

func StartHTTPServer(addr string, handler http.Handler, opts ...Option) (*HTTPServer, error) {
	out := NewHTTPServer(addr, handler, opts...)
	return out, out.Start()
}

func (s *HTTPServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("server already started")
	}

	// cancelled on stop so request handlers, including websocket ones, see the shutdown
	baseCtx, cancel := context.WithCancel(context.Background())
	t := s.config.timeouts
	srv := &http.Server{
		Handler:           s.config.handler,
		ReadTimeout:       t.ReadTimeout,
		ReadHeaderTimeout: t.ReadHeaderTimeout,
		WriteTimeout:      t.WriteTimeout,
		IdleTimeout:       t.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	for _, opt := range s.config.httpOpts {
		if err := opt(srv); err != nil {
			cancel()
			return fmt.Errorf("failed to apply HTTP option: %w", err)
		}
	}
	listener, err := net.Listen("tcp", s.config.listenAddr)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to bind to address %q: %w", s.config.listenAddr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()
	select {
	case err := <-errCh:
		cancel()
		return fmt.Errorf("http server failed: %w", err)
	case <-time.After(standupWait):
	}
	s.srv, s.listener, s.cancel = srv, listener, cancel
	return nil
}

func (s *HTTPServer) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.srv == nil
}

// Stop waits for active connections to finish until ctx is done, then closes them.
func (s *HTTPServer) Stop(ctx context.Context) error {
	err := s.Shutdown(ctx)
	if err != nil && errors.Is(err, ctx.Err()) {
		return s.Close()
	}
	return err
}

// Shutdown closes the listener and waits for active connections to go idle.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.halt(func(srv *http.Server) error { return srv.Shutdown(ctx) })
}

// Close closes the listener and every active connection.
func (s *HTTPServer) Close() error {
	return s.halt(func(srv *http.Server) error { return srv.Close() })
}

func (s *HTTPServer) halt(fn func(srv *http.Server) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return nil
	}
	s.cancel()
	if err := fn(s.srv); err != nil {
		return err
	}
	s.srv, s.listener, s.cancel = nil, nil, nil
	return nil
}

// Addr is nil while the server is stopped.
func (s *HTTPServer) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *HTTPServer) Port() (int, error) {
	addr := s.Addr()
	if addr == nil {
		return 0, errors.New("server is not running")
	}
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0, fmt.Errorf("failed to extract port from server: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("failed to convert extracted port: %w", err)
	}
	return port, nil
}

// HTTPEndpoint is empty while the server is stopped.
func (s *HTTPServer) HTTPEndpoint() string {
	addr := s.Addr()
	if addr == nil {
		return ""
	}
	return "http://" + addr.String()
}
