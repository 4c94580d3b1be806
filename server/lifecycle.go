package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/teranos/brandguard/errors"
)

// ListenAndServe binds server.port and serves until Stop
func (s *AuditServer) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", addr)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop. It returns nil after a graceful stop.
func (s *AuditServer) Serve(ln net.Listener) error {
	hs := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}
	s.mu.Lock()
	s.httpServer = hs
	s.mu.Unlock()
	s.logger.Infow("Server ready", "address", ln.Addr().String())

	if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve")
	}
	return nil
}

// Stop refuses new sessions, cancels running ones and waits for them to
// close their channels, up to ShutdownTimeout
func (s *AuditServer) Stop() error {
	s.logger.Infow("Initiating server shutdown", "active_sessions", s.ActiveSessions())
	s.mu.Lock()
	s.setState(ServerStateDraining)
	s.mu.Unlock()

	// Hijacked WebSocket connections are not tracked by http.Server;
	// the cancelled context ends their sessions.
	s.cancel(ErrShuttingDown)

	s.mu.RLock()
	hs := s.httpServer
	s.mu.RUnlock()

	var shutdownErr error
	if hs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := hs.Shutdown(ctx); err != nil {
			shutdownErr = errors.Wrap(err, "http shutdown")
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Infow("All sessions closed")
	case <-time.After(ShutdownTimeout):
		s.logger.Warnw("Session shutdown timed out", "timeout", ShutdownTimeout, "active_sessions", s.ActiveSessions())
	}

	s.setState(ServerStateStopped)
	s.logger.Infow("Server shutdown complete")
	return shutdownErr
}
