// Package server exposes audit runs over WebSocket: one session per
// connection at /ws/audit, plus health and ledger endpoints.
package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/brandguard/am"
	"github.com/teranos/brandguard/errors"
	"github.com/teranos/brandguard/ledger"
	"github.com/teranos/brandguard/pipeline"
	"github.com/teranos/brandguard/rules"
	"github.com/teranos/brandguard/server/wire"
)

// ErrShuttingDown is the cancellation cause given to sessions on Stop
var ErrShuttingDown = errors.Wrap(errors.ErrServiceUnavailable, "server shutting down")

// Options wires an AuditServer
type Options struct {
	Config   *am.Config
	Executor pipeline.Executor
	Ledger   *ledger.Store // nil disables /api/audits and session recording
	Rules    *rules.Active // reported by /health, optional
	Logger   *zap.SugaredLogger
}

// AuditServer accepts audit sessions and serves the HTTP surface around them
type AuditServer struct {
	cfg        *am.Config
	executor   pipeline.Executor
	ledger     *ledger.Store
	rules      *rules.Active
	milestones wire.Milestones
	logger     *zap.SugaredLogger
	upgrader   websocket.Upgrader
	limiter    *rate.Limiter // nil when admission is unlimited

	mu       sync.RWMutex
	sessions map[*Session]struct{}

	httpServer *http.Server
	startedAt  time.Time

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup
	state  atomic.Int32
}

// New creates a server ready to serve
func New(opts Options) (*AuditServer, error) {
	if opts.Config == nil {
		return nil, errors.New("server config is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("pipeline executor is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	s := &AuditServer{
		cfg:        opts.Config,
		executor:   opts.Executor,
		ledger:     opts.Ledger,
		rules:      opts.Rules,
		milestones: wire.NewMilestones(opts.Config.Audit.MilestoneStages...),
		logger:     opts.Logger.Named("server"),
		sessions:   make(map[*Session]struct{}),
		startedAt:  time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.upgrader = s.newUpgrader()
	if n := opts.Config.Server.MaxSessionsPerMinute; n > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(float64(n)/60), n)
	}
	s.setState(ServerStateRunning)
	return s, nil
}

// getState returns the current server state
func (s *AuditServer) getState() ServerState {
	return ServerState(s.state.Load())
}

// setState atomically updates the server state
func (s *AuditServer) setState(next ServerState) {
	s.state.Store(int32(next))
	s.logger.Infow("Server state changed", "new_state", next.String())
}

// ActiveSessions returns the number of sessions currently open
func (s *AuditServer) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// admit registers sess unless the server has left the running state.
// Stop flips the state under the same lock, so no session is added to
// the wait group once Stop may be waiting on it.
func (s *AuditServer) admit(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getState() != ServerStateRunning {
		return false
	}
	s.wg.Add(1)
	s.sessions[sess] = struct{}{}
	return true
}

func (s *AuditServer) release(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
	s.wg.Done()
}

// newSession builds a session wired to this server's collaborators
func (s *AuditServer) newSession() *Session {
	cfg := SessionConfig{
		Executor:   s.executor,
		Milestones: s.milestones,
		Timeout:    s.cfg.AuditTimeout(),
		Logger:     s.logger.Named("session"),
	}
	// A nil *ledger.Store must not become a non-nil Recorder
	if s.ledger != nil {
		cfg.Recorder = s.ledger
	}
	return NewSession(cfg)
}
