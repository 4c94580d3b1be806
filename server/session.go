package server

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/brandguard/audit"
	"github.com/teranos/brandguard/errors"
	"github.com/teranos/brandguard/ledger"
	"github.com/teranos/brandguard/logger"
	"github.com/teranos/brandguard/pipeline"
	"github.com/teranos/brandguard/server/wire"
)

// SessionState is one step of a session's lifecycle
type SessionState int32

const (
	StateIdle SessionState = iota
	StateHandshaking
	StateAwaitingInput
	StateRejected
	StateRunning
	StateCompleted
	StateDisconnected
	StateFaulted
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHandshaking:
		return "handshaking"
	case StateAwaitingInput:
		return "awaiting_input"
	case StateRejected:
		return "rejected"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateDisconnected:
		return "disconnected"
	case StateFaulted:
		return "faulted"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StartRequest is the first and only message a client sends
type StartRequest struct {
	VideoURL string `json:"video_url" validate:"required"`
}

var validate = validator.New()

// Acceptor completes the transport handshake
type Acceptor func() (Channel, error)

// Recorder receives session outcomes; *ledger.Store implements it
type Recorder interface {
	Start(ctx context.Context, sessionID, videoURL, videoID string) error
	Finish(ctx context.Context, sessionID string, out ledger.Outcome) error
}

// SessionConfig wires a Session's collaborators
type SessionConfig struct {
	Executor   pipeline.Executor
	Milestones wire.Milestones
	Timeout    time.Duration // zero means no deadline
	Recorder   Recorder      // optional
	Logger     *zap.SugaredLogger
	NewID      func() string // defaults to uuid.NewString
}

// Session owns one client channel from handshake to close and relays one
// audit run over it.
type Session struct {
	cfg       SessionConfig
	logger    *zap.SugaredLogger
	projector *wire.Projector

	state    atomic.Int32
	terminal atomic.Int32
	id       atomic.Value // string

	events int
}

// NewSession creates an idle session
func NewSession(cfg SessionConfig) *Session {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	s := &Session{
		cfg:       cfg,
		logger:    cfg.Logger,
		projector: wire.NewProjector(),
	}
	s.id.Store("")
	return s
}

// State returns the current lifecycle state
func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

// Outcome returns the terminal state reached before close, or StateIdle
// while the session is still in progress
func (s *Session) Outcome() SessionState { return SessionState(s.terminal.Load()) }

// ID returns the session id, empty until the run is initiated
func (s *Session) ID() string { return s.id.Load().(string) }

func (s *Session) transition(next SessionState) {
	prev := SessionState(s.state.Swap(int32(next)))
	switch next {
	case StateRejected, StateCompleted, StateDisconnected, StateFaulted:
		s.terminal.Store(int32(next))
	}
	s.logger.Debugw("Session state changed",
		logger.FieldState, next.String(),
		"previous", prev.String(),
	)
}

// Run drives the whole session and returns once the channel is closed.
// The returned error is the fault that ended the session, if any; a
// rejection or a client disconnect is a normal end and returns nil.
func (s *Session) Run(ctx context.Context, accept Acceptor) error {
	s.transition(StateHandshaking)
	ch, err := accept()
	if err != nil {
		s.transition(StateFaulted)
		s.transition(StateClosed)
		s.logger.Warnw("Handshake failed", logger.FieldError, err)
		return errors.Wrap(err, "handshake")
	}
	ch = &onceChannel{Channel: ch}
	defer s.close(ch)

	s.transition(StateAwaitingInput)
	req, err := s.receiveInitial(ch)
	if err != nil {
		if errors.IsDisconnect(err) {
			s.transition(StateDisconnected)
			s.logger.Infow("Client left before sending a request", logger.FieldError, err)
			return nil
		}
		s.transition(StateRejected)
		s.logger.Infow("Rejected audit request", logger.FieldError, err)
		s.sendBestEffort(ch, wire.Reject())
		return nil
	}

	return s.run(ctx, ch, req)
}

// receiveInitial reads and validates the start request. Anything that is
// not a JSON object with a non-empty video_url is an invalid request.
func (s *Session) receiveInitial(ch Channel) (StartRequest, error) {
	var req StartRequest
	data, err := ch.Receive()
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, errors.WrapInvalidRequest(err, "decode start request")
	}
	if err := validate.Struct(req); err != nil {
		return req, errors.WrapInvalidRequest(err, "validate start request")
	}
	return req, nil
}

func (s *Session) run(ctx context.Context, ch Channel, req StartRequest) error {
	id := s.cfg.NewID()
	s.id.Store(id)
	videoID := "vid_" + shortID(id)
	ctx = logger.WithSessionID(ctx, id)
	s.logger = logger.LoggerFromContext(ctx, s.logger).With(logger.FieldVideoID, videoID)

	state := audit.NewState(req.VideoURL, videoID)
	s.transition(StateRunning)
	s.logger.Infow("Audit started", logger.FieldVideoURL, req.VideoURL)

	if s.cfg.Recorder != nil {
		if err := s.cfg.Recorder.Start(ctx, id, req.VideoURL, videoID); err != nil {
			s.logger.Warnw("Failed to record session start", logger.FieldError, err)
		}
		defer s.record(ctx, id, state)
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if s.cfg.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeoutCause(runCtx, s.cfg.Timeout,
			errors.Wrapf(errors.ErrTimeout, "audit exceeded %s", s.cfg.Timeout))
		defer cancelTimeout()
	}

	if err := ch.Send(wire.Started(id)); err != nil {
		return s.fail(ch, err)
	}

	// Watch the read side so a client that goes away cancels the run
	// without waiting for the next send to fail. Later client messages
	// are ignored.
	watching := make(chan struct{})
	go func() {
		defer close(watching)
		for {
			if _, err := ch.Receive(); err != nil {
				cancel(errors.ErrClientDisconnected)
				return
			}
		}
	}()
	defer func() {
		s.close(ch)
		<-watching
	}()

	if err := s.drive(runCtx, ch, state); err != nil {
		return s.fail(ch, err)
	}

	s.transition(StateCompleted)
	s.logger.Infow("Audit complete",
		logger.FieldCount, s.events,
		"findings", state.FindingCount(),
		"errors", state.ErrorCount(),
	)
	return nil
}

// drive relays the executor stream until it is exhausted, then sends the
// completion message
func (s *Session) drive(ctx context.Context, ch Channel, state *audit.State) error {
	stream, err := s.cfg.Executor.Stream(ctx, state)
	if err != nil {
		return errors.Wrap(err, "start pipeline")
	}
	defer stream.Close()

	for {
		ev, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if cause := context.Cause(ctx); cause != nil {
				return cause
			}
			return err
		}

		msg, err := s.projector.Project(ev)
		if err != nil {
			return err
		}
		if s.cfg.Milestones.Is(ev) {
			s.logger.Infow("Milestone", logger.FieldStage, ev.Name, logger.FieldEventType, string(ev.Kind))
		}

		// Nothing more is sent once the client is gone
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		if err := ch.Send(msg); err != nil {
			return err
		}
		s.events++
	}

	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ch.Send(wire.Complete())
}

// fail ends a running session. A disconnect is a normal end; any other
// fault gets one best-effort error message.
func (s *Session) fail(ch Channel, err error) error {
	if errors.IsDisconnect(err) {
		s.transition(StateDisconnected)
		s.logger.Infow("Client disconnected", logger.FieldCount, s.events)
		return nil
	}
	s.transition(StateFaulted)
	s.logger.Warnw("Audit faulted", logger.FieldError, err, logger.FieldCount, s.events)
	s.sendBestEffort(ch, wire.Fault(err))
	return err
}

// sendBestEffort sends v, swallowing closed-channel failures and logging
// anything else
func (s *Session) sendBestEffort(ch Channel, v any) {
	if err := ch.Send(v); err != nil {
		if errors.IsDisconnect(err) {
			s.logger.Debugw("Best-effort send skipped, channel closed", logger.FieldError, err)
			return
		}
		s.logger.Warnw("Best-effort send failed", logger.FieldError, err)
	}
}

// close closes ch and marks the session closed. Safe to call repeatedly.
func (s *Session) close(ch Channel) {
	if err := ch.Close(); err != nil && !errors.IsDisconnect(err) {
		s.logger.Debugw("Channel close failed", logger.FieldError, err)
	}
	if s.State() != StateClosed {
		s.transition(StateClosed)
	}
}

func (s *Session) record(ctx context.Context, id string, state *audit.State) {
	out := ledger.Outcome{
		State:        s.Outcome().String(),
		EventCount:   s.events,
		FindingCount: state.FindingCount(),
		FinalStatus:  string(state.Snapshot().FinalStatus),
	}
	if errs := state.Snapshot().Errors; len(errs) > 0 {
		out.Error = errs[len(errs)-1]
	}
	// Shutdown may have cancelled ctx; the outcome is still worth keeping
	if err := s.cfg.Recorder.Finish(context.WithoutCancel(ctx), id, out); err != nil {
		s.logger.Warnw("Failed to record session outcome", logger.FieldError, err)
	}
}

// onceChannel guarantees the underlying Close runs exactly once however
// many exit paths reach it
type onceChannel struct {
	Channel
	once sync.Once
	err  error
}

func (c *onceChannel) Close() error {
	c.once.Do(func() { c.err = c.Channel.Close() })
	return c.err
}

// shortID truncates an ID to 8 characters
func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
