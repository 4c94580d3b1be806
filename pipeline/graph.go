package pipeline

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/teranos/brandguard/audit"
	"github.com/teranos/brandguard/errors"
	"github.com/teranos/brandguard/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Graph is a DAG of stages. Dependencies must be added before their
// dependents, so a Graph can never contain a cycle.
type Graph struct {
	name   string
	order  []string
	stages map[string]Stage
	deps   map[string][]string
	logger *zap.SugaredLogger
}

// NewGraph creates an empty graph. The name is used for the run-level
// start and end events.
func NewGraph(name string, log *zap.SugaredLogger) *Graph {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Graph{
		name:   name,
		stages: make(map[string]Stage),
		deps:   make(map[string][]string),
		logger: log,
	}
}

// Name returns the graph name
func (g *Graph) Name() string { return g.name }

// Stages returns stage names in insertion order
func (g *Graph) Stages() []string {
	return append([]string(nil), g.order...)
}

// AddStage adds s, to run after every stage named in after.
// Stages without dependencies start as soon as the run begins; stages
// sharing the same dependencies run in parallel.
func (g *Graph) AddStage(s Stage, after ...string) error {
	name := s.Name()
	if name == "" {
		return errors.New("stage name is empty")
	}
	if name == g.name {
		return errors.Newf("stage %q collides with the graph name", name)
	}
	if _, exists := g.stages[name]; exists {
		return errors.Newf("stage %q already added", name)
	}
	for _, dep := range after {
		if _, ok := g.stages[dep]; !ok {
			return errors.Newf("stage %q depends on unknown stage %q", name, dep)
		}
	}
	g.stages[name] = s
	g.deps[name] = append([]string(nil), after...)
	g.order = append(g.order, name)
	return nil
}

// MustAddStage is AddStage for static graph construction
func (g *Graph) MustAddStage(s Stage, after ...string) *Graph {
	if err := g.AddStage(s, after...); err != nil {
		panic(err)
	}
	return g
}

// Stream starts the run in the background. Events are handed over through
// an unbuffered channel, so stages advance only as fast as the consumer
// pulls.
func (g *Graph) Stream(ctx context.Context, state *audit.State) (EventStream, error) {
	if state == nil {
		return nil, errors.New("nil audit state")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s := &graphStream{
		events: make(chan Event),
		cancel: cancel,
	}
	go s.run(runCtx, g, state)
	return s, nil
}

type graphStream struct {
	events    chan Event
	err       error // written before events is closed
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Next blocks until the next event, the end of the run, or ctx is done
func (s *graphStream) Next(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			if s.err != nil {
				return Event{}, s.err
			}
			return Event{}, io.EOF
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, context.Cause(ctx)
	}
}

// Close cancels the run
func (s *graphStream) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}

func (s *graphStream) emit(ctx context.Context, ev Event) error {
	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (s *graphStream) run(ctx context.Context, g *Graph, state *audit.State) {
	defer close(s.events)
	defer s.cancel()

	if err := s.emit(ctx, Event{Kind: EventStart, Name: g.name, Data: map[string]any{"input": state.Snapshot()}}); err != nil {
		s.err = err
		return
	}

	group, gctx := errgroup.WithContext(ctx)
	done := make(map[string]chan struct{}, len(g.order))
	for _, name := range g.order {
		done[name] = make(chan struct{})
	}

	for _, name := range g.order {
		stage := g.stages[name]
		deps := g.deps[name]
		finished := done[name]
		group.Go(func() error {
			for _, dep := range deps {
				select {
				case <-done[dep]:
				case <-gctx.Done():
					return context.Cause(gctx)
				}
			}
			if err := s.runStage(gctx, g, stage, state); err != nil {
				return err
			}
			close(finished)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		s.err = err
		return
	}

	final := state.Snapshot()
	if err := s.emit(ctx, Event{Kind: EventEnd, Name: g.name, Data: map[string]any{"output": final}}); err != nil {
		s.err = err
	}
}

func (s *graphStream) runStage(ctx context.Context, g *Graph, stage Stage, state *audit.State) error {
	name := stage.Name()
	if err := s.emit(ctx, Event{Kind: EventStart, Name: name, Data: map[string]any{"input": state.Snapshot()}}); err != nil {
		return err
	}

	emit := func(chunk map[string]any) error {
		return s.emit(ctx, Event{Kind: EventChunk, Name: name, Data: map[string]any{"chunk": chunk}})
	}

	update, runErr := func() (u audit.Update, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Newf("stage %s panicked: %v", name, r)
			}
		}()
		return stage.Run(ctx, state, emit)
	}()

	if runErr != nil {
		// A cancelled run is not a stage fault
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		state.AppendError(fmt.Sprintf("%s: %v", name, runErr))
		g.logger.Warnw("Stage failed", logger.FieldStage, name, logger.FieldError, runErr)
		if err := s.emit(ctx, Event{Kind: EventError, Name: name, Data: map[string]any{"error": runErr.Error()}}); err != nil {
			return err
		}
		return errors.Wrapf(runErr, "stage %s", name)
	}

	if err := state.Apply(update); err != nil {
		// Rejection already recorded in the state's error log
		g.logger.Warnw("Stage update partially rejected", logger.FieldStage, name, logger.FieldError, err)
	}

	return s.emit(ctx, Event{Kind: EventEnd, Name: name, Data: map[string]any{"output": update}})
}
