package pipeline

import (
	"context"

	"github.com/teranos/brandguard/audit"
)

// Emitter publishes an intermediate chunk from a running stage.
// It returns an error once the run has been cancelled.
type Emitter func(chunk map[string]any) error

// Stage is one named unit of work. Run may read the shared state through
// Snapshot and returns its contribution; the executor applies it.
type Stage interface {
	Name() string
	Run(ctx context.Context, state *audit.State, emit Emitter) (audit.Update, error)
}

type stageFunc struct {
	name string
	fn   func(ctx context.Context, state *audit.State, emit Emitter) (audit.Update, error)
}

func (s stageFunc) Name() string { return s.name }

func (s stageFunc) Run(ctx context.Context, state *audit.State, emit Emitter) (audit.Update, error) {
	return s.fn(ctx, state, emit)
}

// NewStage wraps a function as a Stage
func NewStage(name string, fn func(ctx context.Context, state *audit.State, emit Emitter) (audit.Update, error)) Stage {
	return stageFunc{name: name, fn: fn}
}
