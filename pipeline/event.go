// Package pipeline runs a directed graph of named stages over one shared
// audit.State and exposes the execution as a lazy, pull-based stream of
// events.
package pipeline

import (
	"context"

	"github.com/teranos/brandguard/audit"
)

// EventKind names a lifecycle transition observed by the executor
type EventKind string

const (
	EventStart EventKind = "on_chain_start"
	EventEnd   EventKind = "on_chain_end"
	EventChunk EventKind = "on_chain_stream"
	EventError EventKind = "on_chain_error"
)

// Event is one observation of the run. Data is an opaque payload whose
// shape depends on the stage; it may be nil.
type Event struct {
	Kind EventKind
	Name string
	Data map[string]any
}

// EventStream is a finite, non-restartable sequence of events.
// Next returns io.EOF once the graph has finished every reachable stage.
type EventStream interface {
	Next(ctx context.Context) (Event, error)
	// Close releases the run. It does not wait for stages to return.
	Close() error
}

// Executor starts a run over the given initial state
type Executor interface {
	Stream(ctx context.Context, state *audit.State) (EventStream, error)
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, state *audit.State) (EventStream, error)

// Stream calls f
func (f ExecutorFunc) Stream(ctx context.Context, state *audit.State) (EventStream, error) {
	return f(ctx, state)
}
