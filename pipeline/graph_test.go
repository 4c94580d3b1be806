package pipeline

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teranos/brandguard/audit"
	"github.com/teranos/brandguard/errors"
	"github.com/teranos/brandguard/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func noopStage(name string) Stage {
	return NewStage(name, func(ctx context.Context, st *audit.State, emit Emitter) (audit.Update, error) {
		return audit.Update{}, nil
	})
}

// drain pulls every event until the stream ends and returns the terminal error
func drain(t *testing.T, s EventStream) ([]Event, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var events []Event
	for {
		ev, err := s.Next(ctx)
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

func labels(events []Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = string(ev.Kind) + ":" + ev.Name
	}
	return out
}

func indexOf(t *testing.T, ls []string, want string) int {
	t.Helper()
	for i, l := range ls {
		if l == want {
			return i
		}
	}
	t.Fatalf("%s not found in %v", want, ls)
	return -1
}

func TestGraph_LinearOrder(t *testing.T) {
	g := NewGraph("audit", nil).
		MustAddStage(noopStage("indexer")).
		MustAddStage(noopStage("auditor"), "indexer")

	stream, err := g.Stream(context.Background(), audit.NewState("u", "v"))
	require.NoError(t, err)
	defer stream.Close()

	events, err := drain(t, stream)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{
		"on_chain_start:audit",
		"on_chain_start:indexer",
		"on_chain_end:indexer",
		"on_chain_start:auditor",
		"on_chain_end:auditor",
		"on_chain_end:audit",
	}, labels(events))

	// Exhausted streams keep reporting EOF
	_, err = stream.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestGraph_ParallelBranchesJoin(t *testing.T) {
	appendFinding := func(name string) Stage {
		return NewStage(name, func(ctx context.Context, st *audit.State, emit Emitter) (audit.Update, error) {
			return audit.Update{ComplianceResults: []audit.Finding{{Category: name, Severity: audit.SeverityWarning}}}, nil
		})
	}

	var findingsAtJoin int
	join := NewStage("auditor", func(ctx context.Context, st *audit.State, emit Emitter) (audit.Update, error) {
		findingsAtJoin = len(st.Snapshot().ComplianceResults)
		return audit.Update{}, nil
	})

	g := NewGraph("audit", nil).
		MustAddStage(noopStage("indexer")).
		MustAddStage(appendFinding("transcriber"), "indexer").
		MustAddStage(appendFinding("ocr"), "indexer").
		MustAddStage(join, "transcriber", "ocr")

	state := audit.NewState("u", "v")
	stream, err := g.Stream(context.Background(), state)
	require.NoError(t, err)

	events, err := drain(t, stream)
	require.ErrorIs(t, err, io.EOF)
	ls := labels(events)
	require.Len(t, ls, 10)

	for _, stage := range []string{"indexer", "transcriber", "ocr", "auditor"} {
		assert.Less(t, indexOf(t, ls, "on_chain_start:"+stage), indexOf(t, ls, "on_chain_end:"+stage))
	}
	assert.Less(t, indexOf(t, ls, "on_chain_end:indexer"), indexOf(t, ls, "on_chain_start:ocr"))
	assert.Less(t, indexOf(t, ls, "on_chain_end:ocr"), indexOf(t, ls, "on_chain_start:auditor"))
	assert.Less(t, indexOf(t, ls, "on_chain_end:transcriber"), indexOf(t, ls, "on_chain_start:auditor"))

	assert.Equal(t, 2, findingsAtJoin)
	assert.Equal(t, 2, state.FindingCount())
}

func TestGraph_StreamChunksBetweenStartAndEnd(t *testing.T) {
	chatty := NewStage("auditor", func(ctx context.Context, st *audit.State, emit Emitter) (audit.Update, error) {
		for i := 0; i < 3; i++ {
			if err := emit(map[string]any{"i": i}); err != nil {
				return audit.Update{}, err
			}
		}
		return audit.Update{}, nil
	})

	stream, err := NewGraph("audit", nil).MustAddStage(chatty).Stream(context.Background(), audit.NewState("u", "v"))
	require.NoError(t, err)

	events, err := drain(t, stream)
	require.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 7)
	for i, ev := range events[2:5] {
		assert.Equal(t, EventChunk, ev.Kind)
		assert.Equal(t, map[string]any{"i": i}, ev.Data["chunk"])
	}
}

func TestGraph_EndEventCarriesUpdate(t *testing.T) {
	status := audit.StatusPass
	reporter := NewStage("reporter", func(ctx context.Context, st *audit.State, emit Emitter) (audit.Update, error) {
		return audit.Update{FinalStatus: &status}, nil
	})

	stream, err := NewGraph("audit", nil).MustAddStage(reporter).Stream(context.Background(), audit.NewState("u", "v"))
	require.NoError(t, err)
	events, _ := drain(t, stream)

	out, ok := events[2].Data["output"].(audit.Update)
	require.True(t, ok)
	assert.Equal(t, audit.StatusPass, *out.FinalStatus)

	final, ok := events[3].Data["output"].(audit.Snapshot)
	require.True(t, ok)
	assert.Equal(t, audit.StatusPass, final.FinalStatus)
}

func TestGraph_StageErrorFaultsRun(t *testing.T) {
	boom := errors.New("transcription api timeout")
	failing := NewStage("transcriber", func(ctx context.Context, st *audit.State, emit Emitter) (audit.Update, error) {
		return audit.Update{}, boom
	})
	var ranAfter atomic.Bool
	after := NewStage("auditor", func(ctx context.Context, st *audit.State, emit Emitter) (audit.Update, error) {
		ranAfter.Store(true)
		return audit.Update{}, nil
	})

	core, logs := observer.New(zapcore.WarnLevel)
	state := audit.NewState("u", "v")
	stream, err := NewGraph("audit", zap.New(core).Sugar()).
		MustAddStage(failing).
		MustAddStage(after, "transcriber").
		Stream(context.Background(), state)
	require.NoError(t, err)

	events, err := drain(t, stream)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Contains(t, labels(events), "on_chain_error:transcriber")
	assert.False(t, ranAfter.Load())
	assert.Equal(t, 1, state.ErrorCount())

	failed := logs.FilterMessage("Stage failed").All()
	require.Len(t, failed, 1)
	fields := failed[0].ContextMap()
	assert.Equal(t, "transcriber", fields[logger.FieldStage])
	assert.Contains(t, fields, logger.FieldError)
}

func TestGraph_PanicBecomesError(t *testing.T) {
	panicky := NewStage("ocr", func(ctx context.Context, st *audit.State, emit Emitter) (audit.Update, error) {
		panic("nil frame")
	})

	stream, err := NewGraph("audit", nil).MustAddStage(panicky).Stream(context.Background(), audit.NewState("u", "v"))
	require.NoError(t, err)

	_, err = drain(t, stream)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestGraph_CloseCancelsBlockedStage(t *testing.T) {
	started := make(chan struct{})
	stopped := make(chan struct{})
	blocking := NewStage("indexer", func(ctx context.Context, st *audit.State, emit Emitter) (audit.Update, error) {
		close(started)
		<-ctx.Done()
		close(stopped)
		return audit.Update{}, ctx.Err()
	})

	stream, err := NewGraph("audit", nil).MustAddStage(blocking).Stream(context.Background(), audit.NewState("u", "v"))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = stream.Next(ctx) // graph start
	require.NoError(t, err)
	_, err = stream.Next(ctx) // indexer start
	require.NoError(t, err)
	<-started

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close(), "close is idempotent")

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stage was not cancelled")
	}
}

func TestGraph_NextHonoursCallerContext(t *testing.T) {
	blocking := NewStage("indexer", func(ctx context.Context, st *audit.State, emit Emitter) (audit.Update, error) {
		<-ctx.Done()
		return audit.Update{}, ctx.Err()
	})
	stream, err := NewGraph("audit", nil).MustAddStage(blocking).Stream(context.Background(), audit.NewState("u", "v"))
	require.NoError(t, err)
	defer stream.Close()

	cause := errors.New("client went away")
	ctx, cancel := context.WithCancelCause(context.Background())
	_, _ = stream.Next(ctx)
	_, _ = stream.Next(ctx)
	cancel(cause)

	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, cause)
}

func TestGraph_AddStageValidation(t *testing.T) {
	g := NewGraph("audit", nil)
	require.NoError(t, g.AddStage(noopStage("indexer")))

	assert.Error(t, g.AddStage(noopStage("")))
	assert.Error(t, g.AddStage(noopStage("indexer")), "duplicate")
	assert.Error(t, g.AddStage(noopStage("auditor"), "missing"), "unknown dependency")
	assert.Error(t, g.AddStage(noopStage("audit")), "graph name collision")

	assert.Equal(t, []string{"indexer"}, g.Stages())
}

func TestGraph_NilState(t *testing.T) {
	_, err := NewGraph("audit", nil).Stream(context.Background(), nil)
	assert.Error(t, err)
}

func TestExecutorFunc(t *testing.T) {
	var called bool
	var exec Executor = ExecutorFunc(func(ctx context.Context, st *audit.State) (EventStream, error) {
		called = true
		return nil, errors.New("unavailable")
	})
	_, err := exec.Stream(context.Background(), audit.NewState("u", "v"))
	assert.Error(t, err)
	assert.True(t, called)
}
