package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomwork/loom/graph"
	graphmem "github.com/loomwork/loom/graph/inmem"
	"github.com/loomwork/loom/run"
	runmem "github.com/loomwork/loom/run/inmem"
	"github.com/loomwork/loom/state"
	"github.com/loomwork/loom/stream"
	"github.com/loomwork/loom/tools"
)

type testEnv struct {
	engine *Engine
	graphs *graphmem.Store
	runs   *runmem.Store
	reg    *tools.Registry
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	graphs := graphmem.New()
	runs := runmem.New()
	reg := tools.NewRegistry()
	return &testEnv{
		engine: New(graphs, runs, reg, opts...),
		graphs: graphs,
		runs:   runs,
		reg:    reg,
	}
}

func (env *testEnv) createGraph(t *testing.T, def *graph.Definition) string {
	t.Helper()
	id, err := env.graphs.Create(context.Background(), def)
	require.NoError(t, err)
	return id
}

func (env *testEnv) getRun(t *testing.T, id string) *run.Record {
	t.Helper()
	record, err := env.runs.Get(context.Background(), id)
	require.NoError(t, err)
	return record
}

// setKey returns a tool that writes a single key into the state document.
func setKey(key string, value any) tools.Func {
	return func(_ context.Context, doc state.Document) (tools.Result, error) {
		doc[key] = value
		return tools.Result{State: doc}, nil
	}
}

// increment returns a tool that bumps an integer counter in the document.
func increment(key string) tools.Func {
	return func(_ context.Context, doc state.Document) (tools.Result, error) {
		n, _ := doc[key].(int)
		doc[key] = n + 1
		return tools.Result{State: doc}, nil
	}
}

// captureSink records published events in order. Setting err makes every
// Send fail.
type captureSink struct {
	mu     sync.Mutex
	events []stream.Event
	err    error
}

func (s *captureSink) Send(_ context.Context, event stream.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) Close(context.Context) error { return nil }

func (s *captureSink) Events() []stream.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stream.Event(nil), s.events...)
}

func TestExecuteLinearGraphCompletes(t *testing.T) {
	env := newTestEnv(t)
	env.reg.Register("greet", setKey("greeting", "hello"), "writes a greeting")
	env.reg.Register("enrich", setKey("enriched", true), "marks the state enriched")
	env.reg.Register("finish", setKey("done", true), "marks the state done")
	id := env.createGraph(t, &graph.Definition{
		Name:      "Greeting Flow",
		StartNode: "a",
		Nodes:     map[string]string{"a": "greet", "b": "enrich", "c": "finish"},
		Edges:     map[string]string{"a": "b", "b": "c"},
	})

	out, err := env.engine.Execute(context.Background(), Request{
		GraphID:      id,
		InitialState: state.Document{"input": "x"},
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out.RunID, "greeting-flow-"), "run id %q must carry the graph name prefix", out.RunID)
	require.Equal(t, state.Document{"input": "x", "greeting": "hello", "enriched": true, "done": true}, out.FinalState)

	require.Len(t, out.Log, 3)
	for i, step := range out.Log {
		require.Equal(t, i, step.Index)
	}
	require.Equal(t, "a", out.Log[0].Node)
	require.Equal(t, "greet", out.Log[0].Tool)
	require.Equal(t, state.Document{"input": "x"}, out.Log[0].Input)
	require.Equal(t, state.Document{"input": "x", "greeting": "hello"}, out.Log[0].Output)
	require.Equal(t, "b", out.Log[1].Node)
	require.Equal(t, "c", out.Log[2].Node)

	record := env.getRun(t, out.RunID)
	require.Equal(t, run.StatusCompleted, record.Status)
	require.Empty(t, record.CurrentNode)
	require.Empty(t, record.Error)
	require.Equal(t, out.FinalState, record.State)
	require.Len(t, record.Log, 3)
	require.False(t, record.UpdatedAt.Before(record.StartedAt))
}

func TestExecuteSelfLoopStopsAtBudget(t *testing.T) {
	env := newTestEnv(t)
	env.reg.Register("count", increment("count"), "")
	id := env.createGraph(t, &graph.Definition{
		Name:      "loop",
		StartNode: "n",
		Nodes:     map[string]string{"n": "count"},
		Edges:     map[string]string{"n": "n"},
	})

	out, err := env.engine.Execute(context.Background(), Request{GraphID: id, MaxSteps: 5})
	require.Nil(t, out)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	require.ErrorIs(t, err, ErrMaxSteps)

	record := env.getRun(t, runErr.RunID)
	require.Equal(t, run.StatusFailed, record.Status)
	require.Equal(t, "max steps reached", record.Error)
	require.Len(t, record.Log, 5)
	require.Equal(t, 5, record.State["count"])
	require.Equal(t, "n", record.CurrentNode)
}

func TestExecuteBudgetCheckPrecedesTerminalCheck(t *testing.T) {
	env := newTestEnv(t)
	env.reg.Register("mark", increment("visited"), "")
	id := env.createGraph(t, &graph.Definition{
		Name:      "chain",
		StartNode: "a",
		Nodes:     map[string]string{"a": "mark", "b": "mark", "c": "mark"},
		Edges:     map[string]string{"a": "b", "b": "c"},
	})

	// A budget equal to the chain length is exhausted in the same iteration
	// the terminal node would be observed, and exhaustion wins.
	out, err := env.engine.Execute(context.Background(), Request{GraphID: id, MaxSteps: 3})
	require.Nil(t, out)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	require.ErrorIs(t, err, ErrMaxSteps)
	record := env.getRun(t, runErr.RunID)
	require.Equal(t, run.StatusFailed, record.Status)
	require.Len(t, record.Log, 3)
	require.Equal(t, 3, record.State["visited"])

	// One step of headroom lets the same chain complete.
	out, err = env.engine.Execute(context.Background(), Request{GraphID: id, MaxSteps: 4})
	require.NoError(t, err)
	require.Len(t, out.Log, 3)
	require.Equal(t, 3, out.FinalState["visited"])
}

func TestExecuteHaltOverrideEndsRunEarly(t *testing.T) {
	env := newTestEnv(t)
	env.reg.Register("first", setKey("first", true), "")
	env.reg.Register("stop", func(_ context.Context, doc state.Document) (tools.Result, error) {
		doc["stopped"] = true
		return tools.Result{State: doc, Next: tools.Halt()}, nil
	}, "")
	env.reg.Register("never", setKey("unreachable", true), "")
	id := env.createGraph(t, &graph.Definition{
		Name:      "halting",
		StartNode: "a",
		Nodes:     map[string]string{"a": "first", "b": "stop", "c": "never"},
		Edges:     map[string]string{"a": "b", "b": "c"},
	})

	out, err := env.engine.Execute(context.Background(), Request{GraphID: id})
	require.NoError(t, err)
	require.Len(t, out.Log, 2)
	require.NotContains(t, out.FinalState, "unreachable")
	require.Equal(t, true, out.FinalState["stopped"])

	record := env.getRun(t, out.RunID)
	require.Equal(t, run.StatusCompleted, record.Status)
	require.Empty(t, record.CurrentNode)
}

func TestExecuteGotoOverrideWinsOverStaticEdge(t *testing.T) {
	sink := &captureSink{}
	env := newTestEnv(t, WithSink(sink))
	env.reg.Register("jump", func(_ context.Context, doc state.Document) (tools.Result, error) {
		doc["jumped"] = true
		return tools.Result{State: doc, Next: tools.Goto("c")}, nil
	}, "")
	env.reg.Register("skipped", setKey("skipped", true), "")
	env.reg.Register("land", setKey("landed", true), "")
	id := env.createGraph(t, &graph.Definition{
		Name:      "branchy",
		StartNode: "a",
		Nodes:     map[string]string{"a": "jump", "b": "skipped", "c": "land"},
		Edges:     map[string]string{"a": "b", "b": "c"},
	})

	out, err := env.engine.Execute(context.Background(), Request{GraphID: id})
	require.NoError(t, err)
	require.Len(t, out.Log, 2)
	require.Equal(t, "a", out.Log[0].Node)
	require.Equal(t, "c", out.Log[1].Node)
	require.NotContains(t, out.FinalState, "skipped")
	require.Equal(t, true, out.FinalState["landed"])

	events := sink.Events()
	require.Len(t, events, 4)
	step0, ok := events[1].Payload().(stream.StepCompletedPayload)
	require.True(t, ok)
	require.True(t, step0.Overridden)
	require.Equal(t, "c", step0.NextNode)
	step1, ok := events[2].Payload().(stream.StepCompletedPayload)
	require.True(t, ok)
	require.False(t, step1.Overridden)
	require.Empty(t, step1.NextNode)
}

func TestExecuteUnknownGraphCreatesNoRun(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.engine.Execute(context.Background(), Request{GraphID: "no-such-graph"})
	require.Nil(t, out)
	require.ErrorIs(t, err, graph.ErrNotFound)
	var runErr *RunError
	require.False(t, errors.As(err, &runErr), "a rejected submission must not be reported as a run failure")

	records, err := env.runs.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestExecuteUnknownOverrideTargetFailsRun(t *testing.T) {
	env := newTestEnv(t)
	env.reg.Register("jump", func(_ context.Context, doc state.Document) (tools.Result, error) {
		return tools.Result{State: doc, Next: tools.Goto("ghost")}, nil
	}, "")
	id := env.createGraph(t, &graph.Definition{
		Name:      "bad-jump",
		StartNode: "a",
		Nodes:     map[string]string{"a": "jump"},
	})

	_, err := env.engine.Execute(context.Background(), Request{GraphID: id})
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)

	record := env.getRun(t, runErr.RunID)
	require.Equal(t, run.StatusFailed, record.Status)
	require.Contains(t, record.Error, `node "ghost" not found`)
	require.Len(t, record.Log, 1, "the overriding step itself must stay in the log")
}

func TestExecuteUnknownToolFailsRun(t *testing.T) {
	env := newTestEnv(t)
	id := env.createGraph(t, &graph.Definition{
		Name:      "missing-tool",
		StartNode: "a",
		Nodes:     map[string]string{"a": "ghost"},
	})

	_, err := env.engine.Execute(context.Background(), Request{GraphID: id})
	require.ErrorIs(t, err, tools.ErrNotFound)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)

	record := env.getRun(t, runErr.RunID)
	require.Equal(t, run.StatusFailed, record.Status)
	require.Contains(t, record.Error, `"ghost"`)
	require.Empty(t, record.Log)
}

func TestExecuteToolErrorFailsRun(t *testing.T) {
	env := newTestEnv(t)
	env.reg.Register("first", setKey("first", true), "")
	env.reg.Register("explode", func(context.Context, state.Document) (tools.Result, error) {
		return tools.Result{}, errors.New("boom")
	}, "")
	id := env.createGraph(t, &graph.Definition{
		Name:      "exploding",
		StartNode: "a",
		Nodes:     map[string]string{"a": "first", "b": "explode"},
		Edges:     map[string]string{"a": "b"},
	})

	_, err := env.engine.Execute(context.Background(), Request{GraphID: id})
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)

	record := env.getRun(t, runErr.RunID)
	require.Equal(t, run.StatusFailed, record.Status)
	require.Equal(t, `tool "explode" failed: boom`, record.Error)
	require.Len(t, record.Log, 1, "steps before the failure stay queryable")
	require.Equal(t, true, record.State["first"])
}

func TestExecuteNilResultStateFailsRun(t *testing.T) {
	env := newTestEnv(t)
	env.reg.Register("void", func(context.Context, state.Document) (tools.Result, error) {
		return tools.Result{}, nil
	}, "")
	id := env.createGraph(t, &graph.Definition{
		Name:      "voiding",
		StartNode: "a",
		Nodes:     map[string]string{"a": "void"},
	})

	_, err := env.engine.Execute(context.Background(), Request{GraphID: id})
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	record := env.getRun(t, runErr.RunID)
	require.Equal(t, `tool "void" returned no state`, record.Error)
	require.Empty(t, record.Log)
}

func TestExecuteStateSnapshotsAreIsolated(t *testing.T) {
	env := newTestEnv(t)
	env.reg.Register("push", func(_ context.Context, doc state.Document) (tools.Result, error) {
		items, _ := doc["items"].([]any)
		doc["items"] = append(items, "two")
		return tools.Result{State: doc}, nil
	}, "")
	id := env.createGraph(t, &graph.Definition{
		Name:      "isolated",
		StartNode: "a",
		Nodes:     map[string]string{"a": "push"},
	})

	initial := state.Document{"items": []any{"one"}}
	out, err := env.engine.Execute(context.Background(), Request{GraphID: id, InitialState: initial})
	require.NoError(t, err)

	// Mutating the caller's document after submission must not reach the
	// stored record.
	initial["items"].([]any)[0] = "mutated"
	record := env.getRun(t, out.RunID)
	require.Equal(t, "one", record.Log[0].Input["items"].([]any)[0])

	// Mutating the returned outcome must not reach the stored record either.
	out.FinalState["items"].([]any)[0] = "hacked"
	out.Log[0].Output["items"].([]any)[0] = "hacked"
	record = env.getRun(t, out.RunID)
	require.Equal(t, "one", record.State["items"].([]any)[0])
	require.Equal(t, "one", record.Log[0].Output["items"].([]any)[0])
}

func TestExecuteReportsRunningMidRun(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})

	env := newTestEnv(t)
	env.reg.Register("fast", setKey("a", true), "")
	env.reg.Register("slow", func(_ context.Context, doc state.Document) (tools.Result, error) {
		entered <- struct{}{}
		<-release
		doc["b"] = true
		return tools.Result{State: doc}, nil
	}, "")
	id := env.createGraph(t, &graph.Definition{
		Name:      "inflight",
		StartNode: "a",
		Nodes:     map[string]string{"a": "fast", "b": "slow"},
		Edges:     map[string]string{"a": "b"},
	})

	var (
		out  *Outcome
		err  error
		done = make(chan struct{})
	)
	go func() {
		defer close(done)
		out, err = env.engine.Execute(context.Background(), Request{GraphID: id})
	}()

	<-entered
	records, lerr := env.runs.List(context.Background())
	require.NoError(t, lerr)
	require.Len(t, records, 1)
	mid := records[0]
	require.Equal(t, run.StatusRunning, mid.Status)
	require.Equal(t, "b", mid.CurrentNode)
	require.Len(t, mid.Log, 1)
	require.Equal(t, true, mid.State["a"])

	close(release)
	<-done
	require.NoError(t, err)
	require.Equal(t, run.StatusCompleted, env.getRun(t, out.RunID).Status)
}

func TestExecuteCanceledContextFailsRun(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})

	env := newTestEnv(t)
	env.reg.Register("block", func(_ context.Context, doc state.Document) (tools.Result, error) {
		entered <- struct{}{}
		<-release
		return tools.Result{State: doc}, nil
	}, "")
	env.reg.Register("never", setKey("unreachable", true), "")
	id := env.createGraph(t, &graph.Definition{
		Name:      "cancelable",
		StartNode: "a",
		Nodes:     map[string]string{"a": "block", "b": "never"},
		Edges:     map[string]string{"a": "b"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	var (
		err  error
		done = make(chan struct{})
	)
	go func() {
		defer close(done)
		_, err = env.engine.Execute(ctx, Request{GraphID: id})
	}()

	<-entered
	cancel()
	close(release)
	<-done

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	require.ErrorIs(t, err, context.Canceled)

	// The terminal record lands despite the canceled context.
	record := env.getRun(t, runErr.RunID)
	require.Equal(t, run.StatusFailed, record.Status)
	require.Contains(t, record.Error, "context canceled")
}

func TestExecuteAppliesDefaultMaxSteps(t *testing.T) {
	env := newTestEnv(t, WithDefaultMaxSteps(3))
	env.reg.Register("count", increment("count"), "")
	id := env.createGraph(t, &graph.Definition{
		Name:      "defaulted",
		StartNode: "n",
		Nodes:     map[string]string{"n": "count"},
		Edges:     map[string]string{"n": "n"},
	})

	_, err := env.engine.Execute(context.Background(), Request{GraphID: id})
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	require.ErrorIs(t, err, ErrMaxSteps)
	require.Len(t, env.getRun(t, runErr.RunID).Log, 3)
}

func TestExecuteEmitsLifecycleEvents(t *testing.T) {
	sink := &captureSink{}
	env := newTestEnv(t, WithSink(sink))
	env.reg.Register("one", setKey("one", true), "")
	env.reg.Register("two", setKey("two", true), "")
	id := env.createGraph(t, &graph.Definition{
		Name:      "eventful",
		StartNode: "a",
		Nodes:     map[string]string{"a": "one", "b": "two"},
		Edges:     map[string]string{"a": "b"},
	})

	out, err := env.engine.Execute(context.Background(), Request{GraphID: id})
	require.NoError(t, err)

	events := sink.Events()
	require.Len(t, events, 4)
	types := make([]stream.EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type()
		require.Equal(t, out.RunID, ev.RunID())
		require.Equal(t, id, ev.GraphID())
	}
	require.Equal(t, []stream.EventType{
		stream.EventRunStarted,
		stream.EventStepCompleted,
		stream.EventStepCompleted,
		stream.EventRunCompleted,
	}, types)

	started, ok := events[0].Payload().(stream.RunStartedPayload)
	require.True(t, ok)
	require.Equal(t, "eventful", started.GraphName)
	require.Equal(t, "a", started.StartNode)
	require.Equal(t, DefaultMaxSteps, started.MaxSteps)

	completed, ok := events[3].Payload().(stream.RunCompletedPayload)
	require.True(t, ok)
	require.Equal(t, 2, completed.Steps)
}

func TestExecuteFailureEmitsRunFailed(t *testing.T) {
	sink := &captureSink{}
	env := newTestEnv(t, WithSink(sink))
	env.reg.Register("count", increment("count"), "")
	id := env.createGraph(t, &graph.Definition{
		Name:      "loop",
		StartNode: "n",
		Nodes:     map[string]string{"n": "count"},
		Edges:     map[string]string{"n": "n"},
	})

	_, err := env.engine.Execute(context.Background(), Request{GraphID: id, MaxSteps: 2})
	require.Error(t, err)

	events := sink.Events()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, stream.EventRunFailed, last.Type())
	failed, ok := last.Payload().(stream.RunFailedPayload)
	require.True(t, ok)
	require.Equal(t, 2, failed.Steps)
	require.Equal(t, "max steps reached", failed.Error)
}

func TestExecuteSinkFailureDoesNotFailRun(t *testing.T) {
	sink := &captureSink{err: errors.New("pipe closed")}
	env := newTestEnv(t, WithSink(sink))
	env.reg.Register("one", setKey("one", true), "")
	id := env.createGraph(t, &graph.Definition{
		Name:      "quiet",
		StartNode: "a",
		Nodes:     map[string]string{"a": "one"},
	})

	out, err := env.engine.Execute(context.Background(), Request{GraphID: id})
	require.NoError(t, err)
	require.Equal(t, run.StatusCompleted, env.getRun(t, out.RunID).Status)
}

func TestExecuteGateLoopIsDeterministic(t *testing.T) {
	env := newTestEnv(t)
	env.reg.Register("improve", increment("score"), "")
	env.reg.Register("gate", func(_ context.Context, doc state.Document) (tools.Result, error) {
		score, _ := doc["score"].(int)
		threshold, _ := doc["threshold"].(int)
		if score < threshold {
			return tools.Result{State: doc, Next: tools.Goto("improve")}, nil
		}
		return tools.Result{State: doc, Next: tools.Halt()}, nil
	}, "")
	id := env.createGraph(t, &graph.Definition{
		Name:      "gated",
		StartNode: "improve",
		Nodes:     map[string]string{"improve": "improve", "gate": "gate"},
		Edges:     map[string]string{"improve": "gate"},
	})

	// Each improve pass raises the score by one, so a threshold of three
	// loops the gate exactly twice before letting the run finish.
	runOnce := func() []string {
		out, err := env.engine.Execute(context.Background(), Request{
			GraphID:      id,
			InitialState: state.Document{"threshold": 3},
		})
		require.NoError(t, err)
		require.Equal(t, 3, out.FinalState["score"])
		nodes := make([]string, len(out.Log))
		for i, step := range out.Log {
			nodes[i] = step.Node
		}
		return nodes
	}

	want := []string{"improve", "gate", "improve", "gate", "improve", "gate"}
	require.Equal(t, want, runOnce())
	require.Equal(t, want, runOnce(), "a fixed threshold and input must reproduce the same loop count")
}

func TestRunErrorMessageAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &RunError{RunID: "run-1", Err: cause}
	require.EqualError(t, err, "run run-1 failed: boom")
	require.ErrorIs(t, err, cause)
}
