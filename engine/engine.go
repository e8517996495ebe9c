// Package engine implements the workflow run state machine. Given a graph
// id and an initial state document, the engine drives node-by-node
// execution: it resolves each node's tool, invokes it with a snapshot of
// the working state, appends the step to the run log, resolves the next
// node from the tool's routing override or the graph's static edge table,
// and commits incremental progress to the run store so concurrent readers
// observe the run live.
//
// Execution is strictly sequential within a run; distinct runs are
// independent and may execute concurrently. A step budget bounds every run
// since self-referencing edges and overrides are legitimate loop
// constructs.
package engine

import (
	"time"

	"github.com/loomwork/loom/graph"
	"github.com/loomwork/loom/run"
	"github.com/loomwork/loom/state"
	"github.com/loomwork/loom/stream"
	"github.com/loomwork/loom/telemetry"
	"github.com/loomwork/loom/tools"
)

// DefaultMaxSteps is the step budget applied when a request does not carry
// one.
const DefaultMaxSteps = 50

type (
	// Engine executes workflow graphs. Construct with New; the zero value
	// is not usable.
	Engine struct {
		graphs   graph.Store
		runs     run.Store
		registry *tools.Registry

		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer
		sink    stream.Sink

		toolTimeout     time.Duration
		defaultMaxSteps int
	}

	// Option configures an Engine.
	Option func(*Engine)

	// Request describes one run submission.
	Request struct {
		// GraphID identifies the graph definition to execute.
		GraphID string
		// InitialState seeds the run's working state. The engine deep-copies
		// it; later caller mutations never affect the run and engine
		// mutations never affect the caller's document.
		InitialState state.Document
		// MaxSteps bounds the number of executed steps. Zero or negative
		// applies the engine default.
		MaxSteps int
	}

	// Outcome is returned when a run completes successfully. Failed runs
	// return a *RunError instead; their partial log stays queryable through
	// the run store.
	Outcome struct {
		// RunID identifies the completed run.
		RunID string
		// FinalState is the working state after the last step.
		FinalState state.Document
		// Log is the full execution step log.
		Log []run.Step
	}
)

// New constructs an Engine backed by the given stores and tool registry.
// Telemetry defaults to no-op implementations and no stream sink is
// configured unless options say otherwise.
func New(graphs graph.Store, runs run.Store, registry *tools.Registry, opts ...Option) *Engine {
	e := &Engine{
		graphs:          graphs,
		runs:            runs,
		registry:        registry,
		logger:          telemetry.NewNoopLogger(),
		metrics:         telemetry.NewNoopMetrics(),
		tracer:          telemetry.NewNoopTracer(),
		defaultMaxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithLogger sets the logger runs are instrumented through.
func WithLogger(logger telemetry.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = metrics }
}

// WithTracer sets the tracer.
func WithTracer(tracer telemetry.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// WithSink sets the stream sink run events are published to. Publication
// is best-effort: sink errors are logged and never fail the run.
func WithSink(sink stream.Sink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithToolTimeout bounds each tool invocation with a context deadline. The
// deadline is cooperative: tools that ignore their context still block the
// run.
func WithToolTimeout(d time.Duration) Option {
	return func(e *Engine) { e.toolTimeout = d }
}

// WithDefaultMaxSteps overrides the step budget applied to requests that
// do not carry one.
func WithDefaultMaxSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.defaultMaxSteps = n
		}
	}
}
