package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomwork/loom/run"
	"github.com/loomwork/loom/state"
	"github.com/loomwork/loom/stream"
	"github.com/loomwork/loom/tools"
)

// Execute runs the graph identified by req.GraphID to completion, failure,
// or step-budget exhaustion and returns the outcome.
//
// The run record is inserted into the run store with status running before
// the first step executes and is rewritten after every step, so Get on the
// run store observes live progress throughout. On failure Execute returns a
// *RunError carrying the run id; the record keeps the partial log and the
// failure message. An unknown graph id returns graph.ErrNotFound without
// creating a run record.
func (e *Engine) Execute(ctx context.Context, req Request) (*Outcome, error) {
	def, err := e.graphs.Get(ctx, req.GraphID)
	if err != nil {
		return nil, fmt.Errorf("resolve graph %q: %w", req.GraphID, err)
	}

	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = e.defaultMaxSteps
	}

	runID := newRunID(def.Name)
	working := state.Clone(req.InitialState)
	now := time.Now()
	record := &run.Record{
		ID:          runID,
		GraphID:     def.ID,
		Status:      run.StatusRunning,
		CurrentNode: def.StartNode,
		State:       working,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.runs.Upsert(ctx, record); err != nil {
		return nil, fmt.Errorf("store run %s: %w", runID, err)
	}

	ctx, span := e.tracer.Start(ctx, "engine.execute", trace.WithAttributes(
		attribute.String("graph.id", def.ID),
		attribute.String("graph.name", def.Name),
		attribute.String("run.id", runID),
		attribute.Int("run.max_steps", maxSteps),
	))
	defer span.End()

	e.metrics.IncCounter("engine.runs.started", 1, "graph_id", def.ID)
	e.logger.Info(ctx, "run started",
		"run_id", runID, "graph_id", def.ID, "start_node", def.StartNode, "max_steps", maxSteps)
	e.publish(ctx, stream.NewRunStarted(runID, def.ID, stream.RunStartedPayload{
		GraphName: def.Name,
		StartNode: def.StartNode,
		MaxSteps:  maxSteps,
	}))

	current := def.StartNode
	for stepIndex := 0; ; stepIndex++ {
		// The budget check precedes the terminal check: a run whose budget
		// runs out in the same iteration its next node resolves to nothing
		// still fails.
		if stepIndex >= maxSteps {
			return nil, e.fail(ctx, record, ErrMaxSteps)
		}
		if current == "" {
			return e.complete(ctx, record, working), nil
		}
		if err := ctx.Err(); err != nil {
			return nil, e.fail(ctx, record, fmt.Errorf("run canceled: %w", err))
		}

		toolName, ok := def.Nodes[current]
		if !ok {
			return nil, e.fail(ctx, record, fmt.Errorf("node %q not found in graph", current))
		}
		tool, err := e.registry.Lookup(toolName)
		if err != nil {
			return nil, e.fail(ctx, record, fmt.Errorf("tool %q: %w", toolName, err))
		}
		if tool.Fn == nil {
			return nil, e.fail(ctx, record, fmt.Errorf("tool %q has no implementation", toolName))
		}

		input := state.Clone(working)
		result, err := e.invoke(ctx, tool.Fn, state.Clone(working))
		if err != nil {
			return nil, e.fail(ctx, record, fmt.Errorf("tool %q failed: %w", toolName, err))
		}
		if result.State == nil {
			return nil, e.fail(ctx, record, fmt.Errorf("tool %q returned no state", toolName))
		}
		working = result.State

		record.Log = append(record.Log, run.Step{
			Index:  stepIndex,
			Node:   current,
			Tool:   toolName,
			Input:  input,
			Output: state.Clone(working),
		})

		next, overridden := resolveNext(result.Next, def.Edges, current)

		record.State = working
		record.CurrentNode = next
		record.UpdatedAt = time.Now()
		if err := e.runs.Upsert(ctx, record); err != nil {
			return nil, e.fail(ctx, record, fmt.Errorf("store run %s: %w", runID, err))
		}

		span.AddEvent("step", "index", stepIndex, "node", current, "tool", toolName, "next", next)
		e.metrics.IncCounter("engine.steps.executed", 1, "graph_id", def.ID, "tool", toolName)
		e.logger.Debug(ctx, "step completed",
			"run_id", runID, "index", stepIndex, "node", current, "tool", toolName, "next", next)
		e.publish(ctx, stream.NewStepCompleted(runID, def.ID, stream.StepCompletedPayload{
			Index:      stepIndex,
			Node:       current,
			Tool:       toolName,
			NextNode:   next,
			Overridden: overridden,
		}))

		current = next
	}
}

// resolveNext picks the next node id: a non-nil override wins, otherwise
// the static edge table decides. An empty result terminates the run.
func resolveNext(override *tools.Next, edges map[string]string, current string) (next string, overridden bool) {
	if override == nil {
		return edges[current], false
	}
	if target, ok := override.Target(); ok {
		return target, true
	}
	return "", true
}

// invoke calls the tool with the per-invocation deadline when one is
// configured.
func (e *Engine) invoke(ctx context.Context, fn tools.Func, doc state.Document) (tools.Result, error) {
	if e.toolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.toolTimeout)
		defer cancel()
	}
	return fn(ctx, doc)
}

// complete commits the terminal completed status and builds the outcome.
func (e *Engine) complete(ctx context.Context, record *run.Record, working state.Document) *Outcome {
	record.Status = run.StatusCompleted
	record.CurrentNode = ""
	record.UpdatedAt = time.Now()

	// Terminal writes land even when the caller's context is already done.
	dctx := context.WithoutCancel(ctx)
	if err := e.runs.Upsert(dctx, record); err != nil {
		e.logger.Error(ctx, "store terminal run state", "run_id", record.ID, "err", err)
	}

	steps := len(record.Log)
	span := e.tracer.Span(ctx)
	span.SetStatus(codes.Ok, "completed")
	e.metrics.IncCounter("engine.runs.completed", 1, "graph_id", record.GraphID)
	e.metrics.RecordTimer("engine.run.duration", record.UpdatedAt.Sub(record.StartedAt), "graph_id", record.GraphID)
	e.logger.Info(ctx, "run completed", "run_id", record.ID, "steps", steps)
	e.publish(dctx, stream.NewRunCompleted(record.ID, record.GraphID, stream.RunCompletedPayload{Steps: steps}))

	return &Outcome{
		RunID:      record.ID,
		FinalState: state.Clone(working),
		Log:        record.Log,
	}
}

// fail commits the terminal failed status and wraps cause in a *RunError.
func (e *Engine) fail(ctx context.Context, record *run.Record, cause error) error {
	record.Status = run.StatusFailed
	record.Error = cause.Error()
	record.UpdatedAt = time.Now()

	dctx := context.WithoutCancel(ctx)
	if err := e.runs.Upsert(dctx, record); err != nil {
		e.logger.Error(ctx, "store terminal run state", "run_id", record.ID, "err", err)
	}

	steps := len(record.Log)
	span := e.tracer.Span(ctx)
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	e.metrics.IncCounter("engine.runs.failed", 1, "graph_id", record.GraphID)
	e.metrics.RecordTimer("engine.run.duration", record.UpdatedAt.Sub(record.StartedAt), "graph_id", record.GraphID)
	e.logger.Error(ctx, "run failed", "run_id", record.ID, "steps", steps, "err", cause)
	e.publish(dctx, stream.NewRunFailed(record.ID, record.GraphID, stream.RunFailedPayload{
		Steps: steps,
		Error: cause.Error(),
	}))

	return &RunError{RunID: record.ID, Err: cause}
}

// publish sends ev to the configured sink. Publication is best-effort.
func (e *Engine) publish(ctx context.Context, ev stream.Event) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Send(ctx, ev); err != nil {
		e.logger.Warn(ctx, "stream publish failed",
			"run_id", ev.RunID(), "event", string(ev.Type()), "err", err)
	}
}
