// Package service implements the HTTP boundary of the workflow engine:
// graph registration, synchronous run submission, live run-state queries,
// and introspection listings. Request bodies are validated against JSON
// Schemas before decoding; run submission can be rate limited with a token
// bucket.
package service

import (
	"context"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/time/rate"

	"github.com/loomwork/loom/engine"
	"github.com/loomwork/loom/graph"
	"github.com/loomwork/loom/run"
	"github.com/loomwork/loom/state"
	"github.com/loomwork/loom/tools"
)

type (
	// Service exposes the engine, stores, and registry over HTTP. Construct
	// with NewService and mount on a muxer with Mount.
	Service struct {
		graphs   graph.Store
		runs     run.Store
		registry *tools.Registry
		engine   *engine.Engine
		limiter  *rate.Limiter

		graphSchema *jsonschema.Schema
		runSchema   *jsonschema.Schema
	}

	// Options configures a Service.
	Options struct {
		// Graphs is the graph definition store.
		Graphs graph.Store
		// Runs is the run record store.
		Runs run.Store
		// Registry resolves tool names for introspection.
		Registry *tools.Registry
		// Engine executes submitted runs.
		Engine *engine.Engine
		// RunRateLimit caps run submissions per second. Zero disables
		// limiting.
		RunRateLimit rate.Limit
		// RunRateBurst is the token bucket burst size. Defaults to 1 when
		// limiting is enabled.
		RunRateBurst int
	}
)

// NewService builds the service and compiles the request schemas.
func NewService(opts Options) (*Service, error) {
	if opts.Graphs == nil {
		return nil, fmt.Errorf("graph store is required")
	}
	if opts.Runs == nil {
		return nil, fmt.Errorf("run store is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	graphSchema, err := compileSchema("graph_create.json", createGraphSchema)
	if err != nil {
		return nil, err
	}
	runSchema, err := compileSchema("run_create.json", createRunSchema)
	if err != nil {
		return nil, err
	}
	var limiter *rate.Limiter
	if opts.RunRateLimit > 0 {
		burst := opts.RunRateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(opts.RunRateLimit, burst)
	}
	return &Service{
		graphs:      opts.Graphs,
		runs:        opts.Runs,
		registry:    opts.Registry,
		engine:      opts.Engine,
		limiter:     limiter,
		graphSchema: graphSchema,
		runSchema:   runSchema,
	}, nil
}

// CreateGraph validates and stores a graph definition.
func (s *Service) CreateGraph(ctx context.Context, req *CreateGraphRequest) (*CreateGraphResult, error) {
	nodes := make(map[string]string, len(req.Nodes))
	for _, n := range req.Nodes {
		if _, ok := nodes[n.ID]; ok {
			return nil, &graph.ValidationError{Reason: fmt.Sprintf("duplicate node id %q", n.ID)}
		}
		nodes[n.ID] = n.ToolName
	}
	edges := make(map[string]string, len(req.Edges))
	for src, dst := range req.Edges {
		if dst != nil {
			edges[src] = *dst
		} else {
			edges[src] = ""
		}
	}
	id, err := s.graphs.Create(ctx, &graph.Definition{
		Name:      req.Name,
		StartNode: req.StartNodeID,
		Nodes:     nodes,
		Edges:     edges,
	})
	if err != nil {
		return nil, err
	}
	return &CreateGraphResult{GraphID: id}, nil
}

// CreateRun executes the referenced graph synchronously and returns the
// outcome. Failed runs return a *engine.RunError; the partial record stays
// queryable through GetRun.
func (s *Service) CreateRun(ctx context.Context, req *CreateRunRequest) (*CreateRunResult, error) {
	out, err := s.engine.Execute(ctx, engine.Request{
		GraphID:      req.GraphID,
		InitialState: state.Document(req.InitialState),
		MaxSteps:     req.MaxSteps,
	})
	if err != nil {
		return nil, err
	}
	return &CreateRunResult{
		RunID:      out.RunID,
		FinalState: out.FinalState,
		Log:        stepPayloads(out.Log),
	}, nil
}

// GetRun returns the live state of a run, terminal or not.
func (s *Service) GetRun(ctx context.Context, runID string) (*RunState, error) {
	record, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	return runStatePayload(record), nil
}

// ListGraphs returns summaries of all registered graphs.
func (s *Service) ListGraphs(ctx context.Context) (*ListGraphsResult, error) {
	defs, err := s.graphs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list graphs: %w", err)
	}
	res := &ListGraphsResult{Graphs: make([]GraphSummary, len(defs))}
	for i, def := range defs {
		res.Graphs[i] = GraphSummary{GraphID: def.ID, Name: def.Name, StartNodeID: def.StartNode}
	}
	return res, nil
}

// ListRuns returns summaries of all runs the store retains.
func (s *Service) ListRuns(ctx context.Context) (*ListRunsResult, error) {
	records, err := s.runs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	res := &ListRunsResult{Runs: make([]RunSummary, len(records))}
	for i, record := range records {
		res.Runs[i] = RunSummary{
			RunID:   record.ID,
			GraphID: record.GraphID,
			Status:  string(record.Status),
			Steps:   len(record.Log),
		}
	}
	return res, nil
}

// ListTools returns the registered tool specs sorted by name.
func (s *Service) ListTools(_ context.Context) (*ListToolsResult, error) {
	specs := s.registry.Specs()
	res := &ListToolsResult{Tools: make([]ToolPayload, len(specs))}
	for i, spec := range specs {
		res.Tools[i] = ToolPayload{Name: spec.Name, Description: spec.Description}
	}
	return res, nil
}
