package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomwork/loom/engine"
	graphmem "github.com/loomwork/loom/graph/inmem"
	runmem "github.com/loomwork/loom/run/inmem"
	"github.com/loomwork/loom/tools"
)

func newServiceDeps() Options {
	graphs := graphmem.New()
	runs := runmem.New()
	reg := tools.NewRegistry()
	return Options{
		Graphs:   graphs,
		Runs:     runs,
		Registry: reg,
		Engine:   engine.New(graphs, runs, reg),
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(*Options)
		contains string
	}{
		{name: "graphs", mutate: func(o *Options) { o.Graphs = nil }, contains: "graph store"},
		{name: "runs", mutate: func(o *Options) { o.Runs = nil }, contains: "run store"},
		{name: "registry", mutate: func(o *Options) { o.Registry = nil }, contains: "tool registry"},
		{name: "engine", mutate: func(o *Options) { o.Engine = nil }, contains: "engine"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := newServiceDeps()
			tc.mutate(&opts)
			_, err := NewService(opts)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.contains)
		})
	}
}

func TestNewServiceWithoutRateLimitLeavesRunsUnlimited(t *testing.T) {
	svc, err := NewService(newServiceDeps())
	require.NoError(t, err)
	require.Nil(t, svc.limiter)
}

func TestCreateGraphMapsNullEdges(t *testing.T) {
	opts := newServiceDeps()
	svc, err := NewService(opts)
	require.NoError(t, err)

	next := "b"
	res, err := svc.CreateGraph(context.Background(), &CreateGraphRequest{
		Name:        "g",
		StartNodeID: "a",
		Nodes:       []NodePayload{{ID: "a", ToolName: "t"}, {ID: "b", ToolName: "t"}},
		Edges:       map[string]*string{"a": &next, "b": nil},
	})
	require.NoError(t, err)

	def, err := opts.Graphs.Get(context.Background(), res.GraphID)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"a": "b", "b": ""}, def.Edges)
}
