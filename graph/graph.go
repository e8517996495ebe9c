// Package graph defines workflow graph definitions, their creation-time
// validation rules, and the store interface for registering and resolving
// them.
//
// A graph is a directed set of nodes, each bound to one named tool,
// connected by a static next-node table. Definitions are immutable once
// created; there is no update or delete operation.
package graph

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a graph id is not known to the store.
var ErrNotFound = errors.New("graph not found")

type (
	// Definition describes a workflow graph. Nodes maps node ids to tool
	// names. Edges is the static transition table mapping a node id to the
	// next node id; an empty or absent entry means the node is terminal
	// unless a tool overrides the transition at run time.
	Definition struct {
		// ID is the opaque graph identifier assigned by the store.
		ID string
		// Name is the human-readable graph name.
		Name string
		// StartNode is the id of the node every run begins at.
		StartNode string
		// Nodes maps node id to the name of the tool the node invokes.
		Nodes map[string]string
		// Edges maps node id to the statically configured next node id.
		Edges map[string]string
	}

	// ValidationError reports a malformed graph definition at creation time.
	ValidationError struct {
		Reason string
	}

	// Store registers and resolves graph definitions. Implementations must
	// be safe for concurrent use and must treat stored definitions as
	// immutable (defensive copies in both directions).
	Store interface {
		// Create validates def, assigns it a fresh opaque id and stores it.
		// Any caller-supplied id is ignored. Returns a *ValidationError if
		// the definition is malformed.
		Create(ctx context.Context, def *Definition) (string, error)

		// Get returns the definition with the given id. Returns ErrNotFound
		// if the id is unknown.
		Get(ctx context.Context, id string) (*Definition, error)

		// List returns a snapshot of all stored definitions.
		List(ctx context.Context) ([]*Definition, error)
	}
)

// Error implements error.
func (e *ValidationError) Error() string {
	return "invalid graph definition: " + e.Reason
}

// Validate checks the structural invariants of the definition: the start
// node and every edge endpoint must be declared in Nodes, and node ids and
// tool names must be non-empty.
func (d *Definition) Validate() error {
	if len(d.Nodes) == 0 {
		return &ValidationError{Reason: "graph has no nodes"}
	}
	for id, tool := range d.Nodes {
		if id == "" {
			return &ValidationError{Reason: "node id must not be empty"}
		}
		if tool == "" {
			return &ValidationError{Reason: fmt.Sprintf("node %q has no tool name", id)}
		}
	}
	if _, ok := d.Nodes[d.StartNode]; !ok {
		return &ValidationError{Reason: fmt.Sprintf("start node %q not found in nodes", d.StartNode)}
	}
	for src, dst := range d.Edges {
		if _, ok := d.Nodes[src]; !ok {
			return &ValidationError{Reason: fmt.Sprintf("edge source node %q not found in nodes", src)}
		}
		if dst == "" {
			continue
		}
		if _, ok := d.Nodes[dst]; !ok {
			return &ValidationError{Reason: fmt.Sprintf("edge target node %q not found in nodes", dst)}
		}
	}
	return nil
}

// Clone returns a deep copy of the definition.
func (d *Definition) Clone() *Definition {
	cp := *d
	cp.Nodes = make(map[string]string, len(d.Nodes))
	for k, v := range d.Nodes {
		cp.Nodes[k] = v
	}
	cp.Edges = make(map[string]string, len(d.Edges))
	for k, v := range d.Edges {
		cp.Edges[k] = v
	}
	return &cp
}
