// Package tools defines the contract workflow tools satisfy and the
// registry setup code populates for the engine to resolve tools by name.
//
// A tool receives a deep snapshot of the run's working state and returns a
// Result holding the new state plus, optionally, a routing override. The
// override makes branching a first-class return value: nil follows the
// graph's static edge table, Goto jumps to a named node, Halt ends the run.
package tools

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/loomwork/loom/state"
)

// ErrNotFound is returned when a tool name is not registered.
var ErrNotFound = errors.New("tool not registered")

type (
	// Func is the tool implementation contract. The document passed in is a
	// private snapshot the tool may mutate freely; the returned Result.State
	// must be non-nil and becomes the run's working state. Invocation is
	// synchronous. The context carries cancellation and, when the engine is
	// configured with a tool timeout, a deadline.
	Func func(ctx context.Context, doc state.Document) (Result, error)

	// Result is the outcome of one tool invocation.
	Result struct {
		// State is the post-invocation state document. Required; the engine
		// treats a nil State as a contract violation and fails the run.
		State state.Document
		// Next optionally overrides the static edge table for this step.
		Next *Next
	}

	// Next is a routing override. The zero value terminates the run.
	Next struct {
		target string
	}

	// Spec is the registration metadata for a tool.
	Spec struct {
		// Name is the unique tool identifier graphs bind nodes to.
		Name string
		// Description is a human-readable summary for introspection.
		Description string
	}

	// Tool pairs registration metadata with the implementation.
	Tool struct {
		Spec
		Fn Func
	}

	// Registry maps tool names to implementations. It is safe for
	// concurrent use.
	Registry struct {
		mu    sync.RWMutex
		tools map[string]Tool
	}
)

// Goto returns an override routing the run to the named node. The target is
// resolved against the graph when the next step begins; an unknown target
// fails the run at that point.
func Goto(node string) *Next {
	return &Next{target: node}
}

// Halt returns an override that ends the run successfully after this step.
func Halt() *Next {
	return &Next{}
}

// Target returns the override's destination node id. ok is false when the
// override terminates the run instead.
func (n *Next) Target() (node string, ok bool) {
	if n.target == "" {
		return "", false
	}
	return n.target, true
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register binds name to fn. Re-registering an existing name silently
// replaces the previous tool; callers own name uniqueness.
func (r *Registry) Register(name string, fn Func, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = Tool{Spec: Spec{Name: name, Description: description}, Fn: fn}
}

// Lookup resolves a tool by name. Returns ErrNotFound if the name is not
// registered.
func (r *Registry) Lookup(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return Tool{}, ErrNotFound
	}
	return tool, nil
}

// Specs returns the metadata of all registered tools sorted by name.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]Spec, 0, len(r.tools))
	for _, tool := range r.tools {
		specs = append(specs, tool.Spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}
