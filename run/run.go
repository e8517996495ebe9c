// Package run defines the records tracking workflow graph executions: the
// mutable run record updated after every step, the append-only execution
// step log, and the store interface live status queries go through.
package run

import (
	"context"
	"errors"
	"time"

	"github.com/loomwork/loom/state"
)

// ErrNotFound is returned when a run id is not known to the store.
var ErrNotFound = errors.New("run not found")

type (
	// Record captures the full observable state of one graph execution. It
	// is created when the run starts, rewritten by the engine after every
	// step so concurrent readers observe progress, and retained for the
	// process lifetime once terminal.
	Record struct {
		// ID is the opaque run identifier.
		ID string
		// GraphID references the executed graph definition.
		GraphID string
		// Status is the lifecycle state of the run.
		Status Status
		// CurrentNode is the id of the node executing next. Empty once the
		// run is terminal.
		CurrentNode string
		// State is the working state document as of the last committed step.
		State state.Document
		// Log is the append-only sequence of executed steps.
		Log []Step
		// Error holds the failure message when Status is StatusFailed.
		Error string
		// StartedAt records when the run began.
		StartedAt time.Time
		// UpdatedAt records when the record was last rewritten.
		UpdatedAt time.Time
	}

	// Step records one node execution within a run. Input and Output are
	// deep snapshots taken before and after the tool invocation; they are
	// immutable once appended and serve audit and display, never resumption.
	Step struct {
		// Index is the 0-based position of the step within the run.
		Index int
		// Node is the id of the executed node.
		Node string
		// Tool is the name of the tool the node invoked.
		Tool string
		// Input is the state document the tool received.
		Input state.Document
		// Output is the state document produced by the invocation.
		Output state.Document
	}

	// Store persists run records for live queries. Implementations must be
	// safe for concurrent use: a record's run loop is its only writer, but
	// readers may query at any time. Both directions take deep copies.
	Store interface {
		// Upsert stores record keyed by its id, replacing any previous
		// version.
		Upsert(ctx context.Context, record *Record) error

		// Get returns a snapshot of the record with the given id. Returns
		// ErrNotFound if the id is unknown. The snapshot reflects the most
		// recently committed update even while the run is in flight.
		Get(ctx context.Context, id string) (*Record, error)

		// List returns snapshots of all stored records.
		List(ctx context.Context) ([]*Record, error)
	}

	// Status represents the lifecycle state of a run.
	Status string
)

const (
	// StatusRunning indicates the run is actively executing.
	StatusRunning Status = "running"
	// StatusCompleted indicates the run reached a terminal node.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the run failed permanently.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Clone returns a deep copy of the record, including state documents and
// the step log.
func (r *Record) Clone() *Record {
	cp := *r
	cp.State = state.Clone(r.State)
	cp.Log = CloneLog(r.Log)
	return &cp
}

// Clone returns a deep copy of the step.
func (s Step) Clone() Step {
	s.Input = state.Clone(s.Input)
	s.Output = state.Clone(s.Output)
	return s
}

// CloneLog returns a deep copy of a step log.
func CloneLog(log []Step) []Step {
	if log == nil {
		return nil
	}
	out := make([]Step, len(log))
	for i := range log {
		out[i] = log[i].Clone()
	}
	return out
}
