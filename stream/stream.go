// Package stream defines the live execution events the engine publishes
// while a run progresses and the Sink interface transports implement to
// deliver them (message buses, test captures).
//
// Event delivery is observational: the run store remains the source of
// truth for run state, and a failing sink never fails the run that fed it.
package stream

import "context"

type (
	// Sink delivers run events to an external transport. Implementations
	// must be safe for concurrent use; distinct runs publish concurrently.
	Sink interface {
		// Send publishes one event. Implementations own marshaling and
		// delivery semantics.
		Send(ctx context.Context, event Event) error

		// Close releases resources owned by the sink. It is idempotent.
		Close(ctx context.Context) error
	}

	// Event describes a run lifecycle or step event. Concrete types embed
	// Base; consumers needing structured access type-assert to them.
	Event interface {
		// Type returns the event type constant.
		Type() EventType
		// RunID returns the run that produced the event.
		RunID() string
		// GraphID returns the graph the run executes.
		GraphID() string
		// Payload returns the event data in a JSON-serializable form.
		Payload() any
	}

	// RunStarted is published once, after the run record is created and
	// before the first step executes.
	RunStarted struct {
		Base
		Data RunStartedPayload
	}

	// StepCompleted is published after each step commits to the run store.
	StepCompleted struct {
		Base
		Data StepCompletedPayload
	}

	// RunCompleted is published when a run reaches a terminal node.
	RunCompleted struct {
		Base
		Data RunCompletedPayload
	}

	// RunFailed is published when a run fails, including step-budget
	// exhaustion.
	RunFailed struct {
		Base
		Data RunFailedPayload
	}

	// RunStartedPayload is the wire payload for RunStarted.
	RunStartedPayload struct {
		GraphName string `json:"graph_name,omitempty"`
		StartNode string `json:"start_node"`
		MaxSteps  int    `json:"max_steps"`
	}

	// StepCompletedPayload is the wire payload for StepCompleted.
	StepCompletedPayload struct {
		Index int    `json:"index"`
		Node  string `json:"node"`
		Tool  string `json:"tool"`
		// NextNode is the resolved next node id, empty when the run is
		// about to terminate.
		NextNode string `json:"next_node,omitempty"`
		// Overridden reports whether the tool overrode the static edge.
		Overridden bool `json:"overridden,omitempty"`
	}

	// RunCompletedPayload is the wire payload for RunCompleted.
	RunCompletedPayload struct {
		Steps int `json:"steps"`
	}

	// RunFailedPayload is the wire payload for RunFailed.
	RunFailedPayload struct {
		Steps int    `json:"steps"`
		Error string `json:"error"`
	}

	// Base provides the Event implementation concrete types embed. Field
	// names are abbreviated since events are constructed through the New*
	// helpers and read through the interface methods.
	Base struct {
		t EventType
		r string
		g string
		p any
	}

	// EventType enumerates event flavors.
	EventType string
)

const (
	// EventRunStarted marks run creation.
	EventRunStarted EventType = "run_started"
	// EventStepCompleted marks one committed step.
	EventStepCompleted EventType = "step_completed"
	// EventRunCompleted marks successful termination.
	EventRunCompleted EventType = "run_completed"
	// EventRunFailed marks failed termination.
	EventRunFailed EventType = "run_failed"
)

// NewBase constructs a Base with the given type, run id, graph id and
// payload.
func NewBase(t EventType, runID, graphID string, payload any) Base {
	return Base{t: t, r: runID, g: graphID, p: payload}
}

// NewRunStarted constructs a RunStarted event.
func NewRunStarted(runID, graphID string, data RunStartedPayload) *RunStarted {
	return &RunStarted{Base: NewBase(EventRunStarted, runID, graphID, data), Data: data}
}

// NewStepCompleted constructs a StepCompleted event.
func NewStepCompleted(runID, graphID string, data StepCompletedPayload) *StepCompleted {
	return &StepCompleted{Base: NewBase(EventStepCompleted, runID, graphID, data), Data: data}
}

// NewRunCompleted constructs a RunCompleted event.
func NewRunCompleted(runID, graphID string, data RunCompletedPayload) *RunCompleted {
	return &RunCompleted{Base: NewBase(EventRunCompleted, runID, graphID, data), Data: data}
}

// NewRunFailed constructs a RunFailed event.
func NewRunFailed(runID, graphID string, data RunFailedPayload) *RunFailed {
	return &RunFailed{Base: NewBase(EventRunFailed, runID, graphID, data), Data: data}
}

// Type implements Event.Type.
func (e Base) Type() EventType { return e.t }

// RunID implements Event.RunID.
func (e Base) RunID() string { return e.r }

// GraphID implements Event.GraphID.
func (e Base) GraphID() string { return e.g }

// Payload implements Event.Payload.
func (e Base) Payload() any { return e.p }
