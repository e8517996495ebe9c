package service

import "github.com/loomwork/loom/run"

type (
	// NodePayload binds a node id to a tool name on the wire.
	NodePayload struct {
		ID       string `json:"id"`
		ToolName string `json:"tool_name"`
	}

	// CreateGraphRequest is the POST /graphs body.
	CreateGraphRequest struct {
		Name        string             `json:"name"`
		StartNodeID string             `json:"start_node_id"`
		Nodes       []NodePayload      `json:"nodes"`
		Edges       map[string]*string `json:"edges"`
	}

	// CreateGraphResult is the POST /graphs response.
	CreateGraphResult struct {
		GraphID string `json:"graph_id"`
	}

	// CreateRunRequest is the POST /runs body.
	CreateRunRequest struct {
		GraphID      string         `json:"graph_id"`
		InitialState map[string]any `json:"initial_state,omitempty"`
		MaxSteps     int            `json:"max_steps,omitempty"`
	}

	// StepPayload is one execution log entry on the wire.
	StepPayload struct {
		StepIndex   int            `json:"step_index"`
		NodeID      string         `json:"node_id"`
		ToolName    string         `json:"tool_name"`
		InputState  map[string]any `json:"input_state"`
		OutputState map[string]any `json:"output_state"`
	}

	// CreateRunResult is the POST /runs response for a completed run.
	CreateRunResult struct {
		RunID      string         `json:"run_id"`
		FinalState map[string]any `json:"final_state"`
		Log        []StepPayload  `json:"log"`
	}

	// RunState is the GET /runs/{run_id} response. CurrentNodeID and Error
	// are encoded as explicit nulls when absent.
	RunState struct {
		RunID         string         `json:"run_id"`
		GraphID       string         `json:"graph_id"`
		Status        string         `json:"status"`
		CurrentNodeID *string        `json:"current_node_id"`
		State         map[string]any `json:"state"`
		Log           []StepPayload  `json:"log"`
		Error         *string        `json:"error"`
	}

	// GraphSummary is one GET /graphs entry.
	GraphSummary struct {
		GraphID     string `json:"graph_id"`
		Name        string `json:"name"`
		StartNodeID string `json:"start_node_id"`
	}

	// ListGraphsResult is the GET /graphs response.
	ListGraphsResult struct {
		Graphs []GraphSummary `json:"graphs"`
	}

	// RunSummary is one GET /runs entry.
	RunSummary struct {
		RunID   string `json:"run_id"`
		GraphID string `json:"graph_id"`
		Status  string `json:"status"`
		Steps   int    `json:"steps"`
	}

	// ListRunsResult is the GET /runs response.
	ListRunsResult struct {
		Runs []RunSummary `json:"runs"`
	}

	// ToolPayload is one GET /tools entry.
	ToolPayload struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}

	// ListToolsResult is the GET /tools response.
	ListToolsResult struct {
		Tools []ToolPayload `json:"tools"`
	}

	// ErrorBody is the error response shape for every endpoint. RunID is
	// set when a submitted run failed, so the partial record stays
	// reachable through GET /runs/{run_id}.
	ErrorBody struct {
		Error string `json:"error"`
		RunID string `json:"run_id,omitempty"`
	}
)

func stepPayloads(log []run.Step) []StepPayload {
	out := make([]StepPayload, len(log))
	for i, step := range log {
		out[i] = StepPayload{
			StepIndex:   step.Index,
			NodeID:      step.Node,
			ToolName:    step.Tool,
			InputState:  step.Input,
			OutputState: step.Output,
		}
	}
	return out
}

func runStatePayload(record *run.Record) *RunState {
	rs := &RunState{
		RunID:   record.ID,
		GraphID: record.GraphID,
		Status:  string(record.Status),
		State:   record.State,
		Log:     stepPayloads(record.Log),
	}
	if record.CurrentNode != "" {
		rs.CurrentNodeID = &record.CurrentNode
	}
	if record.Error != "" {
		rs.Error = &record.Error
	}
	return rs
}
