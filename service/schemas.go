package service

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Request bodies are validated against these schemas before decoding, so
// structural violations surface as 400s with a schema message instead of
// partially decoded payloads.
const (
	createGraphSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "start_node_id", "nodes", "edges"],
  "additionalProperties": false,
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "start_node_id": {"type": "string", "minLength": 1},
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "tool_name"],
        "additionalProperties": false,
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "tool_name": {"type": "string", "minLength": 1}
        }
      }
    },
    "edges": {
      "type": "object",
      "additionalProperties": {"type": ["string", "null"]}
    }
  }
}`

	createRunSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["graph_id"],
  "additionalProperties": false,
  "properties": {
    "graph_id": {"type": "string", "minLength": 1},
    "initial_state": {"type": "object"},
    "max_steps": {"type": "integer", "minimum": 1, "maximum": 1000}
  }
}`
)

func compileSchema(name, src string) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal([]byte(src), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", name, err)
	}
	schema, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}
