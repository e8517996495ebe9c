// Package manifest loads workflow graph definitions from YAML so
// deployments can register graphs at boot without code changes.
//
// Manifest shape:
//
//	graphs:
//	  - name: code_review
//	    start: extract
//	    nodes:
//	      - id: extract
//	        tool: extract_functions
//	    edges:
//	      extract: null
//
// A null or missing edge value marks the node terminal.
package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/loomwork/loom/graph"
)

type (
	// Manifest is the root YAML document.
	Manifest struct {
		Graphs []Graph `yaml:"graphs"`
	}

	// Graph is one graph entry in the manifest.
	Graph struct {
		Name  string            `yaml:"name"`
		Start string            `yaml:"start"`
		Nodes []Node            `yaml:"nodes"`
		Edges map[string]string `yaml:"edges"`
	}

	// Node binds a node id to a tool name.
	Node struct {
		ID   string `yaml:"id"`
		Tool string `yaml:"tool"`
	}
)

// Load reads and parses the manifest at path.
func Load(path string) ([]*graph.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	defs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return defs, nil
}

// Parse decodes a manifest document and converts each entry into a
// validated graph definition. Definitions come back in document order.
func Parse(data []byte) ([]*graph.Definition, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	defs := make([]*graph.Definition, 0, len(m.Graphs))
	for _, g := range m.Graphs {
		def, err := g.definition()
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (g Graph) definition() (*graph.Definition, error) {
	nodes := make(map[string]string, len(g.Nodes))
	for _, n := range g.Nodes {
		if _, ok := nodes[n.ID]; ok {
			return nil, fmt.Errorf("graph %q: duplicate node id %q", g.Name, n.ID)
		}
		nodes[n.ID] = n.Tool
	}
	edges := make(map[string]string, len(g.Edges))
	for src, dst := range g.Edges {
		edges[src] = dst
	}
	def := &graph.Definition{
		Name:      g.Name,
		StartNode: g.Start,
		Nodes:     nodes,
		Edges:     edges,
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("graph %q: %w", g.Name, err)
	}
	return def, nil
}
