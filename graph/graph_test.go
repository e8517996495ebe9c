package graph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validDefinition() *Definition {
	return &Definition{
		Name:      "review",
		StartNode: "a",
		Nodes:     map[string]string{"a": "extract", "b": "score"},
		Edges:     map[string]string{"a": "b", "b": ""},
	}
}

func TestValidateAccepts(t *testing.T) {
	require.NoError(t, validDefinition().Validate())
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Definition)
	}{
		{"unknown start node", func(d *Definition) { d.StartNode = "missing" }},
		{"unknown edge source", func(d *Definition) { d.Edges["missing"] = "a" }},
		{"unknown edge target", func(d *Definition) { d.Edges["a"] = "missing" }},
		{"no nodes", func(d *Definition) { d.Nodes = nil }},
		{"empty node id", func(d *Definition) { d.Nodes[""] = "tool" }},
		{"empty tool name", func(d *Definition) { d.Nodes["c"] = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := validDefinition()
			tc.mutate(def)
			err := def.Validate()
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	def := validDefinition()
	cp := def.Clone()
	cp.Nodes["a"] = "other"
	cp.Edges["a"] = "a"
	require.Equal(t, "extract", def.Nodes["a"])
	require.Equal(t, "b", def.Edges["a"])
}
