package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomwork/loom/graph"
)

func definition() *graph.Definition {
	return &graph.Definition{
		Name:      "pipeline",
		StartNode: "a",
		Nodes:     map[string]string{"a": "first", "b": "second"},
		Edges:     map[string]string{"a": "b"},
	}
}

func TestCreateThenGet(t *testing.T) {
	store := New()
	ctx := context.Background()

	id, err := store.Create(ctx, definition())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, got.ID)
	require.Equal(t, "pipeline", got.Name)
	require.Equal(t, "a", got.StartNode)
	require.Equal(t, map[string]string{"a": "first", "b": "second"}, got.Nodes)
	require.Equal(t, map[string]string{"a": "b"}, got.Edges)
}

func TestCreateRejectsInvalid(t *testing.T) {
	store := New()
	ctx := context.Background()

	def := definition()
	def.StartNode = "missing"
	_, err := store.Create(ctx, def)
	var verr *graph.ValidationError
	require.ErrorAs(t, err, &verr)

	def = definition()
	def.Edges["b"] = "missing"
	_, err = store.Create(ctx, def)
	require.ErrorAs(t, err, &verr)
}

func TestStoredDefinitionIsImmutable(t *testing.T) {
	store := New()
	ctx := context.Background()

	def := definition()
	id, err := store.Create(ctx, def)
	require.NoError(t, err)

	// Mutating the caller's definition after creation must not leak in.
	def.Nodes["a"] = "tampered"

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "first", got.Nodes["a"])

	// Mutating a retrieved definition must not leak back either.
	got.Edges["a"] = "a"
	reread, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "b", reread.Edges["a"])
}

func TestGetUnknown(t *testing.T) {
	store := New()
	_, err := store.Get(context.Background(), "nope")
	require.ErrorIs(t, err, graph.ErrNotFound)
}

func TestListOrdersByName(t *testing.T) {
	store := New()
	ctx := context.Background()

	b := definition()
	b.Name = "beta"
	a := definition()
	a.Name = "alpha"
	_, err := store.Create(ctx, b)
	require.NoError(t, err)
	_, err = store.Create(ctx, a)
	require.NoError(t, err)

	defs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	require.Equal(t, "alpha", defs[0].Name)
	require.Equal(t, "beta", defs[1].Name)
}

func TestReset(t *testing.T) {
	store := New()
	ctx := context.Background()
	id, err := store.Create(ctx, definition())
	require.NoError(t, err)
	store.Reset()
	_, err = store.Get(ctx, id)
	require.ErrorIs(t, err, graph.ErrNotFound)
}

func TestCreateHonorsContext(t *testing.T) {
	store := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.Create(ctx, definition())
	require.ErrorIs(t, err, context.Canceled)
}
