package assembler

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegraph/internal/model"
	"codegraph/internal/store"
)

func saveGraph(t *testing.T, g *model.Graph) (store.Repository, string) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "assembler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	id, err := s.Save(context.Background(), g)
	require.NoError(t, err)
	return s, id
}

func node(kind model.NodeKind, fqn string) model.Node {
	return model.Node{
		ID: string(kind) + ":" + fqn, Kind: kind, Name: fqn, FilePath: "x.py",
		StartLine: 1, FQN: fqn, Snippet: "code of " + fqn,
	}
}

func edge(kind model.EdgeKind, source, target string) model.Edge {
	return model.Edge{SourceID: source, TargetID: target, Kind: kind, Resolved: true}
}

func layeredGraph() *model.Graph {
	entry := node(model.NodeFunction, "entry")
	called := node(model.NodeFunction, "called")
	base := node(model.NodeClass, "Base")
	imported := node(model.NodeFile, "imported")
	deep := node(model.NodeFunction, "deep")
	return &model.Graph{
		RepositoryPath: "/repo",
		Nodes:          []model.Node{entry, called, base, imported, deep},
		Edges: []model.Edge{
			edge(model.EdgeImports, entry.ID, imported.ID),
			edge(model.EdgeExtends, entry.ID, base.ID),
			edge(model.EdgeCalls, entry.ID, called.ID),
			edge(model.EdgeCalls, called.ID, deep.ID),
		},
	}
}

func TestAssemble_LayerOrdering(t *testing.T) {
	repo, id := saveGraph(t, layeredGraph())

	result, err := New(repo, nil).Assemble(context.Background(), id, []string{"function:entry"}, 2, 10, true)
	require.NoError(t, err)
	require.False(t, result.Truncated)

	var ids []string
	for _, n := range result.Nodes {
		ids = append(ids, n.ID)
	}
	// Entry first, then layer 1 ordered calls > extends > imports, then
	// layer 2.
	assert.Equal(t, []string{
		"function:entry",
		"function:called",
		"class:Base",
		"file:imported",
		"function:deep",
	}, ids)
}

func TestAssemble_BudgetAndTruncation(t *testing.T) {
	repo, id := saveGraph(t, layeredGraph())
	a := New(repo, nil)
	ctx := context.Background()

	t.Run("cap hit mid-layer", func(t *testing.T) {
		result, err := a.Assemble(ctx, id, []string{"function:entry"}, 2, 3, true)
		require.NoError(t, err)
		assert.True(t, result.Truncated)
		require.Len(t, result.Nodes, 3)
		assert.Equal(t, "function:entry", result.Nodes[0].ID)
		assert.Equal(t, "function:called", result.Nodes[1].ID)
		assert.Equal(t, "class:Base", result.Nodes[2].ID)
	})

	t.Run("cap equals reachable set", func(t *testing.T) {
		result, err := a.Assemble(ctx, id, []string{"function:entry"}, 2, 5, true)
		require.NoError(t, err)
		assert.False(t, result.Truncated)
		assert.Len(t, result.Nodes, 5)
	})

	t.Run("cap hit exactly at layer boundary with more reachable", func(t *testing.T) {
		result, err := a.Assemble(ctx, id, []string{"function:entry"}, 2, 4, true)
		require.NoError(t, err)
		assert.True(t, result.Truncated)
		assert.Len(t, result.Nodes, 4)
	})

	t.Run("depth limit bounds reachable set", func(t *testing.T) {
		result, err := a.Assemble(ctx, id, []string{"function:entry"}, 1, 10, true)
		require.NoError(t, err)
		assert.False(t, result.Truncated)
		assert.Len(t, result.Nodes, 4, "deep is beyond the depth limit")
	})
}

func TestAssemble_IncludeCode(t *testing.T) {
	repo, id := saveGraph(t, layeredGraph())
	a := New(repo, nil)
	ctx := context.Background()

	with, err := a.Assemble(ctx, id, []string{"function:entry"}, 1, 10, true)
	require.NoError(t, err)
	for _, n := range with.Nodes {
		assert.NotEmpty(t, n.Snippet)
	}

	without, err := a.Assemble(ctx, id, []string{"function:entry"}, 1, 10, false)
	require.NoError(t, err)
	for _, n := range without.Nodes {
		assert.Empty(t, n.Snippet)
		assert.NotEmpty(t, n.FQN, "structural fields stay populated")
	}
}

func TestAssemble_MultipleEntryPoints(t *testing.T) {
	repo, id := saveGraph(t, layeredGraph())

	result, err := New(repo, nil).Assemble(context.Background(), id,
		[]string{"file:imported", "function:entry", "function:entry"}, 0, 10, true)
	require.NoError(t, err)

	var ids []string
	for _, n := range result.Nodes {
		ids = append(ids, n.ID)
	}
	// Duplicates collapse; at depth 0 only the entry layer is returned,
	// functions before files.
	assert.Equal(t, []string{"function:entry", "file:imported"}, ids)
}

func TestAssemble_Validation(t *testing.T) {
	repo, id := saveGraph(t, layeredGraph())
	a := New(repo, nil)
	ctx := context.Background()

	_, err := a.Assemble(ctx, id, []string{"function:entry"}, -1, 10, true)
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	_, err = a.Assemble(ctx, id, []string{"function:entry"}, 1, 0, true)
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	_, err = a.Assemble(ctx, id, nil, 1, 10, true)
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	_, err = a.Assemble(ctx, id, []string{"function:missing"}, 1, 10, true)
	assert.ErrorIs(t, err, model.ErrNotFound)
}
