package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegraph/internal/analyzer"
	"codegraph/internal/crawler"
	"codegraph/internal/extractor"
	"codegraph/internal/model"
	"codegraph/internal/resolver"
	"codegraph/internal/store"
)

func newService(t *testing.T) *Service {
	t.Helper()
	repo, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	ext, err := extractor.New("python", nil)
	require.NoError(t, err)
	return New(crawler.New(ext, nil, 2), resolver.New(nil), repo, analyzer.DefaultOptions(), nil)
}

func writeRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

var threeFileRepo = map[string]string{
	"main.py":  "import utils\nutils.helper()\n",
	"utils.py": "def helper():\n    return 1\n",
	"extra.py": "VALUE = 3\n",
}

func TestAnalyze_EndToEnd(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	root := writeRepo(t, threeFileRepo)

	result, err := svc.Analyze(ctx, root, nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.GraphID)

	assert.Equal(t, 3, result.Stats.Files)
	assert.Equal(t, 4, result.Stats.Nodes, "3 file nodes plus helper")
	assert.Equal(t, 2, result.Stats.Edges)
	assert.Equal(t, 2, result.Stats.ResolvedEdges)
	assert.Equal(t, 0, result.Stats.UnresolvedEdges)
	assert.Empty(t, result.Stats.ParseErrors)

	g, err := svc.GetGraph(ctx, result.GraphID)
	require.NoError(t, err)
	assert.Equal(t, root, g.RepositoryPath)
	assert.NotEmpty(t, g.ContentHash)

	files := 0
	functions := 0
	for _, n := range g.Nodes {
		switch n.Kind {
		case model.NodeFile:
			files++
		case model.NodeFunction:
			functions++
		}
	}
	assert.Equal(t, 3, files)
	assert.Equal(t, 1, functions)

	hasEdge := func(kind model.EdgeKind, source, target string) bool {
		for _, e := range g.Edges {
			if e.Kind == kind && e.SourceID == source && e.TargetID == target && e.Resolved {
				return true
			}
		}
		return false
	}
	assert.True(t, hasEdge(model.EdgeImports, "file:main.py", "file:utils.py"))
	assert.True(t, hasEdge(model.EdgeCalls, "file:main.py", "function:utils.py::helper"))
}

func TestAnalyze_ContentHashStable(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	root := writeRepo(t, threeFileRepo)

	first, err := svc.Analyze(ctx, root, nil)
	require.NoError(t, err)
	second, err := svc.Analyze(ctx, root, nil)
	require.NoError(t, err)
	require.NotEqual(t, first.GraphID, second.GraphID, "each run is a new graph")

	g1, err := svc.GetGraph(ctx, first.GraphID)
	require.NoError(t, err)
	g2, err := svc.GetGraph(ctx, second.GraphID)
	require.NoError(t, err)
	assert.Equal(t, g1.ContentHash, g2.ContentHash)
}

func TestAnalyze_EdgeKindFilter(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	root := writeRepo(t, threeFileRepo)

	result, err := svc.Analyze(ctx, root, []model.EdgeKind{model.EdgeImports})
	require.NoError(t, err)

	g, err := svc.GetGraph(ctx, result.GraphID)
	require.NoError(t, err)
	for _, e := range g.Edges {
		assert.Equal(t, model.EdgeImports, e.Kind)
	}

	_, err = svc.Analyze(ctx, root, []model.EdgeKind{"bogus"})
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
}

func TestAnalyze_ReportsParseErrors(t *testing.T) {
	svc := newService(t)
	root := writeRepo(t, map[string]string{
		"good.py":   "x = 1\n",
		"broken.py": "def broken(:\n",
	})

	result, err := svc.Analyze(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stats.Files)
	require.Len(t, result.Stats.ParseErrors, 1)
	assert.Contains(t, result.Stats.ParseErrors[0], "broken.py")
}

func TestAnalyze_RedefinedNameSavesOneNode(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	root := writeRepo(t, map[string]string{
		"main.py": "def f():\n    return 1\n\ndef f():\n    return 2\n",
	})

	result, err := svc.Analyze(ctx, root, nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.GraphID)
	assert.Equal(t, 2, result.Stats.Nodes, "one file node plus one f")

	g, err := svc.GetGraph(ctx, result.GraphID)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 2)
	for _, n := range g.Nodes {
		if n.Kind == model.NodeFunction {
			assert.Contains(t, n.Snippet, "return 2")
		}
	}
}

func TestGetNode_WithRelationships(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	root := writeRepo(t, threeFileRepo)

	result, err := svc.Analyze(ctx, root, nil)
	require.NoError(t, err)

	detail, err := svc.GetNode(ctx, result.GraphID, "file:main.py")
	require.NoError(t, err)
	assert.Equal(t, "main.py", detail.Node.Name)
	assert.Len(t, detail.Dependencies, 2)
	assert.Empty(t, detail.Dependents)

	helper, err := svc.GetNode(ctx, result.GraphID, "function:utils.py::helper")
	require.NoError(t, err)
	assert.Empty(t, helper.Dependencies)
	require.Len(t, helper.Dependents, 1)
	assert.Equal(t, "file:main.py", helper.Dependents[0].SourceID)
}

func TestServiceOperations_RoundTrip(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	root := writeRepo(t, threeFileRepo)

	result, err := svc.Analyze(ctx, root, nil)
	require.NoError(t, err)
	id := result.GraphID

	metas, err := svc.ListGraphs(ctx, root)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, id, metas[0].ID)

	deps, err := svc.GetDependencies(ctx, id, "file:main.py", 3)
	require.NoError(t, err)
	assert.Len(t, deps, 2)

	dependents, err := svc.GetDependents(ctx, id, "file:utils.py", 3)
	require.NoError(t, err)
	require.Len(t, dependents, 1)
	assert.Equal(t, "file:main.py", dependents[0].ID)

	report, err := svc.Impact(ctx, id, []string{"utils.py"}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"main.py"}, report.DirectlyAffected)

	assembled, err := svc.Context(ctx, id, []string{"file:main.py"}, 2, 10, false)
	require.NoError(t, err)
	assert.False(t, assembled.Truncated)
	assert.Len(t, assembled.Nodes, 3)

	found, err := svc.FindNodes(ctx, id, store.FindFilter{Kind: model.NodeFunction})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "helper", found[0].Name)

	require.NoError(t, svc.DeleteGraph(ctx, id))
	err = svc.DeleteGraph(ctx, id)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestService_Validation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, err := svc.Analyze(ctx, "", nil)
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	_, err = svc.GetGraph(ctx, "")
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	err = svc.DeleteGraph(ctx, "")
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	_, err = svc.GetNode(ctx, "g", "")
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	_, err = svc.GetDependencies(ctx, "g", "n", -1)
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	_, err = svc.Context(ctx, "", nil, 1, 10, false)
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
}
