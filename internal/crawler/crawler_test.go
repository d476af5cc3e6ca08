package crawler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegraph/internal/extractor"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func newCrawler(t *testing.T) *Crawler {
	t.Helper()
	ext, err := extractor.New("python", nil)
	require.NoError(t, err)
	return New(ext, nil, 4)
}

func TestScan_CollectsSortedResults(t *testing.T) {
	root := writeTree(t, map[string]string{
		"main.py":         "import utils\n",
		"utils.py":        "def helper():\n    pass\n",
		"pkg/nested.py":   "x = 1\n",
		"README.md":       "not python",
		".venv/skip.py":   "ignored = True\n",
		"__pycache__/c.py": "ignored = True\n",
	})

	result, err := newCrawler(t).Scan(context.Background(), root)
	require.NoError(t, err)

	var paths []string
	for _, fr := range result.Files {
		paths = append(paths, fr.Path)
	}
	assert.Equal(t, []string{"main.py", "pkg/nested.py", "utils.py"}, paths)
	assert.Empty(t, result.ParseErrors)
}

func TestScan_RecoversFromParseErrors(t *testing.T) {
	root := writeTree(t, map[string]string{
		"good.py":   "def ok():\n    pass\n",
		"broken.py": "def broken(:\n",
	})

	result, err := newCrawler(t).Scan(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, result.Files, 1)
	assert.Equal(t, "good.py", result.Files[0].Path)

	require.Len(t, result.ParseErrors, 1)
	assert.Equal(t, "broken.py", result.ParseErrors[0].Path)
}

func TestScan_HonorsGitignore(t *testing.T) {
	root := writeTree(t, map[string]string{
		".gitignore":   "generated/\nscratch.py\n",
		"main.py":      "x = 1\n",
		"scratch.py":   "y = 2\n",
		"generated/g.py": "z = 3\n",
	})

	result, err := newCrawler(t).Scan(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, result.Files, 1)
	assert.Equal(t, "main.py", result.Files[0].Path)
}

func TestScan_AbortReportsParsedFiles(t *testing.T) {
	root := writeTree(t, map[string]string{
		"aaa.py": "def ok():\n    pass\n",
	})
	// A dangling symlink fails the read after aaa.py has parsed.
	require.NoError(t, os.Symlink(filepath.Join(root, "missing"), filepath.Join(root, "zzz.py")))

	ext, err := extractor.New("python", nil)
	require.NoError(t, err)
	result, err := New(ext, nil, 1).Scan(context.Background(), root)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "zzz.py")
	require.NotNil(t, result)
	require.Len(t, result.Files, 1)
	assert.Equal(t, "aaa.py", result.Files[0].Path)
}

func TestScan_MissingRoot(t *testing.T) {
	_, err := newCrawler(t).Scan(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
