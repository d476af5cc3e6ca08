package resolver

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegraph/internal/extractor"
	"codegraph/internal/model"
)

func extractAll(t *testing.T, sources map[string]string) []*extractor.FileResult {
	t.Helper()
	ext, err := extractor.New("python", nil)
	require.NoError(t, err)

	var files []*extractor.FileResult
	for path, src := range sources {
		fr, err := ext.ExtractFile([]byte(src), path)
		require.NoError(t, err, path)
		files = append(files, fr)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

func findEdge(edges []model.Edge, kind model.EdgeKind, source, target string) (model.Edge, bool) {
	for _, e := range edges {
		if e.Kind == kind && e.SourceID == source && e.TargetID == target {
			return e, true
		}
	}
	return model.Edge{}, false
}

func TestResolve_ImportAndCall(t *testing.T) {
	files := extractAll(t, map[string]string{
		"main.py":  "import utils\nutils.helper()\n",
		"utils.py": "def helper():\n    return 1\n",
		"other.py": "x = 1\n",
	})

	edges, stats := New(nil).Resolve(files)

	imp, ok := findEdge(edges, model.EdgeImports, "file:main.py", "file:utils.py")
	require.True(t, ok, "imports edge missing")
	assert.True(t, imp.Resolved)

	call, ok := findEdge(edges, model.EdgeCalls, "file:main.py", "function:utils.py::helper")
	require.True(t, ok, "calls edge missing")
	assert.True(t, call.Resolved)

	assert.Equal(t, 2, stats.Resolved)
	assert.Equal(t, 0, stats.Unresolved)
}

func TestResolve_UnknownBaseClassStaysUnresolved(t *testing.T) {
	files := extractAll(t, map[string]string{
		"dogs.py": "class Dog(Animal):\n    pass\n",
	})

	edges, stats := New(nil).Resolve(files)

	ext, ok := findEdge(edges, model.EdgeExtends, "class:dogs.py::Dog", "Animal")
	require.True(t, ok, "extends edge missing")
	assert.False(t, ext.Resolved)
	assert.Equal(t, 1, stats.Unresolved)
}

func TestResolve_ExtendsAcrossFiles(t *testing.T) {
	files := extractAll(t, map[string]string{
		"animals.py": "class Animal:\n    pass\n",
		"dogs.py":    "from animals import Animal\n\nclass Dog(Animal):\n    pass\n",
	})

	edges, _ := New(nil).Resolve(files)

	ext, ok := findEdge(edges, model.EdgeExtends, "class:dogs.py::Dog", "class:animals.py::Animal")
	require.True(t, ok)
	assert.True(t, ext.Resolved)
}

func TestResolve_LocalDefinitionShadowsImport(t *testing.T) {
	files := extractAll(t, map[string]string{
		"utils.py": "def helper():\n    return 1\n",
		"main.py":  "from utils import helper\n\ndef helper():\n    return 2\n\nhelper()\n",
	})

	edges, _ := New(nil).Resolve(files)

	local, ok := findEdge(edges, model.EdgeCalls, "file:main.py", "function:main.py::helper")
	require.True(t, ok, "call should resolve to the local definition")
	assert.True(t, local.Resolved)

	_, ok = findEdge(edges, model.EdgeCalls, "file:main.py", "function:utils.py::helper")
	assert.False(t, ok, "imported helper must be shadowed")
}

func TestResolve_LastImportWins(t *testing.T) {
	files := extractAll(t, map[string]string{
		"a.py":    "def helper():\n    return 'a'\n",
		"b.py":    "def helper():\n    return 'b'\n",
		"main.py": "from a import helper\nfrom b import helper\nhelper()\n",
	})

	edges, _ := New(nil).Resolve(files)

	_, ok := findEdge(edges, model.EdgeCalls, "file:main.py", "function:b.py::helper")
	assert.True(t, ok, "the later import binding should win")

	_, ok = findEdge(edges, model.EdgeCalls, "file:main.py", "function:a.py::helper")
	assert.False(t, ok)
}

func TestResolve_RelativeImport(t *testing.T) {
	files := extractAll(t, map[string]string{
		"pkg/__init__.py": "",
		"pkg/main.py":     "from . import utils\nutils.helper()\n",
		"pkg/utils.py":    "def helper():\n    pass\n",
	})

	edges, _ := New(nil).Resolve(files)

	imp, ok := findEdge(edges, model.EdgeImports, "file:pkg/main.py", "file:pkg/__init__.py")
	require.True(t, ok)
	assert.True(t, imp.Resolved)

	call, ok := findEdge(edges, model.EdgeCalls, "file:pkg/main.py", "function:pkg/utils.py::helper")
	require.True(t, ok)
	assert.True(t, call.Resolved)
}

func TestResolve_MethodCallOnBoundVariable(t *testing.T) {
	files := extractAll(t, map[string]string{
		"animals.py": "class Dog:\n    def bark(self):\n        pass\n",
		"main.py":    "from animals import Dog\ndog = Dog()\ndog.bark()\n",
	})

	edges, _ := New(nil).Resolve(files)

	ctor, ok := findEdge(edges, model.EdgeCalls, "file:main.py", "class:animals.py::Dog")
	require.True(t, ok, "constructor call missing")
	assert.True(t, ctor.Resolved)

	method, ok := findEdge(edges, model.EdgeCalls, "file:main.py", "function:animals.py::Dog::bark")
	require.True(t, ok, "method call missing")
	assert.True(t, method.Resolved)
}

func TestResolve_SelfMethodCall(t *testing.T) {
	files := extractAll(t, map[string]string{
		"dogs.py": "class Dog:\n    def bark(self):\n        pass\n\n    def greet(self):\n        self.bark()\n",
	})

	edges, _ := New(nil).Resolve(files)

	call, ok := findEdge(edges, model.EdgeCalls, "function:dogs.py::Dog::greet", "function:dogs.py::Dog::bark")
	require.True(t, ok)
	assert.True(t, call.Resolved)
}

func TestResolve_ExternalImportStaysUnresolved(t *testing.T) {
	files := extractAll(t, map[string]string{
		"main.py": "import numpy\nnumpy.array()\n",
	})

	edges, _ := New(nil).Resolve(files)

	imp, ok := findEdge(edges, model.EdgeImports, "file:main.py", "numpy")
	require.True(t, ok)
	assert.False(t, imp.Resolved)

	call, ok := findEdge(edges, model.EdgeCalls, "file:main.py", "numpy.array")
	require.True(t, ok)
	assert.False(t, call.Resolved)
}

func TestResolve_Deterministic(t *testing.T) {
	sources := map[string]string{
		"main.py":   "import utils\nimport missing\nutils.helper()\nmissing.thing()\n",
		"utils.py":  "def helper():\n    pass\n",
		"extra.py":  "from utils import helper\nhelper()\n",
		"cycles.py": "import main\nmain.anything()\n",
	}

	first, firstStats := New(nil).Resolve(extractAll(t, sources))

	// Reverse the input order; the output must not change.
	files := extractAll(t, sources)
	for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
		files[i], files[j] = files[j], files[i]
	}
	second, secondStats := New(nil).Resolve(files)

	assert.Equal(t, first, second)
	assert.Equal(t, firstStats, secondStats)
}

func TestResolve_DeduplicatesRepeatedCalls(t *testing.T) {
	files := extractAll(t, map[string]string{
		"main.py":  "import utils\nutils.helper()\nutils.helper()\nutils.helper()\n",
		"utils.py": "def helper():\n    pass\n",
	})

	edges, _ := New(nil).Resolve(files)

	count := 0
	for _, e := range edges {
		if e.Kind == model.EdgeCalls && e.TargetID == "function:utils.py::helper" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
