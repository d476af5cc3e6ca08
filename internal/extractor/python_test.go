package extractor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegraph/internal/model"
)

const sampleSource = `import os
import collections as coll
from app.models import Animal, Registry as Reg

class Dog(Animal):
    """A very good dog."""

    def bark(self):
        return make_sound("woof")

    async def _fetch(self):
        await self.bark()

def train(dog):
    """Teach a dog to sit."""
    dog.bark()
    print("done")
`

func extractSample(t *testing.T) *FileResult {
	t.Helper()
	ext, err := New("python", nil)
	require.NoError(t, err)
	result, err := ext.ExtractFile([]byte(sampleSource), "app/dogs.py")
	require.NoError(t, err)
	return result
}

func TestExtract_Nodes(t *testing.T) {
	result := extractSample(t)

	byID := make(map[string]model.Node)
	for _, n := range result.Nodes {
		byID[n.ID] = n
	}

	t.Run("file node comes first", func(t *testing.T) {
		file := result.FileNode()
		assert.Equal(t, model.NodeFile, file.Kind)
		assert.Equal(t, "file:app/dogs.py", file.ID)
		assert.Equal(t, "dogs.py", file.Name)
		assert.Equal(t, "app/dogs.py", file.FQN)
		assert.Equal(t, 1, file.StartLine)
	})

	t.Run("class node", func(t *testing.T) {
		dog, ok := byID["class:app/dogs.py::Dog"]
		require.True(t, ok)
		assert.Equal(t, model.NodeClass, dog.Kind)
		assert.Equal(t, "Dog", dog.Name)
		assert.Equal(t, "class Dog(Animal)", dog.Signature)
		assert.Equal(t, "A very good dog.", dog.Docstring)
		assert.False(t, dog.IsPrivate)
		assert.NotEmpty(t, dog.Snippet)
	})

	t.Run("method nodes", func(t *testing.T) {
		bark, ok := byID["function:app/dogs.py::Dog::bark"]
		require.True(t, ok)
		assert.Equal(t, model.NodeFunction, bark.Kind)
		assert.False(t, bark.IsAsync)

		fetch, ok := byID["function:app/dogs.py::Dog::_fetch"]
		require.True(t, ok)
		assert.True(t, fetch.IsAsync)
		assert.True(t, fetch.IsPrivate)
	})

	t.Run("module-level function", func(t *testing.T) {
		train, ok := byID["function:app/dogs.py::train"]
		require.True(t, ok)
		assert.Equal(t, "def train(dog)", train.Signature)
		assert.Equal(t, "Teach a dog to sit.", train.Docstring)
	})
}

func TestExtract_Imports(t *testing.T) {
	result := extractSample(t)

	var imports []RawRef
	for _, ref := range result.Refs {
		if ref.Kind == model.EdgeImports {
			imports = append(imports, ref)
		}
	}
	require.Len(t, imports, 3)

	assert.Equal(t, "os", imports[0].Module)
	assert.Empty(t, imports[0].Alias)

	assert.Equal(t, "collections", imports[1].Module)
	assert.Equal(t, "coll", imports[1].Alias)

	from := imports[2]
	assert.Equal(t, "app.models", from.Module)
	require.Len(t, from.Symbols, 2)
	assert.Equal(t, ImportedSymbol{Name: "Animal"}, from.Symbols[0])
	assert.Equal(t, ImportedSymbol{Name: "Registry", Alias: "Reg"}, from.Symbols[1])

	for _, imp := range imports {
		assert.Equal(t, "file:app/dogs.py", imp.SourceID)
	}
}

func TestExtract_CallsAndExtends(t *testing.T) {
	result := extractSample(t)

	var calls, extends []RawRef
	for _, ref := range result.Refs {
		switch ref.Kind {
		case model.EdgeCalls:
			calls = append(calls, ref)
		case model.EdgeExtends:
			extends = append(extends, ref)
		}
	}

	require.Len(t, extends, 1)
	assert.Equal(t, "Animal", extends[0].Name)
	assert.Equal(t, "class:app/dogs.py::Dog", extends[0].SourceID)

	labels := make(map[string]string)
	for _, c := range calls {
		labels[c.Label()] = c.SourceID
	}
	assert.Equal(t, "function:app/dogs.py::Dog::bark", labels["make_sound"])
	assert.Equal(t, "function:app/dogs.py::Dog::_fetch", labels["self.bark"])
	assert.Equal(t, "function:app/dogs.py::train", labels["dog.bark"])
	// print is a builtin and gets filtered out.
	assert.NotContains(t, labels, "print")
}

func TestExtract_VarBindings(t *testing.T) {
	ext, err := New("python", nil)
	require.NoError(t, err)
	result, err := ext.ExtractFile([]byte("dog = Dog()\ndog.bark()\n"), "main.py")
	require.NoError(t, err)

	require.Len(t, result.Bindings, 1)
	assert.Equal(t, "dog", result.Bindings[0].Name)
	assert.Equal(t, "Dog", result.Bindings[0].TypeName)
}

func TestExtract_ParseError(t *testing.T) {
	ext, err := New("python", nil)
	require.NoError(t, err)

	_, err = ext.ExtractFile([]byte("def broken(:\n"), "broken.py")
	require.Error(t, err)

	var pe *model.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "broken.py", pe.Path)
}

func TestExtract_RedefinitionKeepsLastDefinition(t *testing.T) {
	ext, err := New("python", nil)
	require.NoError(t, err)

	source := "def f():\n    return 1\n\ndef f():\n    return 2\n"
	result, err := ext.ExtractFile([]byte(source), "main.py")
	require.NoError(t, err)

	require.Len(t, result.Nodes, 2)
	fn := result.Nodes[1]
	assert.Equal(t, "function:main.py::f", fn.ID)
	assert.Equal(t, 4, fn.StartLine)
	assert.Contains(t, fn.Snippet, "return 2")
}

func TestExtract_ConditionalRedefinition(t *testing.T) {
	ext, err := New("python", nil)
	require.NoError(t, err)

	source := "if fast:\n    def work():\n        return 1\nelse:\n    def work():\n        return 2\n"
	result, err := ext.ExtractFile([]byte(source), "main.py")
	require.NoError(t, err)

	seen := make(map[string]int)
	for _, n := range result.Nodes {
		seen[n.ID]++
	}
	for id, count := range seen {
		assert.Equal(t, 1, count, "node %s appears more than once", id)
	}
	assert.Contains(t, seen, "function:main.py::work")
}

func TestExtract_ExtraDenylist(t *testing.T) {
	ext, err := New("python", []string{"log_debug"})
	require.NoError(t, err)
	result, err := ext.ExtractFile([]byte("log_debug('x')\nhelper()\n"), "main.py")
	require.NoError(t, err)

	var names []string
	for _, ref := range result.Refs {
		names = append(names, ref.Name)
	}
	assert.Equal(t, []string{"helper"}, names)
}
