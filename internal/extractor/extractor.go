package extractor

import (
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"codegraph/internal/model"
)

// ImportedSymbol is one name brought in by a from-import, with its optional
// local alias.
type ImportedSymbol struct {
	Name  string
	Alias string
}

// RawRef is an unresolved, purely syntactic reference extracted from one
// file: an import statement, a call expression, or a base-class clause.
// The resolver turns RawRefs into typed edges.
type RawRef struct {
	SourceID string
	FilePath string
	Kind     model.EdgeKind
	Line     int

	// Import references.
	Module   string
	Alias    string
	Symbols  []ImportedSymbol
	Relative int // leading-dot count for relative imports

	// Call and extends references: root name plus attribute chain,
	// e.g. utils.helper -> Name "utils", Attrs ["helper"].
	Name  string
	Attrs []string

	// Enclosing lexical scope names, outermost first.
	Scope []string
}

// Label renders the reference as a dotted display name.
func (r RawRef) Label() string {
	label := r.Name
	for _, a := range r.Attrs {
		label += "." + a
	}
	return label
}

// Definition records a declared name together with the scope it lives in,
// so the resolver can walk lexical scope chains without re-parsing.
type Definition struct {
	Name     string
	NodeID   string
	Kind     model.NodeKind
	FilePath string
	Scope    []string
}

// VarBinding records a statically visible instantiation, e.g. `dog = Dog()`.
// The resolver uses bindings to attribute method calls on the receiver when
// the type is unambiguous.
type VarBinding struct {
	Name     string
	TypeName string
	FilePath string
	Scope    []string
}

// FileResult is the complete extraction output for a single source file.
// Nodes always starts with the file node itself.
type FileResult struct {
	Path        string
	ContentHash string
	Nodes       []model.Node
	Refs        []RawRef
	Defs        []Definition
	Bindings    []VarBinding
}

// FileNode returns the file-kind node of the result.
func (fr *FileResult) FileNode() model.Node {
	return fr.Nodes[0]
}

// LanguageExtractor is implemented once per supported language.
type LanguageExtractor interface {
	Language() *sitter.Language
	Extensions() []string
	Extract(content []byte, path string) (*FileResult, error)
}

// Extractor wraps a language extractor with the builtin-call denylist.
// Extraction is a pure function of the file content; instances are safe for
// concurrent use.
type Extractor struct {
	lang LanguageExtractor
	deny map[string]bool
}

// New creates an extractor for the given language. Additional denylist
// entries extend the language's builtin set.
func New(lang string, extraDeny []string) (*Extractor, error) {
	var langExt LanguageExtractor
	switch lang {
	case "python":
		langExt = &PythonExtractor{}
	default:
		return nil, fmt.Errorf("unsupported language: %s", lang)
	}

	deny := make(map[string]bool, len(pythonBuiltins)+len(extraDeny))
	for _, name := range pythonBuiltins {
		deny[name] = true
	}
	for _, name := range extraDeny {
		deny[name] = true
	}
	return &Extractor{lang: langExt, deny: deny}, nil
}

// Extensions reports the file extensions the underlying language handles.
func (e *Extractor) Extensions() []string {
	return e.lang.Extensions()
}

// ExtractFile parses one source file into nodes and raw references. A
// *model.ParseError is returned for syntactically invalid content; callers
// collect it and continue with the remaining files.
func (e *Extractor) ExtractFile(content []byte, path string) (*FileResult, error) {
	result, err := e.lang.Extract(content, path)
	if err != nil {
		return nil, err
	}

	// Builtin call targets are noise, not graph edges.
	kept := result.Refs[:0]
	for _, ref := range result.Refs {
		if ref.Kind == model.EdgeCalls && len(ref.Attrs) == 0 && e.deny[ref.Name] {
			continue
		}
		kept = append(kept, ref)
	}
	result.Refs = kept
	result.Nodes = dedupeNodes(result.Nodes)
	return result, nil
}

// dedupeNodes collapses nodes sharing an id. A name redefined in the same
// scope rebinds in Python, so the last definition is the one kept; node ids
// stay unique within the file.
func dedupeNodes(nodes []model.Node) []model.Node {
	index := make(map[string]int, len(nodes))
	out := nodes[:0]
	for _, n := range nodes {
		if i, ok := index[n.ID]; ok {
			out[i] = n
			continue
		}
		index[n.ID] = len(out)
		out = append(out, n)
	}
	return out
}

// pythonBuiltins is the default denylist of standard-library call targets
// never emitted as raw references.
var pythonBuiltins = []string{
	"abs", "all", "any", "bool", "bytes", "callable", "dict", "dir",
	"enumerate", "filter", "float", "format", "frozenset", "getattr",
	"hasattr", "hash", "id", "input", "int", "isinstance", "issubclass",
	"iter", "len", "list", "map", "max", "min", "next", "object", "open",
	"print", "range", "repr", "reversed", "round", "set", "setattr",
	"sorted", "str", "sum", "super", "tuple", "type", "vars", "zip",
}
