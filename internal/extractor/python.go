package extractor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"codegraph/internal/model"
)

// PythonExtractor implements LanguageExtractor for Python source files.
// Each Extract call creates its own tree-sitter parser, so instances are
// safe for concurrent use.
type PythonExtractor struct{}

func (p *PythonExtractor) Language() *sitter.Language {
	return python.GetLanguage()
}

func (p *PythonExtractor) Extensions() []string {
	return []string{".py"}
}

// Extract parses one Python file into a file node, class and function nodes,
// and the raw references (imports, calls, base classes) found in it.
func (p *PythonExtractor) Extract(content []byte, path string) (*FileResult, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, &model.ParseError{Path: path, Msg: err.Error()}
	}

	root := tree.RootNode()
	if root.HasError() {
		return nil, &model.ParseError{
			Path: path,
			Line: firstErrorLine(root),
			Msg:  "invalid syntax",
		}
	}

	sum := sha256.Sum256(content)
	fileNode := model.Node{
		ID:        NodeID(model.NodeFile, path),
		Kind:      model.NodeFile,
		Name:      filepath.Base(path),
		FilePath:  path,
		StartLine: 1,
		EndLine:   int(root.EndPoint().Row) + 1,
		FQN:       path,
	}

	w := &pyWalker{
		content: content,
		path:    path,
		result: &FileResult{
			Path:        path,
			ContentHash: hex.EncodeToString(sum[:]),
			Nodes:       []model.Node{fileNode},
		},
	}
	w.walk(root, nil, fileNode.ID)
	return w.result, nil
}

// NodeID builds the stable node identifier used across the graph:
// the node kind prefixing its fully qualified name.
func NodeID(kind model.NodeKind, fqn string) string {
	return string(kind) + ":" + fqn
}

type pyWalker struct {
	content []byte
	path    string
	result  *FileResult
}

// walk descends the AST carrying the lexical scope path and the id of the
// node that owns references found at the current position (file at module
// level, class in class bodies, function inside function bodies).
func (w *pyWalker) walk(n *sitter.Node, scope []string, sourceID string) {
	switch n.Type() {
	case "import_statement":
		w.importStmt(n, sourceID)
		return
	case "import_from_statement":
		w.fromImportStmt(n, sourceID)
		return
	case "class_definition":
		w.classDef(n, scope)
		return
	case "function_definition":
		w.funcDef(n, scope)
		return
	case "call":
		w.callExpr(n, scope, sourceID)
		// Fall through to the generic loop: arguments may nest calls.
	case "assignment":
		w.assignment(n, scope)
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		w.walk(n.Child(i), scope, sourceID)
	}
}

func (w *pyWalker) text(n *sitter.Node) string {
	return string(w.content[n.StartByte():n.EndByte()])
}

func (w *pyWalker) importStmt(n *sitter.Node, sourceID string) {
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		switch child.Type() {
		case "dotted_name":
			w.result.Refs = append(w.result.Refs, RawRef{
				SourceID: sourceID,
				FilePath: w.path,
				Kind:     model.EdgeImports,
				Line:     line(n),
				Module:   w.text(child),
			})
		case "aliased_import":
			var module, alias string
			for j := 0; j < int(child.ChildCount()); j++ {
				gc := child.Child(j)
				switch gc.Type() {
				case "dotted_name":
					module = w.text(gc)
				case "identifier":
					alias = w.text(gc)
				}
			}
			if module != "" {
				w.result.Refs = append(w.result.Refs, RawRef{
					SourceID: sourceID,
					FilePath: w.path,
					Kind:     model.EdgeImports,
					Line:     line(n),
					Module:   module,
					Alias:    alias,
				})
			}
		}
	}
}

func (w *pyWalker) fromImportStmt(n *sitter.Node, sourceID string) {
	ref := RawRef{
		SourceID: sourceID,
		FilePath: w.path,
		Kind:     model.EdgeImports,
		Line:     line(n),
	}
	sawImport := false

	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		switch child.Type() {
		case "import":
			sawImport = true
		case "relative_import":
			for j := 0; j < int(child.ChildCount()); j++ {
				gc := child.Child(j)
				switch gc.Type() {
				case "import_prefix":
					ref.Relative = len(w.text(gc))
				case "dotted_name":
					ref.Module = w.text(gc)
				}
			}
		case "dotted_name":
			if !sawImport {
				ref.Module = w.text(child)
			} else {
				ref.Symbols = append(ref.Symbols, ImportedSymbol{Name: w.text(child)})
			}
		case "identifier":
			if sawImport {
				ref.Symbols = append(ref.Symbols, ImportedSymbol{Name: w.text(child)})
			}
		case "aliased_import":
			var name, alias string
			for j := 0; j < int(child.ChildCount()); j++ {
				gc := child.Child(j)
				switch gc.Type() {
				case "dotted_name":
					if name == "" {
						name = w.text(gc)
					}
				case "identifier":
					if name == "" {
						name = w.text(gc)
					} else {
						alias = w.text(gc)
					}
				}
			}
			if name != "" {
				ref.Symbols = append(ref.Symbols, ImportedSymbol{Name: name, Alias: alias})
			}
		case "wildcard_import":
			// A star import binds no specific alias; keep the module edge.
		}
	}

	if ref.Module != "" || ref.Relative > 0 {
		w.result.Refs = append(w.result.Refs, ref)
	}
}

func (w *pyWalker) classDef(n *sitter.Node, scope []string) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := w.text(nameNode)
	fqn := w.fqn(scope, name)
	id := NodeID(model.NodeClass, fqn)

	body := n.ChildByFieldName("body")
	node := model.Node{
		ID:        id,
		Kind:      model.NodeClass,
		Name:      name,
		FilePath:  w.path,
		StartLine: line(n),
		EndLine:   int(n.EndPoint().Row) + 1,
		FQN:       fqn,
		Signature: w.signature(n, body),
		IsPrivate: strings.HasPrefix(name, "_"),
		Docstring: w.docstring(body),
		Snippet:   w.text(n),
	}
	w.result.Nodes = append(w.result.Nodes, node)
	w.result.Defs = append(w.result.Defs, Definition{
		Name:     name,
		NodeID:   id,
		Kind:     model.NodeClass,
		FilePath: w.path,
		Scope:    append([]string(nil), scope...),
	})

	if supers := n.ChildByFieldName("superclasses"); supers != nil {
		w.baseClasses(supers, id, scope)
	}

	if body != nil {
		inner := append(append([]string(nil), scope...), name)
		for i := 0; i < int(body.ChildCount()); i++ {
			w.walk(body.Child(i), inner, id)
		}
	}
}

// baseClasses emits one EXTENDS raw reference per positional base in the
// class argument list. Keyword arguments (metaclass=...) are skipped.
func (w *pyWalker) baseClasses(args *sitter.Node, classID string, scope []string) {
	for i := 0; i < int(args.NamedChildCount()); i++ {
		arg := args.NamedChild(i)
		root, attrs, ok := chain(arg, w.content)
		if !ok {
			continue
		}
		w.result.Refs = append(w.result.Refs, RawRef{
			SourceID: classID,
			FilePath: w.path,
			Kind:     model.EdgeExtends,
			Line:     line(arg),
			Name:     root,
			Attrs:    attrs,
			Scope:    append([]string(nil), scope...),
		})
	}
}

func (w *pyWalker) funcDef(n *sitter.Node, scope []string) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := w.text(nameNode)
	fqn := w.fqn(scope, name)
	id := NodeID(model.NodeFunction, fqn)

	isAsync := false
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.Child(i).Type() == "async" {
			isAsync = true
			break
		}
	}

	body := n.ChildByFieldName("body")
	node := model.Node{
		ID:        id,
		Kind:      model.NodeFunction,
		Name:      name,
		FilePath:  w.path,
		StartLine: line(n),
		EndLine:   int(n.EndPoint().Row) + 1,
		FQN:       fqn,
		Signature: w.signature(n, body),
		IsAsync:   isAsync,
		IsPrivate: strings.HasPrefix(name, "_"),
		Docstring: w.docstring(body),
		Snippet:   w.text(n),
	}
	w.result.Nodes = append(w.result.Nodes, node)
	w.result.Defs = append(w.result.Defs, Definition{
		Name:     name,
		NodeID:   id,
		Kind:     model.NodeFunction,
		FilePath: w.path,
		Scope:    append([]string(nil), scope...),
	})

	if body != nil {
		inner := append(append([]string(nil), scope...), name)
		for i := 0; i < int(body.ChildCount()); i++ {
			w.walk(body.Child(i), inner, id)
		}
	}
}

func (w *pyWalker) callExpr(n *sitter.Node, scope []string, sourceID string) {
	fn := n.ChildByFieldName("function")
	if fn == nil {
		return
	}
	root, attrs, ok := chain(fn, w.content)
	if !ok {
		return
	}
	w.result.Refs = append(w.result.Refs, RawRef{
		SourceID: sourceID,
		FilePath: w.path,
		Kind:     model.EdgeCalls,
		Line:     line(n),
		Name:     root,
		Attrs:    attrs,
		Scope:    append([]string(nil), scope...),
	})
}

// assignment records `name = Ctor(...)` bindings for receiver-type
// attribution during resolution.
func (w *pyWalker) assignment(n *sitter.Node, scope []string) {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	if left == nil || right == nil {
		return
	}
	if left.Type() != "identifier" || right.Type() != "call" {
		return
	}
	fn := right.ChildByFieldName("function")
	if fn == nil {
		return
	}
	root, attrs, ok := chain(fn, w.content)
	if !ok {
		return
	}
	typeName := root
	if len(attrs) > 0 {
		typeName = root + "." + strings.Join(attrs, ".")
	}
	w.result.Bindings = append(w.result.Bindings, VarBinding{
		Name:     w.text(left),
		TypeName: typeName,
		FilePath: w.path,
		Scope:    append([]string(nil), scope...),
	})
}

func (w *pyWalker) fqn(scope []string, name string) string {
	parts := append(append([]string(nil), scope...), name)
	return w.path + "::" + strings.Join(parts, "::")
}

// signature is the header text of a definition, from its first token up to
// the body block.
func (w *pyWalker) signature(n, body *sitter.Node) string {
	if body == nil {
		return strings.TrimSpace(w.text(n))
	}
	sig := string(w.content[n.StartByte():body.StartByte()])
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sig), ":"))
}

// docstring returns the first string statement of a block, unquoted.
func (w *pyWalker) docstring(body *sitter.Node) string {
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str.Type() != "string" {
		return ""
	}
	return unquote(w.text(str))
}

func unquote(s string) string {
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2*len(q) {
			return strings.TrimSpace(s[len(q) : len(s)-len(q)])
		}
	}
	return strings.TrimSpace(s)
}

// chain flattens an identifier or attribute expression into a root name and
// attribute path. Anything else (subscripts, call results) is not chainable.
func chain(n *sitter.Node, content []byte) (string, []string, bool) {
	switch n.Type() {
	case "identifier":
		return string(content[n.StartByte():n.EndByte()]), nil, true
	case "attribute":
		obj := n.ChildByFieldName("object")
		attr := n.ChildByFieldName("attribute")
		if obj == nil || attr == nil {
			return "", nil, false
		}
		root, attrs, ok := chain(obj, content)
		if !ok {
			return "", nil, false
		}
		return root, append(attrs, string(content[attr.StartByte():attr.EndByte()])), true
	}
	return "", nil, false
}

func line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

func firstErrorLine(n *sitter.Node) int {
	if n.Type() == "ERROR" || n.IsMissing() {
		return line(n)
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if l := firstErrorLine(n.Child(i)); l > 0 {
			return l
		}
	}
	return 0
}
