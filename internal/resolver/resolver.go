package resolver

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"codegraph/internal/extractor"
	"codegraph/internal/model"
)

// Resolver converts the raw references of a whole repository into typed,
// resolved-or-unresolved edges. Resolution is best-effort and deterministic:
// identical inputs always yield identical edge sets, including the
// resolved/unresolved partition.
type Resolver struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{log: log}
}

// Stats summarizes one resolution pass.
type Stats struct {
	Resolved   int
	Unresolved int
}

// importBinding maps a local name to what an import statement bound it to.
type importBinding struct {
	module     string // dotted module path
	symbol     string // non-empty for from-imports
	targetPath string // file path of the resolved module, "" if external
}

type pass struct {
	moduleFile map[string]string // module path -> file path
	fileNodeID map[string]string // file path -> file node id
	tables     map[string]*scopeTable
	imports    map[string]map[string]importBinding
}

// Resolve runs the two-phase resolution over the merged extraction results:
// import tables first, then calls and base classes against scope chains,
// receiver bindings and the import tables.
func (r *Resolver) Resolve(files []*extractor.FileResult) ([]model.Edge, Stats) {
	sorted := append([]*extractor.FileResult(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	p := &pass{
		moduleFile: make(map[string]string),
		fileNodeID: make(map[string]string),
		tables:     make(map[string]*scopeTable),
		imports:    make(map[string]map[string]importBinding),
	}
	for _, fr := range sorted {
		p.fileNodeID[fr.Path] = fr.FileNode().ID
		if mod := modulePath(fr.Path); mod != "" {
			p.moduleFile[mod] = fr.Path
		}
		p.tables[fr.Path] = newScopeTable(fr)
	}

	var edges []model.Edge

	// Phase 1: imports. Tables must exist before any call resolves through
	// an alias.
	for _, fr := range sorted {
		table := make(map[string]importBinding)
		for _, ref := range fr.Refs {
			if ref.Kind != model.EdgeImports {
				continue
			}
			edges = append(edges, p.resolveImport(fr, ref, table))
		}
		p.imports[fr.Path] = table
	}

	// Phase 2: calls and base classes.
	for _, fr := range sorted {
		for _, ref := range fr.Refs {
			switch ref.Kind {
			case model.EdgeCalls:
				edges = append(edges, p.resolveCall(fr, ref))
			case model.EdgeExtends:
				edges = append(edges, p.resolveExtends(fr, ref))
			}
		}
	}

	edges = dedupe(edges)
	var stats Stats
	for _, e := range edges {
		if e.Resolved {
			stats.Resolved++
		} else {
			stats.Unresolved++
		}
	}
	r.log.Debug("resolution complete",
		zap.Int("resolved", stats.Resolved),
		zap.Int("unresolved", stats.Unresolved))
	return edges, stats
}

// resolveImport emits the IMPORTS edge for one import statement and records
// the aliases it binds. Later imports of the same name overwrite earlier
// ones (last import wins).
func (p *pass) resolveImport(fr *extractor.FileResult, ref extractor.RawRef, table map[string]importBinding) model.Edge {
	module := ref.Module
	if ref.Relative > 0 {
		module = relativeModule(fr.Path, ref.Relative, ref.Module)
	}
	targetPath, found := p.lookupModule(module)

	edge := model.Edge{
		SourceID: fr.FileNode().ID,
		Kind:     model.EdgeImports,
		Line:     ref.Line,
	}
	if found {
		edge.TargetID = p.fileNodeID[targetPath]
		edge.Resolved = true
	} else {
		edge.TargetID = displayModule(ref)
	}

	if len(ref.Symbols) == 0 {
		name := ref.Alias
		bound := module
		if name == "" {
			// A plain `import a.b` binds only the root package name.
			name = firstSegment(module)
			bound = name
		}
		boundPath, _ := p.lookupModule(bound)
		table[name] = importBinding{module: bound, targetPath: boundPath}
	} else {
		for _, sym := range ref.Symbols {
			name := sym.Alias
			if name == "" {
				name = sym.Name
			}
			table[name] = importBinding{module: module, symbol: sym.Name, targetPath: targetPath}
		}
	}
	return edge
}

func (p *pass) resolveCall(fr *extractor.FileResult, ref extractor.RawRef) model.Edge {
	edge := model.Edge{
		SourceID: ref.SourceID,
		Kind:     model.EdgeCalls,
		Line:     ref.Line,
	}

	if def, ok := p.resolveChain(fr.Path, ref.Scope, ref.Name, ref.Attrs); ok {
		edge.TargetID = def.NodeID
		edge.Resolved = true
		return edge
	}

	// Method call on a variable with a statically known constructor type.
	if len(ref.Attrs) == 1 {
		if typeName, ok := p.tables[fr.Path].bindingType(ref.Scope, ref.Name); ok {
			root, attrs := splitDotted(typeName)
			if classDef, ok := p.resolveChain(fr.Path, ref.Scope, root, attrs); ok && classDef.Kind == model.NodeClass {
				if method, ok := p.tables[classDef.FilePath].memberOf(classDef, ref.Attrs[0]); ok {
					edge.TargetID = method.NodeID
					edge.Resolved = true
					return edge
				}
			}
		}
	}

	edge.TargetID = ref.Label()
	return edge
}

func (p *pass) resolveExtends(fr *extractor.FileResult, ref extractor.RawRef) model.Edge {
	edge := model.Edge{
		SourceID: ref.SourceID,
		Kind:     model.EdgeExtends,
		Line:     ref.Line,
	}
	// A base that is not a class in the analyzed tree stays as an
	// unresolved edge; the inheritance signal is never dropped.
	if def, ok := p.resolveChain(fr.Path, ref.Scope, ref.Name, ref.Attrs); ok && def.Kind == model.NodeClass {
		edge.TargetID = def.NodeID
		edge.Resolved = true
		return edge
	}
	edge.TargetID = ref.Label()
	return edge
}

// resolveChain resolves a dotted name at a position in a file. Local scope
// wins over import aliases (shadowing semantics).
func (p *pass) resolveChain(fpath string, scope []string, root string, attrs []string) (extractor.Definition, bool) {
	t := p.tables[fpath]

	if root == "self" {
		if cls, ok := t.enclosingClass(scope); ok && len(attrs) == 1 {
			if m, ok := t.memberOf(cls, attrs[0]); ok {
				return m, true
			}
		}
		return extractor.Definition{}, false
	}

	if d, ok := t.lookup(scope, root); ok {
		switch {
		case len(attrs) == 0:
			return d, true
		case d.Kind == model.NodeClass && len(attrs) == 1:
			if m, ok := t.memberOf(d, attrs[0]); ok {
				return m, true
			}
		}
		return extractor.Definition{}, false
	}

	if b, ok := p.imports[fpath][root]; ok {
		return p.resolveImported(b, attrs)
	}
	return extractor.Definition{}, false
}

// resolveImported follows an import binding plus an attribute chain to a
// definition in the target module.
func (p *pass) resolveImported(b importBinding, attrs []string) (extractor.Definition, bool) {
	if b.symbol != "" {
		// A from-imported name may itself be a submodule.
		if sub, ok := p.lookupModule(b.module + "." + b.symbol); ok {
			return p.resolveInModule(sub, attrs)
		}
		if b.targetPath == "" {
			return extractor.Definition{}, false
		}
		t := p.tables[b.targetPath]
		d, ok := t.member(nil, b.symbol)
		if !ok {
			return extractor.Definition{}, false
		}
		switch {
		case len(attrs) == 0:
			return d, true
		case d.Kind == model.NodeClass && len(attrs) == 1:
			return t.memberOf(d, attrs[0])
		}
		return extractor.Definition{}, false
	}

	// Module import: the longest module prefix of the attribute chain wins,
	// the remainder resolves inside that module.
	for k := len(attrs) - 1; k >= 0; k-- {
		mod := b.module
		if k > 0 {
			mod += "." + strings.Join(attrs[:k], ".")
		}
		if path, ok := p.moduleFile[mod]; ok {
			return p.resolveInModule(path, attrs[k:])
		}
	}
	return extractor.Definition{}, false
}

func (p *pass) resolveInModule(path string, attrs []string) (extractor.Definition, bool) {
	if len(attrs) == 0 {
		return extractor.Definition{}, false
	}
	t := p.tables[path]
	d, ok := t.member(nil, attrs[0])
	if !ok {
		return extractor.Definition{}, false
	}
	switch {
	case len(attrs) == 1:
		return d, true
	case d.Kind == model.NodeClass && len(attrs) == 2:
		return t.memberOf(d, attrs[1])
	}
	return extractor.Definition{}, false
}

func (p *pass) lookupModule(module string) (string, bool) {
	if module == "" {
		return "", false
	}
	path, ok := p.moduleFile[module]
	return path, ok
}

// modulePath converts a file path to its dotted module path;
// pkg/sub/mod.py -> pkg.sub.mod, pkg/__init__.py -> pkg.
func modulePath(p string) string {
	p = strings.TrimSuffix(p, ".py")
	p = strings.TrimSuffix(p, "/__init__")
	if p == "__init__" {
		return ""
	}
	return strings.ReplaceAll(p, "/", ".")
}

// relativeModule resolves a relative import against the importing file's
// package: one dot is the current package, each further dot climbs once.
func relativeModule(fpath string, dots int, module string) string {
	dir := ""
	if i := strings.LastIndex(fpath, "/"); i >= 0 {
		dir = fpath[:i]
	}
	parts := []string{}
	if dir != "" {
		parts = strings.Split(dir, "/")
	}
	drop := dots - 1
	if drop > len(parts) {
		drop = len(parts)
	}
	parts = parts[:len(parts)-drop]
	base := strings.Join(parts, ".")
	switch {
	case base == "":
		return module
	case module == "":
		return base
	default:
		return base + "." + module
	}
}

func displayModule(ref extractor.RawRef) string {
	return strings.Repeat(".", ref.Relative) + ref.Module
}

func firstSegment(module string) string {
	if i := strings.Index(module, "."); i >= 0 {
		return module[:i]
	}
	return module
}

func splitDotted(name string) (string, []string) {
	parts := strings.Split(name, ".")
	return parts[0], parts[1:]
}

// dedupe keeps the first edge per (source, target, kind) and returns the
// set in a stable order.
func dedupe(edges []model.Edge) []model.Edge {
	seen := make(map[string]bool, len(edges))
	out := edges[:0]
	for _, e := range edges {
		key := e.SourceID + "|" + e.TargetID + "|" + string(e.Kind)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceID != out[j].SourceID {
			return out[i].SourceID < out[j].SourceID
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].TargetID < out[j].TargetID
	})
	return out
}
