package resolver

import (
	"strings"

	"codegraph/internal/extractor"
	"codegraph/internal/model"
)

// scopeTable holds one file's declared names and variable bindings, indexed
// by lexical scope. Lookups walk an explicit stack of scope frames from the
// innermost frame outward; the module level is the empty frame.
type scopeTable struct {
	defs     map[string]map[string]extractor.Definition
	bindings map[string]map[string][]string
}

func newScopeTable(fr *extractor.FileResult) *scopeTable {
	t := &scopeTable{
		defs:     make(map[string]map[string]extractor.Definition),
		bindings: make(map[string]map[string][]string),
	}
	for _, d := range fr.Defs {
		key := scopeKey(d.Scope)
		if t.defs[key] == nil {
			t.defs[key] = make(map[string]extractor.Definition)
		}
		t.defs[key][d.Name] = d
	}
	for _, b := range fr.Bindings {
		key := scopeKey(b.Scope)
		if t.bindings[key] == nil {
			t.bindings[key] = make(map[string][]string)
		}
		t.bindings[key][b.Name] = append(t.bindings[key][b.Name], b.TypeName)
	}
	return t
}

func scopeKey(scope []string) string {
	return strings.Join(scope, "::")
}

// frames returns the scope keys visible from the given position, innermost
// first, ending with the module frame.
func frames(scope []string) []string {
	out := make([]string, 0, len(scope)+1)
	for i := len(scope); i >= 0; i-- {
		out = append(out, scopeKey(scope[:i]))
	}
	return out
}

// lookup finds the definition a bare name refers to at the given position.
func (t *scopeTable) lookup(scope []string, name string) (extractor.Definition, bool) {
	for _, f := range frames(scope) {
		if d, ok := t.defs[f][name]; ok {
			return d, true
		}
	}
	return extractor.Definition{}, false
}

// member finds a name declared directly inside the given scope.
func (t *scopeTable) member(scope []string, name string) (extractor.Definition, bool) {
	d, ok := t.defs[scopeKey(scope)][name]
	return d, ok
}

// memberOf finds a member of the class declared by def.
func (t *scopeTable) memberOf(def extractor.Definition, name string) (extractor.Definition, bool) {
	return t.member(append(append([]string(nil), def.Scope...), def.Name), name)
}

// enclosingClass walks the scope stack outward looking for the nearest
// frame whose name is declared as a class one level further out.
func (t *scopeTable) enclosingClass(scope []string) (extractor.Definition, bool) {
	for i := len(scope) - 1; i >= 0; i-- {
		d, ok := t.defs[scopeKey(scope[:i])][scope[i]]
		if ok && d.Kind == model.NodeClass {
			return d, true
		}
	}
	return extractor.Definition{}, false
}

// bindingType returns the statically known constructor type of a variable at
// the given position, walking frames innermost first. A variable bound to
// more than one distinct type in the same frame is ambiguous.
func (t *scopeTable) bindingType(scope []string, name string) (string, bool) {
	for _, f := range frames(scope) {
		types, ok := t.bindings[f][name]
		if !ok {
			continue
		}
		first := types[0]
		for _, typ := range types[1:] {
			if typ != first {
				return "", false
			}
		}
		return first, true
	}
	return "", false
}
