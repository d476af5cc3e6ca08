package model

import "time"

// NodeKind classifies a code entity.
type NodeKind string

const (
	NodeFile     NodeKind = "file"
	NodeClass    NodeKind = "class"
	NodeFunction NodeKind = "function"
)

// EdgeKind classifies a directed relationship between two entities.
type EdgeKind string

const (
	EdgeImports EdgeKind = "imports"
	EdgeCalls   EdgeKind = "calls"
	EdgeExtends EdgeKind = "extends"
)

// AllEdgeKinds returns every edge kind in a stable order.
func AllEdgeKinds() []EdgeKind {
	return []EdgeKind{EdgeImports, EdgeCalls, EdgeExtends}
}

// Node is a single code entity in the graph: a file, a class, or a function.
// ID is unique within a graph; FQN is unique among nodes of the same kind.
type Node struct {
	ID        string   `json:"id"`
	Kind      NodeKind `json:"kind"`
	Name      string   `json:"name"`
	FilePath  string   `json:"file_path"`
	StartLine int      `json:"start_line"`
	EndLine   int      `json:"end_line,omitempty"`
	FQN       string   `json:"fully_qualified_name"`
	Signature string   `json:"signature,omitempty"`
	IsAsync   bool     `json:"is_async,omitempty"`
	IsPrivate bool     `json:"is_private,omitempty"`
	Docstring string   `json:"docstring,omitempty"`
	Snippet   string   `json:"snippet,omitempty"`
}

// Edge is a directed, typed relationship between two nodes.
// When Resolved is false, TargetID is a best-effort external label kept for
// diagnostic display only; traversal never dereferences it as a node.
type Edge struct {
	SourceID string   `json:"source_id"`
	TargetID string   `json:"target_id"`
	Kind     EdgeKind `json:"kind"`
	Line     int      `json:"line,omitempty"`
	Resolved bool     `json:"resolved"`
}

// Graph is the immutable product of one analysis run. A new run over the
// same repository produces a new Graph under a new ID; graphs are never
// mutated field by field after assembly.
type Graph struct {
	ID             string    `json:"id"`
	RepositoryPath string    `json:"repository_path"`
	Version        string    `json:"version"`
	GeneratedAt    time.Time `json:"generated_at"`
	ContentHash    string    `json:"content_hash"`
	Nodes          []Node    `json:"nodes"`
	Edges          []Edge    `json:"edges"`
}

// GraphMeta is the header-only projection of a Graph used by listing
// queries, returned without materializing node and edge sets.
type GraphMeta struct {
	ID             string    `json:"id"`
	RepositoryPath string    `json:"repository_path"`
	CreatedAt      time.Time `json:"created_at"`
	NodeCount      int       `json:"node_count"`
	EdgeCount      int       `json:"edge_count"`
}

// NodeByID builds a lookup map over the graph's nodes.
func (g *Graph) NodeByID() map[string]Node {
	idx := make(map[string]Node, len(g.Nodes))
	for _, n := range g.Nodes {
		idx[n.ID] = n
	}
	return idx
}

// FileNodeByPath indexes the graph's file nodes by their file path.
func (g *Graph) FileNodeByPath() map[string]Node {
	idx := make(map[string]Node)
	for _, n := range g.Nodes {
		if n.Kind == NodeFile {
			idx[n.FilePath] = n
		}
	}
	return idx
}
