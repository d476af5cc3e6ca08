package store

import (
	"context"
	"errors"
	"sync"

	"codegraph/internal/model"
)

// Direction selects which way Traverse follows edges.
type Direction string

const (
	Forward Direction = "forward" // dependencies: source -> target
	Reverse Direction = "reverse" // dependents: target -> source
)

// FindFilter narrows a node search. Zero-value fields are ignored.
// NamePattern matches as a case-insensitive substring.
type FindFilter struct {
	Kind        model.NodeKind
	NamePattern string
	PathPrefix  string
}

// Repository is the storage-agnostic persistence and query surface over
// graphs. Callers must not depend on backend-specific capabilities; the
// embedded relational backend and the external graph-native backend are
// interchangeable behind this contract.
type Repository interface {
	// Save persists the graph as a single atomic unit and returns its id,
	// assigning one when the graph has none. Partial writes are never
	// observable: a failed save leaves the previous state for that id.
	Save(ctx context.Context, g *model.Graph) (string, error)
	Load(ctx context.Context, graphID string) (*model.Graph, error)
	// List returns header projections, newest first, optionally filtered
	// by repository path.
	List(ctx context.Context, repositoryPath string) ([]model.GraphMeta, error)
	Delete(ctx context.Context, graphID string) (bool, error)

	GetNode(ctx context.Context, graphID, nodeID string) (*model.Node, error)
	FindNodes(ctx context.Context, graphID string, filter FindFilter) ([]model.Node, error)
	EdgesFrom(ctx context.Context, graphID, nodeID string, kinds []model.EdgeKind) ([]model.Edge, error)
	EdgesTo(ctx context.Context, graphID, nodeID string, kinds []model.EdgeKind) ([]model.Edge, error)
	// Traverse expands breadth-first from the start node, following
	// resolved edges of the requested kinds in the requested direction,
	// capped at maxDepth hops. Cycle-safe: no node is returned twice.
	Traverse(ctx context.Context, graphID, startID string, dir Direction, maxDepth int, kinds []model.EdgeKind) ([]model.Node, error)

	Close() error
}

// lockTable serializes saves per graph id. Reads stay lock-free; only
// concurrent writers of the same id queue up.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.Mutex)}
}

func (lt *lockTable) acquire(id string) func() {
	lt.mu.Lock()
	l, ok := lt.locks[id]
	if !ok {
		l = &sync.Mutex{}
		lt.locks[id] = l
	}
	lt.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// graphQuerier is the slice of Repository the shared traversal needs.
type graphQuerier interface {
	GetNode(ctx context.Context, graphID, nodeID string) (*model.Node, error)
	EdgesFrom(ctx context.Context, graphID, nodeID string, kinds []model.EdgeKind) ([]model.Edge, error)
	EdgesTo(ctx context.Context, graphID, nodeID string, kinds []model.EdgeKind) ([]model.Edge, error)
}

// traverseBFS implements the Traverse contract on top of the per-node edge
// queries, so both backends share identical traversal semantics. Unresolved
// edges are never dereferenced; their targets are labels, not nodes.
func traverseBFS(ctx context.Context, q graphQuerier, graphID, startID string, dir Direction, maxDepth int, kinds []model.EdgeKind) ([]model.Node, error) {
	if _, err := q.GetNode(ctx, graphID, startID); err != nil {
		return nil, err
	}

	visited := map[string]bool{startID: true}
	frontier := []string{startID}
	var out []model.Node

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			var (
				edges []model.Edge
				err   error
			)
			if dir == Reverse {
				edges, err = q.EdgesTo(ctx, graphID, id, kinds)
			} else {
				edges, err = q.EdgesFrom(ctx, graphID, id, kinds)
			}
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				if !e.Resolved {
					continue
				}
				nid := e.TargetID
				if dir == Reverse {
					nid = e.SourceID
				}
				if visited[nid] {
					continue
				}
				visited[nid] = true
				node, err := q.GetNode(ctx, graphID, nid)
				if err != nil {
					if errors.Is(err, model.ErrNotFound) {
						continue
					}
					return nil, err
				}
				out = append(out, *node)
				next = append(next, nid)
			}
		}
		frontier = next
	}
	return out, nil
}

func kindStrings(kinds []model.EdgeKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
