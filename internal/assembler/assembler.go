// Package assembler selects the subgraph most relevant to a set of entry
// points, within a node budget, for consumption by an external agent.
package assembler

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"codegraph/internal/model"
	"codegraph/internal/store"
)

// ContextResult is an ordered selection of nodes. Truncated reports whether
// the reachable set exceeded the budget.
type ContextResult struct {
	Nodes     []model.Node `json:"nodes"`
	Truncated bool         `json:"truncated"`
}

// ContextAssembler expands forward from entry points layer by layer,
// most-relevant first, until the node budget is spent.
type ContextAssembler struct {
	repo store.Repository
	log  *zap.Logger
}

// New creates an assembler over the given repository.
func New(repo store.Repository, log *zap.Logger) *ContextAssembler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ContextAssembler{repo: repo, log: log}
}

// Relevance order within a BFS layer: how a node was reached outranks what
// it is, and ties fall back to discovery order.
var edgePriority = map[model.EdgeKind]int{
	model.EdgeCalls:   0,
	model.EdgeExtends: 1,
	model.EdgeImports: 2,
}

var nodePriority = map[model.NodeKind]int{
	model.NodeFunction: 0,
	model.NodeClass:    1,
	model.NodeFile:     2,
}

type candidate struct {
	node     model.Node
	edgeRank int
	order    int
}

// Assemble runs a forward breadth-first expansion from all entry points
// simultaneously. Each layer is sorted by edge kind (calls before extends
// before imports), then node kind (functions before classes before files),
// then discovery order, and appended until maxNodes is reached. When the
// budget runs out mid-layer the rest of the layer is dropped and Truncated
// is set.
func (a *ContextAssembler) Assemble(ctx context.Context, graphID string, entryPoints []string, depthLimit, maxNodes int, includeCode bool) (*ContextResult, error) {
	if depthLimit < 0 {
		return nil, &model.InvalidRequestError{Field: "depth", Reason: "must be non-negative"}
	}
	if maxNodes <= 0 {
		return nil, &model.InvalidRequestError{Field: "max_nodes", Reason: "must be positive"}
	}
	if len(entryPoints) == 0 {
		return nil, &model.InvalidRequestError{Field: "entry_points", Reason: "must not be empty"}
	}

	visited := make(map[string]bool)
	var layer []candidate
	for _, id := range entryPoints {
		if visited[id] {
			continue
		}
		n, err := a.repo.GetNode(ctx, graphID, id)
		if err != nil {
			return nil, err
		}
		visited[id] = true
		layer = append(layer, candidate{node: *n, order: len(layer)})
	}

	result := &ContextResult{}
	appendLayer := func(layer []candidate) bool {
		sort.SliceStable(layer, func(i, j int) bool {
			a, b := layer[i], layer[j]
			if a.edgeRank != b.edgeRank {
				return a.edgeRank < b.edgeRank
			}
			if nodePriority[a.node.Kind] != nodePriority[b.node.Kind] {
				return nodePriority[a.node.Kind] < nodePriority[b.node.Kind]
			}
			return a.order < b.order
		})
		for _, c := range layer {
			if len(result.Nodes) >= maxNodes {
				result.Truncated = true
				return false
			}
			n := c.node
			if !includeCode {
				n.Snippet = ""
			}
			result.Nodes = append(result.Nodes, n)
		}
		return true
	}

	if !appendLayer(layer) {
		return result, nil
	}

	for depth := 0; depth < depthLimit && len(layer) > 0; depth++ {
		var next []candidate
		for _, c := range layer {
			edges, err := a.repo.EdgesFrom(ctx, graphID, c.node.ID, nil)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				if !e.Resolved || visited[e.TargetID] {
					continue
				}
				n, err := a.repo.GetNode(ctx, graphID, e.TargetID)
				if err != nil {
					if errors.Is(err, model.ErrNotFound) {
						continue
					}
					return nil, err
				}
				visited[e.TargetID] = true
				next = append(next, candidate{
					node:     *n,
					edgeRank: edgePriority[e.Kind],
					order:    len(next),
				})
			}
		}
		if !appendLayer(next) {
			break
		}
		layer = next
	}

	a.log.Debug("context assembled",
		zap.String("graph_id", graphID),
		zap.Int("nodes", len(result.Nodes)),
		zap.Bool("truncated", result.Truncated))
	return result, nil
}
