// Package service exposes the core operations consumed by the CLI and HTTP
// front ends. Every operation validates its inputs before touching storage.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"codegraph/internal/analyzer"
	"codegraph/internal/assembler"
	"codegraph/internal/crawler"
	"codegraph/internal/extractor"
	"codegraph/internal/model"
	"codegraph/internal/resolver"
	"codegraph/internal/store"
)

// graphVersion tags stored graphs with the data-model revision that
// produced them.
const graphVersion = "1"

// AnalyzeStats summarizes one analysis run.
type AnalyzeStats struct {
	Files           int      `json:"files"`
	Nodes           int      `json:"nodes"`
	Edges           int      `json:"edges"`
	ResolvedEdges   int      `json:"resolved_edges"`
	UnresolvedEdges int      `json:"unresolved_edges"`
	ParseErrors     []string `json:"parse_errors,omitempty"`
	DurationMS      int64    `json:"duration_ms"`
}

// AnalyzeResult is the outcome of Analyze.
type AnalyzeResult struct {
	GraphID string       `json:"graph_id"`
	Stats   AnalyzeStats `json:"stats"`
}

// NodeDetail is a node together with its resolved relationships.
type NodeDetail struct {
	Node         model.Node   `json:"node"`
	Dependencies []model.Edge `json:"dependencies"`
	Dependents   []model.Edge `json:"dependents"`
}

// Service wires the crawler, resolver and repository into the operation
// surface the front ends consume.
type Service struct {
	crawler   *crawler.Crawler
	resolver  *resolver.Resolver
	repo      store.Repository
	analyzer  *analyzer.ImpactAnalyzer
	assembler *assembler.ContextAssembler
	log       *zap.Logger
}

// New assembles a service from its parts.
func New(c *crawler.Crawler, r *resolver.Resolver, repo store.Repository, opts analyzer.Options, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		crawler:   c,
		resolver:  r,
		repo:      repo,
		analyzer:  analyzer.New(repo, opts, log),
		assembler: assembler.New(repo, log),
		log:       log,
	}
}

// Analyze scans a repository, resolves its references and persists the
// resulting graph. When edgeKinds is non-empty only edges of those kinds
// are kept.
func (s *Service) Analyze(ctx context.Context, repositoryPath string, edgeKinds []model.EdgeKind) (*AnalyzeResult, error) {
	if repositoryPath == "" {
		return nil, &model.InvalidRequestError{Field: "repository_path", Reason: "must not be empty"}
	}
	for _, k := range edgeKinds {
		if !validEdgeKind(k) {
			return nil, &model.InvalidRequestError{Field: "edge_kinds", Reason: fmt.Sprintf("unknown edge kind %q", k)}
		}
	}

	start := time.Now()
	scan, err := s.crawler.Scan(ctx, repositoryPath)
	if err != nil {
		return nil, err
	}

	var nodes []model.Node
	for _, fr := range scan.Files {
		nodes = append(nodes, fr.Nodes...)
	}
	edges, stats := s.resolver.Resolve(scan.Files)
	if len(edgeKinds) > 0 {
		edges = filterKinds(edges, edgeKinds)
	}

	g := &model.Graph{
		RepositoryPath: repositoryPath,
		Version:        graphVersion,
		GeneratedAt:    time.Now().UTC(),
		ContentHash:    contentHash(scan.Files),
		Nodes:          nodes,
		Edges:          edges,
	}
	id, err := s.repo.Save(ctx, g)
	if err != nil {
		return nil, err
	}

	result := &AnalyzeResult{
		GraphID: id,
		Stats: AnalyzeStats{
			Files:           len(scan.Files),
			Nodes:           len(nodes),
			Edges:           len(edges),
			ResolvedEdges:   stats.Resolved,
			UnresolvedEdges: stats.Unresolved,
			DurationMS:      time.Since(start).Milliseconds(),
		},
	}
	for _, pe := range scan.ParseErrors {
		result.Stats.ParseErrors = append(result.Stats.ParseErrors, pe.Error())
	}
	s.log.Info("analysis complete",
		zap.String("graph_id", id),
		zap.String("repository", repositoryPath),
		zap.Int("files", result.Stats.Files),
		zap.Int("nodes", result.Stats.Nodes),
		zap.Int("edges", result.Stats.Edges),
		zap.Int("parse_errors", len(result.Stats.ParseErrors)))
	return result, nil
}

// GetGraph loads a full graph by id.
func (s *Service) GetGraph(ctx context.Context, graphID string) (*model.Graph, error) {
	if graphID == "" {
		return nil, &model.InvalidRequestError{Field: "graph_id", Reason: "must not be empty"}
	}
	return s.repo.Load(ctx, graphID)
}

// ListGraphs returns graph headers, optionally filtered by repository path.
func (s *Service) ListGraphs(ctx context.Context, repositoryPath string) ([]model.GraphMeta, error) {
	return s.repo.List(ctx, repositoryPath)
}

// DeleteGraph removes a stored graph.
func (s *Service) DeleteGraph(ctx context.Context, graphID string) error {
	if graphID == "" {
		return &model.InvalidRequestError{Field: "graph_id", Reason: "must not be empty"}
	}
	deleted, err := s.repo.Delete(ctx, graphID)
	if err != nil {
		return err
	}
	if !deleted {
		return &model.NotFoundError{Kind: "graph", ID: graphID}
	}
	return nil
}

// GetNode returns a node with its resolved dependency and dependent edges.
func (s *Service) GetNode(ctx context.Context, graphID, nodeID string) (*NodeDetail, error) {
	if graphID == "" {
		return nil, &model.InvalidRequestError{Field: "graph_id", Reason: "must not be empty"}
	}
	if nodeID == "" {
		return nil, &model.InvalidRequestError{Field: "node_id", Reason: "must not be empty"}
	}
	n, err := s.repo.GetNode(ctx, graphID, nodeID)
	if err != nil {
		return nil, err
	}
	out, err := s.repo.EdgesFrom(ctx, graphID, nodeID, nil)
	if err != nil {
		return nil, err
	}
	in, err := s.repo.EdgesTo(ctx, graphID, nodeID, nil)
	if err != nil {
		return nil, err
	}
	return &NodeDetail{
		Node:         *n,
		Dependencies: resolvedOnly(out),
		Dependents:   resolvedOnly(in),
	}, nil
}

// FindNodes searches a graph's nodes by kind, name substring and path prefix.
func (s *Service) FindNodes(ctx context.Context, graphID string, filter store.FindFilter) ([]model.Node, error) {
	if graphID == "" {
		return nil, &model.InvalidRequestError{Field: "graph_id", Reason: "must not be empty"}
	}
	return s.repo.FindNodes(ctx, graphID, filter)
}

// GetDependencies returns everything a node depends on, up to depth hops.
func (s *Service) GetDependencies(ctx context.Context, graphID, nodeID string, depth int) ([]model.Node, error) {
	return s.traverse(ctx, graphID, nodeID, store.Forward, depth)
}

// GetDependents returns everything that depends on a node, up to depth hops.
func (s *Service) GetDependents(ctx context.Context, graphID, nodeID string, depth int) ([]model.Node, error) {
	return s.traverse(ctx, graphID, nodeID, store.Reverse, depth)
}

func (s *Service) traverse(ctx context.Context, graphID, nodeID string, dir store.Direction, depth int) ([]model.Node, error) {
	if graphID == "" {
		return nil, &model.InvalidRequestError{Field: "graph_id", Reason: "must not be empty"}
	}
	if nodeID == "" {
		return nil, &model.InvalidRequestError{Field: "node_id", Reason: "must not be empty"}
	}
	if depth < 0 {
		return nil, &model.InvalidRequestError{Field: "depth", Reason: "must be non-negative"}
	}
	return s.repo.Traverse(ctx, graphID, nodeID, dir, depth, nil)
}

// Impact reports which files a changed-file set affects and how risky the
// change is.
func (s *Service) Impact(ctx context.Context, graphID string, changedFiles []string, depth int) (*analyzer.ImpactReport, error) {
	if graphID == "" {
		return nil, &model.InvalidRequestError{Field: "graph_id", Reason: "must not be empty"}
	}
	return s.analyzer.Analyze(ctx, graphID, changedFiles, depth)
}

// Context assembles the budgeted subgraph around a set of entry points.
func (s *Service) Context(ctx context.Context, graphID string, entryPoints []string, depth, maxNodes int, includeCode bool) (*assembler.ContextResult, error) {
	if graphID == "" {
		return nil, &model.InvalidRequestError{Field: "graph_id", Reason: "must not be empty"}
	}
	return s.assembler.Assemble(ctx, graphID, entryPoints, depth, maxNodes, includeCode)
}

// contentHash fingerprints the analyzed source set by hashing the sorted
// per-file content hashes. Two runs over identical sources share a hash.
func contentHash(files []*extractor.FileResult) string {
	lines := make([]string, 0, len(files))
	for _, fr := range files {
		lines = append(lines, fr.Path+":"+fr.ContentHash)
	}
	sort.Strings(lines)
	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func validEdgeKind(k model.EdgeKind) bool {
	for _, v := range model.AllEdgeKinds() {
		if k == v {
			return true
		}
	}
	return false
}

func filterKinds(edges []model.Edge, kinds []model.EdgeKind) []model.Edge {
	wanted := make(map[model.EdgeKind]bool, len(kinds))
	for _, k := range kinds {
		wanted[k] = true
	}
	out := edges[:0]
	for _, e := range edges {
		if wanted[e.Kind] {
			out = append(out, e)
		}
	}
	return out
}

func resolvedOnly(edges []model.Edge) []model.Edge {
	var out []model.Edge
	for _, e := range edges {
		if e.Resolved {
			out = append(out, e)
		}
	}
	return out
}
