// Package analyzer computes change-impact reports over a stored graph:
// given a set of changed files, it finds the files that depend on them,
// directly or transitively, and classifies how risky the change is.
package analyzer

import (
	"context"
	"path"
	"sort"

	"go.uber.org/zap"

	"codegraph/internal/model"
	"codegraph/internal/store"
)

// RiskTier classifies a change by the share of the repository it touches.
type RiskTier string

const (
	RiskMinimal  RiskTier = "minimal"
	RiskLow      RiskTier = "low"
	RiskMedium   RiskTier = "medium"
	RiskHigh     RiskTier = "high"
	RiskCritical RiskTier = "critical"
)

// Thresholds are the lower bounds of each tier above minimal, as fractions
// of the total file count. Boundaries are lower-inclusive: a ratio exactly
// at a bound lands in the higher tier.
type Thresholds struct {
	Low      float64 `yaml:"low"`
	Medium   float64 `yaml:"medium"`
	High     float64 `yaml:"high"`
	Critical float64 `yaml:"critical"`
}

// DefaultThresholds returns the standard tier boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 0.05, Medium: 0.10, High: 0.20, Critical: 0.50}
}

// Options configures impact analysis.
type Options struct {
	// Thresholds set the risk tier boundaries.
	Thresholds Thresholds
	// TestPatterns are glob patterns matched against file base names to
	// classify a file as a test.
	TestPatterns []string
	// EdgeKinds restricts which relationships count as a dependency.
	EdgeKinds []model.EdgeKind
}

// DefaultOptions returns options matching common Python conventions.
func DefaultOptions() Options {
	return Options{
		Thresholds:   DefaultThresholds(),
		TestPatterns: []string{"test_*.py", "*_test.py"},
		EdgeKinds:    []model.EdgeKind{model.EdgeImports, model.EdgeCalls},
	}
}

// ImpactReport is the result of analyzing a changed-file set.
type ImpactReport struct {
	ChangedFiles         []string `json:"changed_files"`
	DirectlyAffected     []string `json:"directly_affected"`
	TransitivelyAffected []string `json:"transitively_affected"`
	AffectedTests        []string `json:"affected_tests"`
	RiskTier             RiskTier `json:"risk_tier"`
	AffectedRatio        float64  `json:"affected_ratio"`
	TotalFiles           int      `json:"total_files"`
	// UnknownFiles are changed paths with no file node in the graph, e.g.
	// files added after the analyzed revision or non-source files.
	UnknownFiles []string `json:"unknown_files,omitempty"`
}

// ImpactAnalyzer answers "what breaks if these files change" by walking
// dependency edges in reverse.
type ImpactAnalyzer struct {
	repo store.Repository
	opts Options
	log  *zap.Logger
}

// New creates an analyzer over the given repository.
func New(repo store.Repository, opts Options, log *zap.Logger) *ImpactAnalyzer {
	if log == nil {
		log = zap.NewNop()
	}
	if len(opts.TestPatterns) == 0 {
		opts.TestPatterns = DefaultOptions().TestPatterns
	}
	if len(opts.EdgeKinds) == 0 {
		opts.EdgeKinds = DefaultOptions().EdgeKinds
	}
	var zero Thresholds
	if opts.Thresholds == zero {
		opts.Thresholds = DefaultThresholds()
	}
	return &ImpactAnalyzer{repo: repo, opts: opts, log: log}
}

// Analyze resolves each changed path to its file node and walks incoming
// dependency edges in reverse. Files depending on a changed file (importing
// it, or calling or subclassing something defined in it) are directly
// affected; files reachable from those within depthLimit further hops are
// transitively affected.
func (a *ImpactAnalyzer) Analyze(ctx context.Context, graphID string, changedFiles []string, depthLimit int) (*ImpactReport, error) {
	if depthLimit < 0 {
		return nil, &model.InvalidRequestError{Field: "depth", Reason: "must be non-negative"}
	}
	if len(changedFiles) == 0 {
		return nil, &model.InvalidRequestError{Field: "changed_files", Reason: "must not be empty"}
	}

	g, err := a.repo.Load(ctx, graphID)
	if err != nil {
		return nil, err
	}

	fileByPath := g.FileNodeByPath()
	totalFiles := len(fileByPath)
	nodeByID := g.NodeByID()

	nodesInFile := make(map[string][]string)
	for _, n := range g.Nodes {
		nodesInFile[n.FilePath] = append(nodesInFile[n.FilePath], n.ID)
	}

	wanted := make(map[model.EdgeKind]bool, len(a.opts.EdgeKinds))
	for _, k := range a.opts.EdgeKinds {
		wanted[k] = true
	}
	incoming := make(map[string][]string)
	for _, e := range g.Edges {
		if !e.Resolved || !wanted[e.Kind] {
			continue
		}
		incoming[e.TargetID] = append(incoming[e.TargetID], e.SourceID)
	}

	changed := make(map[string]bool, len(changedFiles))
	var unknown []string
	for _, p := range changedFiles {
		if _, ok := fileByPath[p]; !ok {
			unknown = append(unknown, p)
			continue
		}
		changed[p] = true
	}

	// dependentsOf maps a file to the set of files that depend on it by
	// following incoming edges to any node the file defines.
	dependentsOf := func(filePath string) []string {
		seen := make(map[string]bool)
		for _, nodeID := range nodesInFile[filePath] {
			for _, sourceID := range incoming[nodeID] {
				src, ok := nodeByID[sourceID]
				if !ok {
					continue
				}
				if src.FilePath != filePath {
					seen[src.FilePath] = true
				}
			}
		}
		out := make([]string, 0, len(seen))
		for p := range seen {
			out = append(out, p)
		}
		return out
	}

	// A changed file that depends on another changed file stays in the
	// direct set; only the transitive walk excludes the changed set.
	direct := make(map[string]bool)
	for p := range changed {
		for _, dep := range dependentsOf(p) {
			direct[dep] = true
		}
	}

	transitive := make(map[string]bool)
	frontier := keys(direct)
	for depth := 0; depth < depthLimit && len(frontier) > 0; depth++ {
		var next []string
		for _, p := range frontier {
			for _, dep := range dependentsOf(p) {
				if changed[dep] || direct[dep] || transitive[dep] {
					continue
				}
				transitive[dep] = true
				next = append(next, dep)
			}
		}
		frontier = next
	}

	affected := len(direct) + len(transitive)
	ratio := 0.0
	if totalFiles > 0 {
		ratio = float64(affected) / float64(totalFiles)
	}

	report := &ImpactReport{
		ChangedFiles:         sorted(keys(changed)),
		DirectlyAffected:     sorted(keys(direct)),
		TransitivelyAffected: sorted(keys(transitive)),
		AffectedTests:        a.matchTests(direct, transitive),
		RiskTier:             a.opts.Thresholds.Classify(ratio),
		AffectedRatio:        ratio,
		TotalFiles:           totalFiles,
		UnknownFiles:         sorted(unknown),
	}
	a.log.Debug("impact analysis complete",
		zap.String("graph_id", graphID),
		zap.Int("changed", len(changed)),
		zap.Int("affected", affected),
		zap.String("risk_tier", string(report.RiskTier)))
	return report, nil
}

// Classify maps an affected-ratio to a tier. The function is monotonic:
// a larger ratio never yields a lower tier.
func (t Thresholds) Classify(ratio float64) RiskTier {
	switch {
	case ratio >= t.Critical:
		return RiskCritical
	case ratio >= t.High:
		return RiskHigh
	case ratio >= t.Medium:
		return RiskMedium
	case ratio >= t.Low:
		return RiskLow
	default:
		return RiskMinimal
	}
}

func (a *ImpactAnalyzer) matchTests(direct, transitive map[string]bool) []string {
	var tests []string
	match := func(p string) bool {
		base := path.Base(p)
		for _, pat := range a.opts.TestPatterns {
			if ok, _ := path.Match(pat, base); ok {
				return true
			}
		}
		return false
	}
	for p := range direct {
		if match(p) {
			tests = append(tests, p)
		}
	}
	for p := range transitive {
		if match(p) {
			tests = append(tests, p)
		}
	}
	return sorted(tests)
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func sorted(s []string) []string {
	sort.Strings(s)
	return s
}
