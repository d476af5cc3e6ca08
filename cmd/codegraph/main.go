package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"codegraph/internal/analyzer"
	"codegraph/internal/config"
	"codegraph/internal/crawler"
	"codegraph/internal/extractor"
	"codegraph/internal/git"
	"codegraph/internal/model"
	"codegraph/internal/observability"
	"codegraph/internal/resolver"
	"codegraph/internal/service"
	"codegraph/internal/store"
	"codegraph/internal/web"
)

var (
	rootCmd = &cobra.Command{
		Use:           "codegraph",
		Short:         "Code relationship graphs with change-impact analysis and context assembly",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	observability.Sync()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "codegraph.yaml", "Path to the YAML configuration file")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(graphsCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(depsCmd)
	rootCmd.AddCommand(impactCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(serveCmd)

	analyzeCmd.Flags().StringSliceVar(&edgeKindsFlag, "edge-kinds", nil, "Restrict stored edges to these kinds (imports, calls, extends)")

	graphsCmd.AddCommand(graphsListCmd, graphsDeleteCmd)
	graphsListCmd.Flags().StringVar(&repoFilterFlag, "repo", "", "Only list graphs for this repository path")

	findCmd.Flags().StringVar(&findKindFlag, "kind", "", "Node kind (file, class, function)")
	findCmd.Flags().StringVar(&findNameFlag, "name", "", "Case-insensitive name substring")
	findCmd.Flags().StringVar(&findPathFlag, "path", "", "File path prefix")

	depsCmd.Flags().IntVar(&depthFlag, "depth", 3, "Maximum traversal depth")
	depsCmd.Flags().BoolVar(&reverseFlag, "reverse", false, "Walk dependents instead of dependencies")

	impactCmd.Flags().IntVar(&depthFlag, "depth", 3, "Maximum transitive depth")
	impactCmd.Flags().BoolVar(&gitFlag, "git", false, "Derive changed files from git diff against --base")
	impactCmd.Flags().StringVar(&baseRefFlag, "base", "HEAD", "Git base ref for --git")
	impactCmd.Flags().StringVar(&repoRootFlag, "repo-root", ".", "Repository root for --git")

	contextCmd.Flags().IntVar(&depthFlag, "depth", 2, "Maximum traversal depth")
	contextCmd.Flags().IntVar(&maxNodesFlag, "max-nodes", 50, "Node budget")
	contextCmd.Flags().BoolVar(&includeCodeFlag, "include-code", false, "Include source snippets")

	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "Listen address (overrides config)")
}

var (
	edgeKindsFlag   []string
	repoFilterFlag  string
	findKindFlag    string
	findNameFlag    string
	findPathFlag    string
	depthFlag       int
	reverseFlag     bool
	gitFlag         bool
	baseRefFlag     string
	repoRootFlag    string
	maxNodesFlag    int
	includeCodeFlag bool
	addrFlag        string
)

// setup loads configuration, initializes logging and wires the service. The
// returned closer releases the storage backend.
func setup(ctx context.Context) (*service.Service, *config.Config, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	observability.InitializeLogger(cfg)
	log := observability.Logger()

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	ext, err := extractor.New("python", cfg.Analysis.Denylist)
	if err != nil {
		repo.Close()
		return nil, nil, nil, err
	}
	cr := crawler.New(ext, log, cfg.Analysis.Workers)
	res := resolver.New(log)

	opts := analyzer.Options{
		Thresholds: analyzer.Thresholds{
			Low:      cfg.Impact.Thresholds.Low,
			Medium:   cfg.Impact.Thresholds.Medium,
			High:     cfg.Impact.Thresholds.High,
			Critical: cfg.Impact.Thresholds.Critical,
		},
		TestPatterns: cfg.Impact.TestPatterns,
	}
	svc := service.New(cr, res, repo, opts, log)
	closer := func() {
		if err := repo.Close(); err != nil {
			log.Warn("failed to close repository", zap.Error(err))
		}
	}
	return svc, cfg, closer, nil
}

func openRepository(ctx context.Context, cfg *config.Config) (store.Repository, error) {
	switch cfg.Storage.Backend {
	case "", "sqlite":
		return store.NewSQLiteStore(cfg.Storage.SQLite.Path)
	case "neo4j":
		n := cfg.Storage.Neo4j
		return store.NewNeo4jStore(ctx, n.URI, n.Username, n.Password, n.Database)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [path]",
	Short: "Scan a repository and store its relationship graph",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "."
		if len(args) > 0 {
			path = args[0]
		}
		absPath, err := filepath.Abs(path)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		svc, _, closeRepo, err := setup(ctx)
		if err != nil {
			return err
		}
		defer closeRepo()

		var kinds []model.EdgeKind
		for _, k := range edgeKindsFlag {
			kinds = append(kinds, model.EdgeKind(k))
		}

		result, err := svc.Analyze(ctx, absPath, kinds)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var graphsCmd = &cobra.Command{
	Use:   "graphs",
	Short: "Manage stored graphs",
}

var graphsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored graphs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, _, closeRepo, err := setup(ctx)
		if err != nil {
			return err
		}
		defer closeRepo()

		metas, err := svc.ListGraphs(ctx, repoFilterFlag)
		if err != nil {
			return err
		}
		return printJSON(metas)
	},
}

var graphsDeleteCmd = &cobra.Command{
	Use:   "delete <graph-id>",
	Short: "Delete a stored graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, _, closeRepo, err := setup(ctx)
		if err != nil {
			return err
		}
		defer closeRepo()

		if err := svc.DeleteGraph(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted graph %s\n", args[0])
		return nil
	},
}

var nodeCmd = &cobra.Command{
	Use:   "node <graph-id> <node-id>",
	Short: "Show a node with its resolved dependencies and dependents",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, _, closeRepo, err := setup(ctx)
		if err != nil {
			return err
		}
		defer closeRepo()

		detail, err := svc.GetNode(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(detail)
	},
}

var findCmd = &cobra.Command{
	Use:   "find <graph-id>",
	Short: "Search nodes by kind, name and path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, _, closeRepo, err := setup(ctx)
		if err != nil {
			return err
		}
		defer closeRepo()

		nodes, err := svc.FindNodes(ctx, args[0], store.FindFilter{
			Kind:        model.NodeKind(findKindFlag),
			NamePattern: findNameFlag,
			PathPrefix:  findPathFlag,
		})
		if err != nil {
			return err
		}
		return printJSON(nodes)
	},
}

var depsCmd = &cobra.Command{
	Use:   "deps <graph-id> <node-id>",
	Short: "Walk dependencies (or dependents with --reverse) of a node",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, _, closeRepo, err := setup(ctx)
		if err != nil {
			return err
		}
		defer closeRepo()

		traverse := svc.GetDependencies
		if reverseFlag {
			traverse = svc.GetDependents
		}
		nodes, err := traverse(ctx, args[0], args[1], depthFlag)
		if err != nil {
			return err
		}
		return printJSON(nodes)
	},
}

var impactCmd = &cobra.Command{
	Use:   "impact <graph-id> [changed-files...]",
	Short: "Report the blast radius of a changed-file set",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, _, closeRepo, err := setup(ctx)
		if err != nil {
			return err
		}
		defer closeRepo()

		changed := args[1:]
		if gitFlag {
			changed, err = git.ChangedFiles(repoRootFlag, baseRefFlag)
			if err != nil {
				return err
			}
		}

		report, err := svc.Impact(ctx, args[0], changed, depthFlag)
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

var contextCmd = &cobra.Command{
	Use:   "context <graph-id> <entry-point-ids...>",
	Short: "Assemble the budgeted subgraph around entry points",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, _, closeRepo, err := setup(ctx)
		if err != nil {
			return err
		}
		defer closeRepo()

		result, err := svc.Context(ctx, args[0], args[1:], depthFlag, maxNodesFlag, includeCodeFlag)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the graph query API over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc, cfg, closeRepo, err := setup(ctx)
		if err != nil {
			return err
		}
		defer closeRepo()

		addr := cfg.Server.Addr
		if addrFlag != "" {
			addr = addrFlag
		}
		srv := web.NewServer(svc, addr, observability.Logger())
		return srv.Run(ctx)
	},
}
