package crawler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	gitignore "github.com/sabhiram/go-gitignore"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"codegraph/internal/extractor"
	"codegraph/internal/model"
)

// Result is the merged output of one repository scan. ParseErrors holds the
// per-file failures that were recovered; Files holds everything that parsed.
type Result struct {
	Files       []*extractor.FileResult
	ParseErrors []*model.ParseError
}

// Crawler walks a repository root and extracts every matching source file.
// Per-file extraction runs in parallel; extraction of one file never touches
// shared state, so the only synchronization is the result merge.
type Crawler struct {
	ext      *extractor.Extractor
	log      *zap.Logger
	workers  int
	skipDirs []string
}

// New creates a crawler. workers <= 0 means one worker per CPU.
func New(ext *extractor.Extractor, log *zap.Logger, workers int) *Crawler {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Crawler{
		ext:      ext,
		log:      log,
		workers:  workers,
		skipDirs: []string{".git", "__pycache__", ".venv", "venv", "node_modules", ".tox"},
	}
}

// Scan walks root, extracts all matching files concurrently and merges the
// results after all workers finish. A syntactically invalid file is recorded
// and skipped; an unreadable root or file aborts the scan. On abort the
// returned result lists the files that parsed before the failure.
func (c *Crawler) Scan(ctx context.Context, root string) (*Result, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("repository root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repository root %s is not a directory", root)
	}

	paths, err := c.collect(root)
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	var (
		mu     sync.Mutex
		result Result
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for _, rel := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			content, err := os.ReadFile(filepath.Join(root, rel))
			if err != nil {
				return fmt.Errorf("read %s: %w", rel, err)
			}
			fr, err := c.ext.ExtractFile(content, rel)
			if err != nil {
				var perr *model.ParseError
				if errors.As(err, &perr) {
					c.log.Warn("skipping unparsable file",
						zap.String("path", rel),
						zap.Int("line", perr.Line))
					mu.Lock()
					result.ParseErrors = append(result.ParseErrors, perr)
					mu.Unlock()
					return nil
				}
				return err
			}
			mu.Lock()
			result.Files = append(result.Files, fr)
			mu.Unlock()
			return nil
		})
	}
	scanErr := g.Wait()

	// Merge order must not depend on goroutine scheduling.
	sort.Slice(result.Files, func(i, j int) bool {
		return result.Files[i].Path < result.Files[j].Path
	})
	sort.Slice(result.ParseErrors, func(i, j int) bool {
		return result.ParseErrors[i].Path < result.ParseErrors[j].Path
	})
	if scanErr != nil {
		// An abort still reports the files parsed before it.
		return &result, scanErr
	}
	return &result, nil
}

// collect gathers the relative paths of all extractable files under root,
// honoring .gitignore when present.
func (c *Crawler) collect(root string) ([]string, error) {
	var ignore *gitignore.GitIgnore
	if ig, err := gitignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
		ignore = ig
	}

	exts := make(map[string]bool)
	for _, e := range c.ext.Extensions() {
		exts[e] = true
	}

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			for _, skip := range c.skipDirs {
				if d.Name() == skip {
					return filepath.SkipDir
				}
			}
			if ignore != nil && rel != "." && ignore.MatchesPath(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !exts[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}
		if ignore != nil && ignore.MatchesPath(rel) {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
