// Package git shells out to the local git binary to list changed files,
// feeding the impact command when no explicit file list is given.
package git

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

// ChangedFiles returns the paths changed between baseRef and the working
// tree, relative to the repository root, sorted and deduplicated.
func ChangedFiles(repoRoot, baseRef string) ([]string, error) {
	if baseRef == "" {
		baseRef = "HEAD"
	}
	cmd := exec.Command("git", "-C", repoRoot, "diff", "--name-only", baseRef)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git diff failed: %w", err)
	}

	seen := make(map[string]bool)
	var files []string
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		path := strings.TrimSpace(scanner.Text())
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		files = append(files, path)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
