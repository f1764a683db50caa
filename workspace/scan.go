package workspace

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/LegacyCodeHQ/mpptrack/frontend"
	"github.com/LegacyCodeHQ/mpptrack/unitgraph"
)

// SkippedDirs are never scanned or watched.
var SkippedDirs = map[string]bool{
	".git":      true,
	".gradle":   true,
	".idea":     true,
	".vscode":   true,
	".mpptrack": true,
	"build":     true,
	"out":       true,
}

// scanSources lists the source files under every unit source root. Missing
// roots are skipped.
func scanSources(ctx context.Context, g *unitgraph.Graph) ([]string, error) {
	seen := make(map[string]bool)
	for _, unit := range g.Units() {
		for _, root := range unit.Sources {
			err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					if errors.Is(err, fs.ErrNotExist) {
						return nil
					}
					return err
				}
				if err := ctx.Err(); err != nil {
					return err
				}
				if d.IsDir() {
					if path != root && SkippedDirs[d.Name()] {
						return filepath.SkipDir
					}
					return nil
				}
				if frontend.IsSourceFile(path) {
					seen[path] = true
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}

	files := make([]string, 0, len(seen))
	for path := range seen {
		files = append(files, path)
	}
	sort.Strings(files)
	return files, nil
}

// SourceRoots returns the distinct source roots of g.
func SourceRoots(g *unitgraph.Graph) []string {
	seen := make(map[string]bool)
	var roots []string
	for _, unit := range g.Units() {
		for _, root := range unit.Sources {
			if !seen[root] {
				seen[root] = true
				roots = append(roots, root)
			}
		}
	}
	sort.Strings(roots)
	return roots
}
