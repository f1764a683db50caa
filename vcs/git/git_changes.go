// Package git reads repository state through the git command line.
package git

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// FileStatus is an uncommitted path reported by git status.
type FileStatus struct {
	// Path is absolute.
	Path    string
	Deleted bool
}

// RepositoryRoot returns the absolute path of the repository containing path.
func RepositoryRoot(ctx context.Context, path string) (string, error) {
	out, err := runGit(ctx, path, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// UncommittedFiles lists staged, unstaged and untracked paths of the
// repository containing repoPath, sorted by path. The old side of a rename
// is reported as deleted.
func UncommittedFiles(ctx context.Context, repoPath string) ([]FileStatus, error) {
	root, err := RepositoryRoot(ctx, repoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get repository root: %w", err)
	}

	out, err := runGit(ctx, root, "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return nil, fmt.Errorf("failed to read status: %w", err)
	}

	byPath := make(map[string]FileStatus)
	for _, status := range parsePorcelain(string(out)) {
		status.Path = filepath.Join(root, status.Path)
		byPath[status.Path] = status
	}

	files := make([]FileStatus, 0, len(byPath))
	for _, status := range byPath {
		files = append(files, status)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// parsePorcelain parses `git status --porcelain` output into repository
// relative paths.
func parsePorcelain(output string) []FileStatus {
	var files []FileStatus
	for _, line := range strings.Split(output, "\n") {
		if len(line) < 4 {
			continue
		}

		// Porcelain format: XY path, or XY old -> new for renames.
		x, y := line[0], line[1]
		path := strings.TrimSpace(line[3:])
		if oldPath, newPath, ok := strings.Cut(path, " -> "); ok {
			files = append(files, FileStatus{Path: unquote(oldPath), Deleted: true})
			path = newPath
		}
		files = append(files, FileStatus{Path: unquote(path), Deleted: x == 'D' || y == 'D'})
	}
	return files
}

func unquote(path string) string {
	if len(path) >= 2 && strings.HasPrefix(path, `"`) && strings.HasSuffix(path, `"`) {
		return path[1 : len(path)-1]
	}
	return path
}
