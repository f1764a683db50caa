package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// setupGitRepo initializes a git repository in dir.
func setupGitRepo(t *testing.T, dir string) {
	t.Helper()
	mustGit(t, dir, "init")
	mustGit(t, dir, "config", "user.name", "Test User")
	mustGit(t, dir, "config", "user.email", "test@example.com")
}

func mustGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

// createFile writes a file, creating parent directories.
func createFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	filePath := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0o755))
	require.NoError(t, os.WriteFile(filePath, []byte(content), 0o644), "failed to create file %s", name)
	return filePath
}

func gitAdd(t *testing.T, repoDir string, files ...string) {
	t.Helper()
	mustGit(t, repoDir, append([]string{"add"}, files...)...)
}

func gitCommit(t *testing.T, repoDir, message string) {
	t.Helper()
	mustGit(t, repoDir, "commit", "-m", message)
}

// repoDir returns a fresh repository with symlinks resolved, so paths compare
// equal to the ones git reports.
func repoDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	setupGitRepo(t, dir)
	return dir
}
