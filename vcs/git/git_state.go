package git

import (
	"context"
	"errors"
	"strings"
)

const (
	unbornHeadSignature   = "(unborn)"
	detachedHeadSignature = "(detached)"
)

// RepositoryStateSignature describes the checked out branch, the HEAD commit
// and the porcelain status of the repository at repoPath. Any checkout,
// commit, stage or worktree edit yields a different signature.
func RepositoryStateSignature(ctx context.Context, repoPath string) (string, error) {
	branch, err := currentBranch(ctx, repoPath)
	if err != nil {
		return "", err
	}
	head, err := headCommit(ctx, repoPath)
	if err != nil {
		return "", err
	}
	status, err := runGit(ctx, repoPath, "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return "", err
	}

	return strings.Join([]string{branch, head, strings.TrimSpace(string(status))}, "\n"), nil
}

func currentBranch(ctx context.Context, repoPath string) (string, error) {
	out, err := runGit(ctx, repoPath, "symbolic-ref", "--quiet", "HEAD")
	if err == nil {
		return strings.TrimSpace(string(out)), nil
	}
	// symbolic-ref --quiet exits 1 without output on a detached HEAD.
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.Stderr == "" && exitCode(err) == 1 {
		return detachedHeadSignature, nil
	}
	return "", err
}

func headCommit(ctx context.Context, repoPath string) (string, error) {
	out, err := runGit(ctx, repoPath, "rev-parse", "--verify", "--quiet", "HEAD")
	if err == nil {
		return strings.TrimSpace(string(out)), nil
	}
	// rev-parse --verify --quiet exits 1 when HEAD points at an unborn branch.
	if exitCode(err) == 1 {
		return unbornHeadSignature, nil
	}
	return "", err
}
