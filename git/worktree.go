package git

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zhubert/acp-bridge/logger"
)

// AddWorktree creates a worktree at path on a new branch started from startPoint.
func (s *GitService) AddWorktree(ctx context.Context, repoPath, path, branch, startPoint string) error {
	log := logger.WithComponent("git")
	start := time.Now()

	if err := s.run(ctx, repoPath, "worktree", "add", "-b", branch, path, startPoint); err != nil {
		log.Error("failed to create worktree", "branch", branch, "path", path, "error", err)
		return fmt.Errorf("failed to create worktree: %w", err)
	}
	log.Info("worktree created", "branch", branch, "path", path, "startPoint", startPoint, "elapsed", time.Since(start))
	return nil
}

// RemoveWorktree force-removes the worktree at path.
func (s *GitService) RemoveWorktree(ctx context.Context, repoPath, path string) error {
	if err := s.run(ctx, repoPath, "worktree", "remove", "--force", path); err != nil {
		return fmt.Errorf("failed to remove worktree: %w", err)
	}
	return nil
}

// PruneWorktrees drops worktree metadata for directories that no longer exist.
func (s *GitService) PruneWorktrees(ctx context.Context, repoPath string) error {
	if err := s.run(ctx, repoPath, "worktree", "prune"); err != nil {
		return fmt.Errorf("failed to prune worktrees: %w", err)
	}
	return nil
}

// DeleteBranch force-deletes a local branch.
func (s *GitService) DeleteBranch(ctx context.Context, repoPath, branch string) error {
	if err := s.run(ctx, repoPath, "branch", "-D", branch); err != nil {
		return fmt.Errorf("failed to delete branch %s: %w", branch, err)
	}
	return nil
}

// Checkout checks out an existing branch in repoPath.
func (s *GitService) Checkout(ctx context.Context, repoPath, branch string) error {
	if err := s.run(ctx, repoPath, "checkout", branch); err != nil {
		return fmt.Errorf("failed to checkout %s: %w", branch, err)
	}
	return nil
}

// CurrentBranch returns the branch checked out in dir.
func (s *GitService) CurrentBranch(ctx context.Context, dir string) (string, error) {
	output, err := s.executor.Output(ctx, dir, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}
