// Package git wraps the git CLI operations the bridge needs to maintain shared
// clones and per-session worktrees.
package git

import (
	"context"
	"fmt"
	"strings"

	pexec "github.com/zhubert/acp-bridge/exec"
)

// GitService provides git operations with explicit dependency injection.
// Each GitService holds its own executor so tests can script git responses.
type GitService struct {
	executor pexec.CommandExecutor
}

// NewGitService creates a GitService that runs the real git binary with
// interactive credential prompts disabled.
func NewGitService() *GitService {
	return &GitService{executor: pexec.NewRealExecutor("GIT_TERMINAL_PROMPT=0")}
}

// NewGitServiceWithExecutor creates a new GitService with a custom executor.
// This is primarily used for testing where a mock executor is needed.
func NewGitServiceWithExecutor(exec pexec.CommandExecutor) *GitService {
	return &GitService{executor: exec}
}

// run executes git and folds its combined output into the returned error.
func (s *GitService) run(ctx context.Context, dir string, args ...string) error {
	output, err := s.executor.CombinedOutput(ctx, dir, "git", args...)
	if err != nil {
		return fmt.Errorf("git %s failed: %s: %w", args[0], RedactURL(strings.TrimSpace(string(output))), err)
	}
	return nil
}
