package git

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/zhubert/acp-bridge/logger"
)

// FallbackRemoteRef is used when origin/HEAD cannot be resolved.
const FallbackRemoteRef = "origin/main"

var credentialPattern = regexp.MustCompile(`://[^/@\s]+@`)

// CloneURL returns the HTTPS clone URL for an owner/name repository,
// embedding an installation token when one is supplied.
func CloneURL(repo, token string) string {
	if token == "" {
		return fmt.Sprintf("https://github.com/%s.git", repo)
	}
	return fmt.Sprintf("https://x-access-token:%s@github.com/%s.git", url.PathEscape(token), repo)
}

// RedactURL masks credentials embedded in any URL within s.
func RedactURL(s string) string {
	return credentialPattern.ReplaceAllString(s, "://***@")
}

// Clone clones remoteURL into dest.
func (s *GitService) Clone(ctx context.Context, remoteURL, dest string) error {
	log := logger.WithComponent("git")
	log.Info("cloning repository", "url", RedactURL(remoteURL), "dest", dest)
	if err := s.run(ctx, "", "clone", remoteURL, dest); err != nil {
		return fmt.Errorf("failed to clone repository: %w", err)
	}
	return nil
}

// SetRemoteURL points origin at remoteURL, typically to rotate the embedded token.
func (s *GitService) SetRemoteURL(ctx context.Context, repoPath, remoteURL string) error {
	if err := s.run(ctx, repoPath, "remote", "set-url", "origin", remoteURL); err != nil {
		return fmt.Errorf("failed to update origin url: %w", err)
	}
	return nil
}

// Fetch fetches origin.
func (s *GitService) Fetch(ctx context.Context, repoPath string) error {
	if err := s.run(ctx, repoPath, "fetch", "origin"); err != nil {
		return fmt.Errorf("failed to fetch origin: %w", err)
	}
	return nil
}

// DefaultRemoteRef returns the remote default branch as "origin/<name>",
// falling back to origin/main when origin/HEAD is not set.
func (s *GitService) DefaultRemoteRef(ctx context.Context, repoPath string) string {
	output, err := s.executor.Output(ctx, repoPath, "git", "rev-parse", "--abbrev-ref", "origin/HEAD")
	if err == nil {
		ref := strings.TrimSpace(string(output))
		if ref != "" && ref != "origin/HEAD" {
			return ref
		}
	}
	return FallbackRemoteRef
}

// IsRepo reports whether path is inside a git work tree.
func (s *GitService) IsRepo(ctx context.Context, path string) bool {
	output, err := s.executor.Output(ctx, path, "git", "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(string(output)) == "true"
}
