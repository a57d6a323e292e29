package manager

import (
	"context"
	"time"

	"github.com/zhubert/acp-bridge/acp"
	"github.com/zhubert/acp-bridge/clock"
	"github.com/zhubert/acp-bridge/config"
	"github.com/zhubert/acp-bridge/repo"
)

// Compile-time interface satisfaction checks.
var (
	_ SessionManagerConfig = (*config.Config)(nil)
	_ ResourceProvider     = (*repo.Provider)(nil)
)

// SessionManagerConfig is the configuration SessionManager reads.
// *config.Config satisfies it.
type SessionManagerConfig interface {
	Agent(name string) config.AgentConfig
	DefaultAgentName() string
	SessionViewerURL(acpSessionID string) string
}

// ResourceProvider prepares working directories and agent environments.
// *repo.Provider satisfies it.
type ResourceProvider interface {
	PrepareNew(ctx context.Context, req repo.NewRequest) (*repo.RepoSession, error)
	PrepareResume(ctx context.Context, req repo.ResumeRequest) (*repo.RepoSession, error)
	BuildEnvironment(ctx context.Context, agent string, installationID int64) map[string]string
	CleanupWorktree(ctx context.Context, cwd, branch, repo string) error
}

// Options configures a SessionManager. Zero values select production defaults.
type Options struct {
	// Launcher spawns agents. Defaults to acp.ProcessLauncher.
	Launcher acp.Launcher

	// Clock drives router debouncing.
	Clock clock.Clock

	// Debounce overrides the router's text coalescing window.
	Debounce time.Duration
}
