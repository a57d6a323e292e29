package github

import (
	"context"
	"errors"
	"fmt"

	"github.com/zhubert/acp-bridge/config"
)

// ErrNotConfigured is returned when no GitHub App credentials apply to an agent.
var ErrNotConfigured = errors.New("github app credentials not configured")

// ErrNoInstallation is returned when no installation id can be resolved.
var ErrNoInstallation = errors.New("no github installation id configured")

// AuthSet picks the App credentials and installation for an agent. Agents
// whose credentials name their own App get a dedicated AppAuth; every other
// agent shares the default one.
type AuthSet struct {
	cfg      *config.Config
	fallback *AppAuth
	byAgent  map[string]*AppAuth
}

// NewAuthSet builds the App authenticators described by cfg. An AuthSet with
// no App configured is valid; Token then returns ErrNotConfigured.
func NewAuthSet(cfg *config.Config, opts Options) (*AuthSet, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = cfg.GitHub.APIBaseURL
	}
	set := &AuthSet{cfg: cfg, byAgent: make(map[string]*AppAuth)}

	if cfg.GitHub.AppID != "" && cfg.GitHub.PrivateKey != "" {
		auth, err := NewAppAuth(cfg.GitHub.AppID, cfg.GitHub.PrivateKey, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to load github app: %w", err)
		}
		set.fallback = auth
	}

	for _, name := range cfg.AgentNames() {
		creds := cfg.Agents[name].Credentials
		if creds[config.KeyGitHubAppID] == "" && creds[config.KeyGitHubPrivateKey] == "" {
			continue
		}
		appID := cfg.Credential(config.KeyGitHubAppID, name)
		key := cfg.Credential(config.KeyGitHubPrivateKey, name)
		if appID == "" || key == "" {
			return nil, fmt.Errorf("agent %q overrides the github app but is missing app id or private key", name)
		}
		auth, err := NewAppAuth(appID, key, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to load github app for agent %q: %w", name, err)
		}
		set.byAgent[name] = auth
	}
	return set, nil
}

// Configured reports whether any agent can mint tokens.
func (s *AuthSet) Configured() bool {
	return s.fallback != nil || len(s.byAgent) > 0
}

// InstallationID resolves the installation for an agent: the explicit
// override, then the agent's own credential, then the global default.
func (s *AuthSet) InstallationID(agent string, override int64) int64 {
	if override != 0 {
		return override
	}
	if id := s.cfg.AgentInstallationID(agent); id != 0 {
		return id
	}
	return s.cfg.GitHub.InstallationID
}

// Token mints (or returns a cached) installation token for agent.
func (s *AuthSet) Token(ctx context.Context, agent string, installationOverride int64) (string, error) {
	auth := s.byAgent[agent]
	if auth == nil {
		auth = s.fallback
	}
	if auth == nil {
		return "", ErrNotConfigured
	}
	id := s.InstallationID(agent, installationOverride)
	if id == 0 {
		return "", ErrNoInstallation
	}
	return auth.InstallationToken(ctx, id)
}
