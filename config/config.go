// Package config loads the bridge settings: model keys, the shared repository,
// enabled services, per-service credentials and the agents registry.
//
// Settings come from a YAML file and are then overridden by environment
// variables, so a container can run with no file at all.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/zhubert/acp-bridge/paths"
)

// DefaultAgentCommand is the agent executable used when no registry is configured.
const DefaultAgentCommand = "claude-code-acp"

// DefaultAgentName names the implicit agent built from acp_agent_command.
const DefaultAgentName = "default"

// DefaultBranchPrefix prefixes every branch the bridge creates.
const DefaultBranchPrefix = "acp-agent"

// KnownServices lists the service names adapters may register under.
var KnownServices = []string{"api", "github", "linear", "slack"}

var repoPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// Config holds the bridge configuration.
type Config struct {
	AnthropicAPIKey string   `yaml:"anthropic_api_key,omitempty"`
	OpenAIAPIKey    string   `yaml:"openai_api_key,omitempty"`
	AgentCommand    string   `yaml:"acp_agent_command,omitempty"`
	EnabledServices []string `yaml:"enabled_services,omitempty"`
	BridgeBaseURL   string   `yaml:"bridge_base_url,omitempty"`
	ListenAddr      string   `yaml:"listen_addr,omitempty"`
	DataDir         string   `yaml:"data_dir,omitempty"`

	GitHub GitHubConfig `yaml:"github,omitempty"`
	Slack  SlackConfig  `yaml:"slack,omitempty"`
	Linear LinearConfig `yaml:"linear,omitempty"`
	API    APIConfig    `yaml:"api,omitempty"`

	Skills          SkillsConfig          `yaml:"skills,omitempty"`
	WorktreeCleanup WorktreeCleanupConfig `yaml:"worktree_cleanup,omitempty"`

	Agents map[string]AgentConfig `yaml:"agents,omitempty"`

	mu       sync.RWMutex
	filePath string
}

// GitHubConfig holds the shared repository and GitHub App credentials.
type GitHubConfig struct {
	Repo           string `yaml:"repo,omitempty"`
	InstallationID int64  `yaml:"installation_id,omitempty"`
	AppID          string `yaml:"app_id,omitempty"`
	PrivateKey     string `yaml:"private_key,omitempty"`
	APIBaseURL     string `yaml:"api_base_url,omitempty"`
}

// SlackConfig holds the Slack tokens forwarded to the agent.
type SlackConfig struct {
	BotToken  string `yaml:"bot_token,omitempty"`
	UserToken string `yaml:"user_token,omitempty"`
}

// LinearConfig holds the Linear token forwarded to the agent.
type LinearConfig struct {
	AccessToken string `yaml:"access_token,omitempty"`
}

// APIConfig configures the built-in HTTP adapter.
type APIConfig struct {
	Token string `yaml:"token,omitempty"`
}

// SkillsConfig locates skill files and the agent directories they are installed into.
type SkillsConfig struct {
	SourceDir string   `yaml:"source_dir,omitempty"`
	Targets   []string `yaml:"targets,omitempty"`
	Watch     *bool    `yaml:"watch,omitempty"`
}

// WorktreeCleanupConfig controls removal of abandoned worktrees.
type WorktreeCleanupConfig struct {
	Enabled       *bool `yaml:"enabled,omitempty"`
	AgeDays       int   `yaml:"age_days,omitempty"`
	IntervalHours int   `yaml:"interval_hours,omitempty"`
}

// Load reads the config from the default path. A missing file yields defaults.
func Load() (*Config, error) {
	path, err := paths.ConfigFilePath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads the YAML config at path, applies environment overrides and validates.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{filePath: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)
	cfg.ensureInitialized()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ensureInitialized fills defaults. Must only run before the Config is shared.
func (c *Config) ensureInitialized() {
	if c.AgentCommand == "" {
		c.AgentCommand = DefaultAgentCommand
	}
	if len(c.EnabledServices) == 0 {
		c.EnabledServices = []string{"api"}
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.Agents == nil {
		c.Agents = make(map[string]AgentConfig)
	}
	if len(c.Agents) == 0 {
		c.Agents[DefaultAgentName] = AgentConfig{Command: c.AgentCommand, Default: true}
	}
	if c.WorktreeCleanup.AgeDays <= 0 {
		c.WorktreeCleanup.AgeDays = 7
	}
	if c.WorktreeCleanup.IntervalHours <= 0 {
		c.WorktreeCleanup.IntervalHours = 6
	}
}

// Validate checks the loaded config for values the bridge cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.GitHub.Repo != "" && !repoPattern.MatchString(c.GitHub.Repo) {
		errs = append(errs, fmt.Errorf("github.repo %q must look like owner/name", c.GitHub.Repo))
	}
	for _, svc := range c.EnabledServices {
		if !slices.Contains(KnownServices, svc) {
			errs = append(errs, fmt.Errorf("unknown service %q in enabled_services", svc))
		}
	}

	defaults := 0
	for name, agent := range c.Agents {
		if agent.Command == "" {
			errs = append(errs, fmt.Errorf("agent %q has no command", name))
		}
		if agent.Default {
			defaults++
		}
		if agent.BranchPrefix != "" && strings.ContainsAny(agent.BranchPrefix, " ~^:?*[\\") {
			errs = append(errs, fmt.Errorf("agent %q has invalid branch_prefix %q", name, agent.BranchPrefix))
		}
	}
	if defaults > 1 {
		errs = append(errs, fmt.Errorf("more than one agent is marked default"))
	}

	return errors.Join(errs...)
}

// ValidRepo reports whether repo is an owner/name identity.
func ValidRepo(repo string) bool {
	return repoPattern.MatchString(repo)
}

// FilePath returns the file this config was loaded from.
func (c *Config) FilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filePath
}

// ServiceEnabled reports whether service is in enabled_services.
func (c *Config) ServiceEnabled(service string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Contains(c.EnabledServices, service)
}

// GetEnabledServices returns a copy of the enabled service list.
func (c *Config) GetEnabledServices() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.EnabledServices)
}

// CleanupEnabled reports whether stale worktree cleanup runs. Defaults to true.
func (c *Config) CleanupEnabled() bool {
	return c.WorktreeCleanup.Enabled == nil || *c.WorktreeCleanup.Enabled
}

// SkillsWatchEnabled reports whether the skills directory is watched. Defaults to true.
func (c *Config) SkillsWatchEnabled() bool {
	return c.Skills.Watch == nil || *c.Skills.Watch
}

// AgentNames returns the registered agent names in sorted order.
func (c *Config) AgentNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.Agents))
	for name := range c.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Save writes the config back to its file as YAML.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.filePath == "" {
		return fmt.Errorf("config has no file path")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(c.filePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// SessionViewerURL returns the viewer link for an agent session, or "" when
// no bridge_base_url is configured.
func (c *Config) SessionViewerURL(acpSessionID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.BridgeBaseURL == "" || acpSessionID == "" {
		return ""
	}
	return strings.TrimRight(c.BridgeBaseURL, "/") + "/sessions/" + acpSessionID
}
