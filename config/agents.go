package config

import (
	"sort"
	"strconv"
)

// AgentConfig describes one agent in the registry.
type AgentConfig struct {
	Command      string            `yaml:"command"`
	Args         []string          `yaml:"args,omitempty"`
	Default      bool              `yaml:"default,omitempty"`
	BranchPrefix string            `yaml:"branch_prefix,omitempty"`
	Credentials  map[string]string `yaml:"credentials,omitempty"`
}

// Credential keys understood by Credential. Agent entries may override any of them.
const (
	KeyGitHubAppID          = "GITHUB_APP_ID"
	KeyGitHubPrivateKey     = "GITHUB_PRIVATE_KEY"
	KeyGitHubInstallationID = "GITHUB_INSTALLATION_ID"
	KeySlackBotToken        = "SLACK_BOT_TOKEN"
	KeySlackUserToken       = "SLACK_USER_TOKEN"
	KeyLinearAccessToken    = "LINEAR_ACCESS_TOKEN"
	KeyAPIToken             = "BRIDGE_API_TOKEN"
)

// DefaultAgentName returns the agent marked default, or the first agent by name.
func (c *Config) DefaultAgentName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultAgentNameLocked()
}

func (c *Config) defaultAgentNameLocked() string {
	names := make([]string, 0, len(c.Agents))
	for name, agent := range c.Agents {
		if agent.Default {
			return name
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return DefaultAgentName
	}
	sort.Strings(names)
	return names[0]
}

// Agent returns the registry entry for name, falling back to the default
// agent, and finally to acp_agent_command.
func (c *Config) Agent(name string) AgentConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if agent, ok := c.Agents[name]; ok {
		return agent
	}
	if agent, ok := c.Agents[c.defaultAgentNameLocked()]; ok {
		return agent
	}
	command := c.AgentCommand
	if command == "" {
		command = DefaultAgentCommand
	}
	return AgentConfig{Command: command}
}

// BranchPrefix returns the branch prefix for an agent.
func (c *Config) BranchPrefix(agent string) string {
	if p := c.Agent(agent).BranchPrefix; p != "" {
		return p
	}
	return DefaultBranchPrefix
}

// IsDefaultAgent reports whether name is the default agent.
func (c *Config) IsDefaultAgent(name string) bool {
	return c.DefaultAgentName() == name
}

// Credential resolves a service credential for an agent: the agent's own
// credentials win over the global value.
func (c *Config) Credential(key, agent string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if a, ok := c.Agents[agent]; ok {
		if v := a.Credentials[key]; v != "" {
			return v
		}
	}

	switch key {
	case KeyGitHubAppID:
		return c.GitHub.AppID
	case KeyGitHubPrivateKey:
		return c.GitHub.PrivateKey
	case KeyGitHubInstallationID:
		if c.GitHub.InstallationID != 0 {
			return strconv.FormatInt(c.GitHub.InstallationID, 10)
		}
	case KeySlackBotToken:
		return c.Slack.BotToken
	case KeySlackUserToken:
		return c.Slack.UserToken
	case KeyLinearAccessToken:
		return c.Linear.AccessToken
	case KeyAPIToken:
		return c.API.Token
	}
	return ""
}

// AgentInstallationID returns the installation id configured for an agent, or 0.
// Only an agent-level credential counts; the global default is resolved separately.
func (c *Config) AgentInstallationID(agent string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	a, ok := c.Agents[agent]
	if !ok {
		return 0
	}
	id, err := strconv.ParseInt(a.Credentials[KeyGitHubInstallationID], 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// AgentCommands returns the command of every registered agent, ordered by
// agent name.
func (c *Config) AgentCommands() []string {
	var commands []string
	for _, name := range c.AgentNames() {
		commands = append(commands, c.Agent(name).Command)
	}
	return commands
}
