package config

import (
	"strconv"
	"strings"
)

// LookupFunc matches os.LookupEnv so tests can supply their own environment.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides file values with the documented environment variables.
// Only variables that are set and non-empty take effect.
func (c *Config) ApplyEnv(lookup LookupFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("ANTHROPIC_API_KEY", &c.AnthropicAPIKey)
	str("OPENAI_API_KEY", &c.OpenAIAPIKey)
	str("ACP_AGENT_COMMAND", &c.AgentCommand)
	str("BRIDGE_BASE_URL", &c.BridgeBaseURL)
	str("BRIDGE_LISTEN_ADDR", &c.ListenAddr)
	str("BRIDGE_DATA_DIR", &c.DataDir)
	str("BRIDGE_API_TOKEN", &c.API.Token)
	str("GITHUB_REPO", &c.GitHub.Repo)
	str("GITHUB_APP_ID", &c.GitHub.AppID)
	str("GITHUB_PRIVATE_KEY", &c.GitHub.PrivateKey)
	str("SLACK_BOT_TOKEN", &c.Slack.BotToken)
	str("SLACK_USER_TOKEN", &c.Slack.UserToken)
	str("LINEAR_ACCESS_TOKEN", &c.Linear.AccessToken)
	str("SKILLS_SOURCE_DIR", &c.Skills.SourceDir)

	if v, ok := lookup("GITHUB_INSTALLATION_ID"); ok && v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.GitHub.InstallationID = id
		}
	}
	if v, ok := lookup("ENABLED_SERVICES"); ok && v != "" {
		c.EnabledServices = splitList(v)
	}
}

// splitList splits a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
