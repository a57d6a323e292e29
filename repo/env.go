package repo

import (
	"context"
	"errors"

	"github.com/zhubert/acp-bridge/config"
	"github.com/zhubert/acp-bridge/github"
	"github.com/zhubert/acp-bridge/logger"
)

// Environment variable names the agent subprocess reads.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGitHubToken     = "GH_TOKEN"
	EnvSlackBotToken   = "SLACK_BOT_TOKEN"
	EnvSlackUserToken  = "SLACK_USER_TOKEN"
	EnvLinearToken     = "LINEAR_ACCESS_TOKEN"
)

// BuildEnvironment assembles the variables injected into the agent
// subprocess: model API keys, a freshly minted GitHub installation token and
// the tokens of the other enabled services. A token failure only drops
// GH_TOKEN.
func (p *Provider) BuildEnvironment(ctx context.Context, agent string, installationID int64) map[string]string {
	log := logger.WithComponent("repo")
	env := make(map[string]string)

	if p.cfg.AnthropicAPIKey != "" {
		env[EnvAnthropicAPIKey] = p.cfg.AnthropicAPIKey
	}
	if p.cfg.OpenAIAPIKey != "" {
		env[EnvOpenAIAPIKey] = p.cfg.OpenAIAPIKey
	}

	if p.tokens != nil && (p.cfg.ServiceEnabled("github") || p.cfg.GitHub.Repo != "") {
		token, err := p.tokens.Token(ctx, agent, installationID)
		switch {
		case err == nil:
			env[EnvGitHubToken] = token
		case isMissingCredentials(err):
			log.Debug("no github credentials for agent", "agent", agent)
		default:
			log.Error("omitting GH_TOKEN", "error", &TokenAcquisitionError{Agent: agent, InstallationID: installationID, Err: err})
		}
	}

	if p.cfg.ServiceEnabled("slack") {
		setIf(env, EnvSlackBotToken, p.cfg.Credential(config.KeySlackBotToken, agent))
		setIf(env, EnvSlackUserToken, p.cfg.Credential(config.KeySlackUserToken, agent))
	}
	if p.cfg.ServiceEnabled("linear") {
		setIf(env, EnvLinearToken, p.cfg.Credential(config.KeyLinearAccessToken, agent))
	}
	return env
}

func setIf(env map[string]string, key, value string) {
	if value != "" {
		env[key] = value
	}
}

func isMissingCredentials(err error) bool {
	return errors.Is(err, github.ErrNotConfigured) || errors.Is(err, github.ErrNoInstallation)
}
