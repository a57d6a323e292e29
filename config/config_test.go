package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// clearEnv blanks every variable ApplyEnv reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "ACP_AGENT_COMMAND", "BRIDGE_BASE_URL",
		"BRIDGE_LISTEN_ADDR", "BRIDGE_DATA_DIR", "BRIDGE_API_TOKEN", "GITHUB_REPO",
		"GITHUB_APP_ID", "GITHUB_PRIVATE_KEY", "GITHUB_INSTALLATION_ID", "SLACK_BOT_TOKEN",
		"SLACK_USER_TOKEN", "LINEAR_ACCESS_TOKEN", "SKILLS_SOURCE_DIR", "ENABLED_SERVICES",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadFile_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.AgentCommand != DefaultAgentCommand {
		t.Errorf("AgentCommand = %q, want %q", cfg.AgentCommand, DefaultAgentCommand)
	}
	if got := cfg.DefaultAgentName(); got != DefaultAgentName {
		t.Errorf("DefaultAgentName = %q, want %q", got, DefaultAgentName)
	}
	if cfg.Agent("").Command != DefaultAgentCommand {
		t.Errorf("implicit agent should run %q", DefaultAgentCommand)
	}
	if !cfg.CleanupEnabled() {
		t.Error("worktree cleanup should default to enabled")
	}
	if cfg.WorktreeCleanup.AgeDays != 7 || cfg.WorktreeCleanup.IntervalHours != 6 {
		t.Errorf("unexpected cleanup defaults: %+v", cfg.WorktreeCleanup)
	}
	if !cfg.ServiceEnabled("api") {
		t.Error("the api adapter should be enabled by default")
	}
}

func TestLoadFile_AgentsRegistry(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
github:
  repo: acme/widgets
  installation_id: 42
enabled_services: [linear, slack]
slack:
  bot_token: xoxb-global
agents:
  claude:
    command: claude-code-acp
    default: true
  codex:
    command: codex-acp
    branch_prefix: codex-agent
    credentials:
      SLACK_BOT_TOKEN: xoxb-codex
      GITHUB_INSTALLATION_ID: "99"
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.DefaultAgentName() != "claude" {
		t.Errorf("DefaultAgentName = %q, want claude", cfg.DefaultAgentName())
	}
	if cfg.Agent("codex").Command != "codex-acp" {
		t.Errorf("codex command = %q", cfg.Agent("codex").Command)
	}
	if cfg.Agent("unknown").Command != "claude-code-acp" {
		t.Errorf("unknown agent should fall back to the default agent")
	}
	if cfg.BranchPrefix("claude") != DefaultBranchPrefix {
		t.Errorf("claude prefix = %q", cfg.BranchPrefix("claude"))
	}
	if cfg.BranchPrefix("codex") != "codex-agent" {
		t.Errorf("codex prefix = %q", cfg.BranchPrefix("codex"))
	}
	if got := cfg.Credential(KeySlackBotToken, "codex"); got != "xoxb-codex" {
		t.Errorf("codex slack token = %q", got)
	}
	if got := cfg.Credential(KeySlackBotToken, "claude"); got != "xoxb-global" {
		t.Errorf("claude slack token = %q", got)
	}
	if got := cfg.Credential(KeyGitHubInstallationID, "claude"); got != "42" {
		t.Errorf("global installation id = %q", got)
	}
	if cfg.AgentInstallationID("codex") != 99 {
		t.Errorf("codex installation id = %d", cfg.AgentInstallationID("codex"))
	}
	if cfg.AgentInstallationID("claude") != 0 {
		t.Errorf("claude has no agent-level installation id")
	}
	if names := cfg.AgentNames(); strings.Join(names, ",") != "claude,codex" {
		t.Errorf("AgentNames = %v", names)
	}
	if commands := cfg.AgentCommands(); strings.Join(commands, ",") != "claude-code-acp,codex-acp" {
		t.Errorf("AgentCommands = %v", commands)
	}
}

func TestApplyEnv_Overrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
anthropic_api_key: from-file
github:
  repo: acme/widgets
`)
	t.Setenv("ANTHROPIC_API_KEY", "from-env")
	t.Setenv("GITHUB_INSTALLATION_ID", "7")
	t.Setenv("ENABLED_SERVICES", "linear, github ,")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.AnthropicAPIKey != "from-env" {
		t.Errorf("AnthropicAPIKey = %q", cfg.AnthropicAPIKey)
	}
	if cfg.GitHub.Repo != "acme/widgets" {
		t.Errorf("file value should survive when env is unset, got %q", cfg.GitHub.Repo)
	}
	if cfg.GitHub.InstallationID != 7 {
		t.Errorf("InstallationID = %d", cfg.GitHub.InstallationID)
	}
	services := cfg.GetEnabledServices()
	if len(services) != 2 || services[0] != "linear" || services[1] != "github" {
		t.Errorf("EnabledServices = %v", services)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad repo", "github:\n  repo: not-a-repo\n", "owner/name"},
		{"unknown service", "enabled_services: [jira]\n", "unknown service"},
		{"agent without command", "agents:\n  a:\n    default: true\n", "has no command"},
		{"two defaults", "agents:\n  a:\n    command: x\n    default: true\n  b:\n    command: y\n    default: true\n", "more than one agent"},
		{"bad prefix", "agents:\n  a:\n    command: x\n    branch_prefix: \"bad prefix\"\n", "branch_prefix"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := LoadFile(writeConfig(t, tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFile_InvalidYAML(t *testing.T) {
	clearEnv(t)
	if _, err := LoadFile(writeConfig(t, "agents: [unterminated")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "bridge_base_url: https://bridge.example.com\n")
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	cfg.Slack.BotToken = "xoxb-saved"
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Slack.BotToken != "xoxb-saved" {
		t.Errorf("BotToken = %q", reloaded.Slack.BotToken)
	}
	if reloaded.BridgeBaseURL != "https://bridge.example.com" {
		t.Errorf("BridgeBaseURL = %q", reloaded.BridgeBaseURL)
	}
}
