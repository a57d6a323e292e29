package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zhubert/acp-bridge/bridge"
	"github.com/zhubert/acp-bridge/logger"
	"github.com/zhubert/acp-bridge/manager"
	"github.com/zhubert/acp-bridge/paths"
)

// run executes the root command with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(logger.Reset)
	t.Cleanup(paths.Reset)

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.Execute()
	return stdout.String(), err
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	for _, key := range []string{"BRIDGE_DATA_DIR", "ACP_AGENT_COMMAND", "ENABLED_SERVICES"} {
		t.Setenv(key, "")
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("data_dir: "+dir+"\n"+content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSessionsCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")
	err := manager.NewStore(filepath.Join(dir, "sessions.json")).Save(map[string]bridge.SessionInfo{
		"b-2": {ExternalSessionID: "b-2", ServiceName: "slack", AgentName: "default", Cwd: "/w/b"},
		"a-1": {ExternalSessionID: "a-1", ServiceName: "api", AgentName: "default", BranchName: "acp-agent/fix", Cwd: "/w/a"},
	})
	if err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "sessions", "--config", cfgPath)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "SESSION") {
		t.Fatalf("output:\n%s", out)
	}
	if !strings.HasPrefix(lines[1], "a-1") || !strings.Contains(lines[1], "acp-agent/fix") {
		t.Errorf("first row = %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "b-2") || !strings.Contains(lines[2], " - ") {
		t.Errorf("second row = %q", lines[2])
	}

	out, err = run(t, "sessions", "--config", cfgPath, "--json", "--service", "api")
	if err != nil {
		t.Fatalf("sessions --json: %v", err)
	}
	var list []bridge.SessionInfo
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if len(list) != 1 || list[0].ExternalSessionID != "a-1" {
		t.Errorf("list = %+v", list)
	}
}

func TestSessionsCommand_Empty(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, "sessions", "--config", writeConfig(t, dir, ""))
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if !strings.Contains(out, "No persisted sessions") {
		t.Errorf("output = %q", out)
	}
}

func TestCheckCommand_MissingAgent(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "agents:\n  ghost:\n    command: definitely-not-an-agent-12345\n")

	out, err := run(t, "check", "--config", cfgPath)
	if err == nil {
		t.Fatal("expected error for missing agent command")
	}
	if !strings.Contains(err.Error(), "definitely-not-an-agent-12345") {
		t.Errorf("error = %v", err)
	}
	if !strings.Contains(out, "CLI Prerequisites") || !strings.Contains(out, "[REQUIRED]") {
		t.Errorf("output:\n%s", out)
	}
	if !strings.Contains(out, "Data directory: "+dir+" (") || !strings.Contains(out, " layout)") {
		t.Errorf("output should report the data layout:\n%s", out)
	}
}

func TestLogFileFlag(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "bridge.log")
	_, err := run(t, "sessions", "--config", writeConfig(t, dir, ""), "--log-file", logPath, "--log-format", "json")
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	logger.WithComponent("main").Info("written to file")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"written to file"`) {
		t.Errorf("log file = %s", data)
	}
	if logger.Path() != logPath {
		t.Errorf("Path() = %q", logger.Path())
	}
}

func TestCleanupCommand(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, "cleanup", "--config", writeConfig(t, dir, ""), "--age-days", "3")
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if !strings.Contains(out, "Removed 0 stale worktree(s) older than 72h0m0s.") {
		t.Errorf("output = %q", out)
	}
}

func TestUnknownLogFormat(t *testing.T) {
	dir := t.TempDir()
	if _, err := run(t, "sessions", "--config", writeConfig(t, dir, ""), "--log-format", "xml"); err == nil {
		t.Fatal("expected error for unknown log format")
	}
}
