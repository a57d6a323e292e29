package process

import (
	"context"
	"errors"
	"runtime"
	"testing"

	pexec "github.com/zhubert/acp-bridge/exec"
)

const psOutput = `    1     0 /sbin/init
  812     1 /usr/local/bin/claude-code-acp
  813   700 node /usr/local/lib/node_modules/codex-acp/bin/codex-acp
  814     1 node /opt/agents/codex-acp --verbose
  815     1 /usr/bin/vim claude-code-acp
  bad line
  816     1
`

func newTestFinder(t *testing.T) (*Finder, *pexec.MockExecutor) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process discovery is unix only")
	}
	mock := pexec.NewMockExecutor(nil)
	mock.AddExactMatch("ps", []string{"-eo", "pid=,ppid=,args="}, pexec.MockResponse{Stdout: []byte(psOutput)})
	return NewFinderWithExecutor(mock, []string{"claude-code-acp", "/opt/bin/codex-acp"}), mock
}

func TestParsePS(t *testing.T) {
	procs := parsePS(psOutput)
	if len(procs) != 5 {
		t.Fatalf("parsed %d processes, want 5: %+v", len(procs), procs)
	}
	if procs[1].PID != 812 || procs[1].PPID != 1 || procs[1].Command != "/usr/local/bin/claude-code-acp" {
		t.Errorf("procs[1] = %+v", procs[1])
	}
	if procs[3].Command != "node /opt/agents/codex-acp --verbose" {
		t.Errorf("procs[3].Command = %q", procs[3].Command)
	}
}

func TestFindAgentProcesses(t *testing.T) {
	f, _ := newTestFinder(t)
	agents, err := f.FindAgentProcesses(context.Background())
	if err != nil {
		t.Fatalf("FindAgentProcesses: %v", err)
	}
	var pids []int
	for _, a := range agents {
		pids = append(pids, a.PID)
	}
	if len(pids) != 3 || pids[0] != 812 || pids[1] != 813 || pids[2] != 814 {
		t.Errorf("agent pids = %v, want [812 813 814]", pids)
	}
}

func TestCleanupOrphans(t *testing.T) {
	f, mock := newTestFinder(t)
	mock.AddExactMatch("kill", []string{"-9", "814"}, pexec.MockResponse{Err: errors.New("no such process")})

	killed, err := f.CleanupOrphans(context.Background())
	if err != nil {
		t.Fatalf("CleanupOrphans: %v", err)
	}
	if killed != 1 {
		t.Errorf("killed = %d, want 1", killed)
	}

	var kills []string
	for _, call := range mock.GetCalls() {
		if call.Name == "kill" {
			kills = append(kills, call.Args[1])
		}
	}
	if len(kills) != 2 || kills[0] != "812" || kills[1] != "814" {
		t.Errorf("kill calls = %v, want [812 814]", kills)
	}
}

func TestFindAgentProcesses_PSFailure(t *testing.T) {
	mock := pexec.NewMockExecutor(nil)
	mock.AddPrefixMatch("ps", nil, pexec.MockResponse{Err: errors.New("ps: not found")})
	f := NewFinderWithExecutor(mock, []string{"claude-code-acp"})
	if runtime.GOOS == "windows" {
		t.Skip("process discovery is unix only")
	}
	if _, err := f.FindAgentProcesses(context.Background()); err == nil {
		t.Error("expected error when ps fails")
	}
}

func TestFindAgentProcesses_NoCommands(t *testing.T) {
	mock := pexec.NewMockExecutor(nil)
	f := NewFinderWithExecutor(mock, nil)
	agents, err := f.FindAgentProcesses(context.Background())
	if err != nil || len(agents) != 0 {
		t.Errorf("agents = %v, err = %v", agents, err)
	}
	if len(mock.GetCalls()) != 0 {
		t.Error("ps should not run without agent commands")
	}
}
