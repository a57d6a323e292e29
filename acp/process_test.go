package acp

import (
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/zhubert/acp-bridge/logger"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestProcess_StopClosesStdin(t *testing.T) {
	requireShell(t)
	p, err := startProcess(LaunchConfig{
		Command: "sh",
		Args:    []string{"-c", "echo started >&2; cat >/dev/null"},
		Dir:     t.TempDir(),
	}, logger.WithComponent("acp"))
	if err != nil {
		t.Fatalf("startProcess: %v", err)
	}

	start := time.Now()
	p.Stop()
	if elapsed := time.Since(start); elapsed >= stopGracePeriod {
		t.Errorf("process reading stdin should exit on EOF, took %v", elapsed)
	}
	select {
	case <-p.Done():
	default:
		t.Error("Done should be closed after Stop")
	}
	p.Stop()
}

func TestProcess_StopKillsStubbornProcess(t *testing.T) {
	requireShell(t)
	p, err := startProcess(LaunchConfig{
		Command: "sh",
		Args:    []string{"-c", "exec sleep 30"},
	}, logger.WithComponent("acp"))
	if err != nil {
		t.Fatalf("startProcess: %v", err)
	}

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopGracePeriod + 5*time.Second):
		t.Fatal("Stop did not kill the process")
	}
}

func TestProcess_EnvAndStderr(t *testing.T) {
	requireShell(t)
	p, err := startProcess(LaunchConfig{
		Command: "sh",
		Args:    []string{"-c", `echo "token=$GH_TOKEN" >&2`},
		Env:     map[string]string{"GH_TOKEN": "ghs_test"},
	}, logger.WithComponent("acp"))
	if err != nil {
		t.Fatalf("startProcess: %v", err)
	}
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	p.wg.Wait()
	if !strings.Contains(p.Stderr(), "token=ghs_test") {
		t.Errorf("stderr = %q", p.Stderr())
	}
	p.Stop()
}

func TestProcess_MissingCommand(t *testing.T) {
	if _, err := startProcess(LaunchConfig{Command: "definitely-not-an-agent-binary"}, logger.WithComponent("acp")); err == nil {
		t.Error("expected spawn error")
	}
	if _, err := startProcess(LaunchConfig{}, logger.WithComponent("acp")); err == nil {
		t.Error("expected error for empty command")
	}
}

func TestMergeEnv(t *testing.T) {
	env := mergeEnv([]string{"PATH=/bin", "GH_TOKEN=old"}, map[string]string{"GH_TOKEN": "new", "A": "1"})
	want := "PATH=/bin,A=1,GH_TOKEN=new"
	if got := strings.Join(env, ","); got != want {
		t.Errorf("mergeEnv = %q, want %q", got, want)
	}
}
