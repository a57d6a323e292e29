package acp

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"
)

// stopGracePeriod is how long Stop waits after closing stdin before killing.
const stopGracePeriod = 2 * time.Second

// stderrTailLines bounds the stderr lines kept for error reports.
const stderrTailLines = 20

// agentProcess manages the lifecycle of one agent subprocess.
type agentProcess struct {
	log *slog.Logger

	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stdout     io.ReadCloser
	stderrTail []string
	running    bool

	// waitDone is closed by monitorExit when cmd.Wait() completes.
	// Stop selects on it instead of calling cmd.Wait() a second time.
	waitDone chan struct{}
	exitErr  error

	wg sync.WaitGroup
}

// startProcess spawns cfg.Command in cfg.Dir with cfg.Env layered over the
// parent environment.
func startProcess(cfg LaunchConfig, log *slog.Logger) (*agentProcess, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("no agent command configured")
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = mergeEnv(os.Environ(), cfg.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("failed to start %s: %w", cfg.Command, err)
	}

	p := &agentProcess{
		log:      log,
		cmd:      cmd,
		stdin:    stdin,
		stdout:   stdout,
		running:  true,
		waitDone: make(chan struct{}),
	}
	log.Info("agent process started", "command", cfg.Command, "pid", cmd.Process.Pid, "elapsed", time.Since(start))

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.drainStderr(stderr)
	}()
	go func() {
		defer p.wg.Done()
		p.monitorExit()
	}()
	return p, nil
}

// mergeEnv overrides base entries with extra, in a stable order.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	env := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, override := extra[key]; !override {
			env = append(env, kv)
		}
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// drainStderr logs each stderr line at debug level and keeps the tail.
func (p *agentProcess) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		p.log.Debug("agent stderr", "line", line)
		p.mu.Lock()
		p.stderrTail = append(p.stderrTail, line)
		if len(p.stderrTail) > stderrTailLines {
			p.stderrTail = p.stderrTail[len(p.stderrTail)-stderrTailLines:]
		}
		p.mu.Unlock()
	}
}

// monitorExit is the sole caller of cmd.Wait().
func (p *agentProcess) monitorExit() {
	err := p.cmd.Wait()

	p.mu.Lock()
	wasRunning := p.running
	p.running = false
	p.exitErr = err
	p.mu.Unlock()
	close(p.waitDone)

	if wasRunning {
		p.log.Warn("agent process exited unexpectedly", "error", err, "stderr", p.Stderr())
	} else {
		p.log.Debug("agent process exited", "error", err)
	}
}

// Done is closed when the process has exited.
func (p *agentProcess) Done() <-chan struct{} {
	return p.waitDone
}

// Stderr returns the last lines the process wrote to stderr.
func (p *agentProcess) Stderr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.stderrTail, "\n")
}

// Stop closes stdin, waits up to stopGracePeriod for the process to exit,
// then kills it. Safe to call multiple times.
func (p *agentProcess) Stop() {
	p.mu.Lock()
	if p.stdin == nil {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.stdin.Close()
	p.stdin = nil
	p.mu.Unlock()

	select {
	case <-p.waitDone:
		p.log.Debug("agent process exited gracefully")
	case <-time.After(stopGracePeriod):
		p.log.Debug("force killing agent process")
		p.cmd.Process.Kill()
		<-p.waitDone
	}

	p.wg.Wait()
}
