// Package process finds and stops agent subprocesses left behind by an
// earlier bridge run. An agent whose parent exited is reparented to init, so
// any agent process with parent PID 1 belongs to no running bridge.
package process

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	pexec "github.com/zhubert/acp-bridge/exec"
	"github.com/zhubert/acp-bridge/logger"
)

// interpreters may run an agent script; the script is then the second argument.
var interpreters = map[string]bool{"node": true, "bun": true, "deno": true, "npx": true, "python": true, "python3": true}

// AgentProcess is a running agent subprocess found on the system.
type AgentProcess struct {
	PID     int    // Process ID
	PPID    int    // Parent process ID
	Command string // Full command line
}

// Finder locates processes running one of the configured agent commands.
type Finder struct {
	executor pexec.CommandExecutor
	commands map[string]bool
}

// NewFinder creates a Finder for the given agent commands.
func NewFinder(commands []string) *Finder {
	return NewFinderWithExecutor(pexec.NewRealExecutor(), commands)
}

// NewFinderWithExecutor creates a Finder with a custom executor.
// This is primarily used for testing where a mock executor is needed.
func NewFinderWithExecutor(exec pexec.CommandExecutor, commands []string) *Finder {
	f := &Finder{executor: exec, commands: make(map[string]bool)}
	for _, c := range commands {
		if c != "" {
			f.commands[filepath.Base(c)] = true
		}
	}
	return f
}

// FindAgentProcesses lists every running process whose command is an agent.
func (f *Finder) FindAgentProcesses(ctx context.Context) ([]AgentProcess, error) {
	if runtime.GOOS == "windows" || len(f.commands) == 0 {
		return nil, nil
	}
	output, err := f.executor.Output(ctx, "", "ps", "-eo", "pid=,ppid=,args=")
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	var agents []AgentProcess
	for _, proc := range parsePS(string(output)) {
		if f.isAgent(proc.Command) {
			agents = append(agents, proc)
		}
	}
	logger.WithComponent("process").Debug("found agent processes", "count", len(agents))
	return agents, nil
}

// FindOrphans returns the agent processes no longer owned by a bridge.
func (f *Finder) FindOrphans(ctx context.Context) ([]AgentProcess, error) {
	agents, err := f.FindAgentProcesses(ctx)
	if err != nil {
		return nil, err
	}
	var orphans []AgentProcess
	for _, proc := range agents {
		if proc.PPID == 1 {
			orphans = append(orphans, proc)
		}
	}
	return orphans, nil
}

// CleanupOrphans kills every orphaned agent process. Returns the number killed.
func (f *Finder) CleanupOrphans(ctx context.Context) (int, error) {
	orphans, err := f.FindOrphans(ctx)
	if err != nil {
		return 0, err
	}

	log := logger.WithComponent("process")
	killed := 0
	for _, proc := range orphans {
		log.Info("killing orphaned agent process", "pid", proc.PID, "command", proc.Command)
		if _, err := f.executor.CombinedOutput(ctx, "", "kill", "-9", strconv.Itoa(proc.PID)); err != nil {
			log.Error("failed to kill process", "pid", proc.PID, "error", err)
			continue
		}
		killed++
	}
	return killed, nil
}

// isAgent reports whether a command line runs one of the agent commands,
// directly or through a script interpreter.
func (f *Finder) isAgent(cmdLine string) bool {
	fields := strings.Fields(cmdLine)
	if len(fields) == 0 {
		return false
	}
	name := filepath.Base(fields[0])
	if f.commands[name] {
		return true
	}
	if interpreters[name] && len(fields) > 1 {
		return f.commands[filepath.Base(fields[1])]
	}
	return false
}

// parsePS parses "pid ppid args" lines, skipping malformed ones.
func parsePS(output string) []AgentProcess {
	var procs []AgentProcess
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		ppid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		procs = append(procs, AgentProcess{
			PID:     pid,
			PPID:    ppid,
			Command: strings.Join(fields[2:], " "),
		})
	}
	return procs
}
