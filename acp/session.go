// Package acp runs one agent subprocess speaking the Agent Client Protocol
// over stdio and exposes it as a small state machine:
//
//	Unstarted -> Initializing -> Ready -> Prompting -> Ready | Stopped
//
// The wire transport is supplied by github.com/coder/acp-go-sdk. Session only
// talks to it through the Agent interface, so tests substitute a fake agent.
package acp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zhubert/acp-bridge/logger"
)

// DefaultHandshakeTimeout bounds initialize plus session creation.
const DefaultHandshakeTimeout = 60 * time.Second

// State is the lifecycle state of a Session.
type State int

const (
	StateUnstarted State = iota
	StateInitializing
	StateReady
	StatePrompting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StatePrompting:
		return "prompting"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Capabilities are the agent capabilities the session cares about.
type Capabilities struct {
	LoadSession bool
}

// Agent is a running agent connection. Implementations deliver every update
// of a turn to the launch handler before Prompt returns.
type Agent interface {
	Initialize(ctx context.Context) (Capabilities, error)
	NewSession(ctx context.Context, cwd string) (string, error)
	LoadSession(ctx context.Context, sessionID, cwd string) error
	ResumeSession(ctx context.Context, sessionID, cwd string) error
	Prompt(ctx context.Context, sessionID, text, systemPrompt string) (StopReason, error)
	Cancel(ctx context.Context, sessionID string) error

	// Close terminates the subprocess. Safe to call more than once.
	Close() error
}

// LaunchConfig describes the agent subprocess.
type LaunchConfig struct {
	Command string
	Args    []string
	Dir     string
	Env     map[string]string
}

// Launcher spawns agents.
type Launcher interface {
	Launch(ctx context.Context, cfg LaunchConfig, handler EventHandler) (Agent, error)
}

// Config configures a Session.
type Config struct {
	Command string
	Args    []string
	Env     map[string]string

	// Handler receives session updates. May be nil.
	Handler EventHandler

	// Launcher defaults to ProcessLauncher.
	Launcher Launcher

	// HandshakeTimeout defaults to DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	Log *slog.Logger
}

// Session owns exactly one agent subprocess.
type Session struct {
	cfg Config
	log *slog.Logger

	mu              sync.Mutex
	state           State
	agent           Agent
	sessionID       string
	promptCancel    context.CancelFunc
	cancelRequested bool
}

// NewSession creates an unstarted Session.
func NewSession(cfg Config) *Session {
	if cfg.Launcher == nil {
		cfg.Launcher = ProcessLauncher{}
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Handler == nil {
		cfg.Handler = func(Event) {}
	}
	log := cfg.Log
	if log == nil {
		log = logger.WithComponent("acp")
	}
	return &Session{cfg: cfg, log: log}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID returns the agent-side session id, empty before Start succeeds.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Start spawns the agent in cwd, performs the handshake and creates a new
// agent session, or resumes resumeID when it is non-empty. Resumption uses
// session/load when the agent advertises it and session/resume otherwise.
// Any failure stops the subprocess and is returned as *AgentStartError.
func (s *Session) Start(ctx context.Context, cwd, resumeID string) (string, error) {
	s.mu.Lock()
	if s.state != StateUnstarted {
		state := s.state
		s.mu.Unlock()
		if state == StateStopped {
			return "", ErrStopped
		}
		return "", fmt.Errorf("agent session already started (state %s)", state)
	}
	s.state = StateInitializing
	s.mu.Unlock()

	start := time.Now()
	fail := func(stage string, err error) (string, error) {
		s.log.Error("agent start failed", "stage", stage, "error", err)
		s.Stop()
		return "", &AgentStartError{Stage: stage, Err: err}
	}

	agent, err := s.cfg.Launcher.Launch(ctx, LaunchConfig{
		Command: s.cfg.Command,
		Args:    s.cfg.Args,
		Dir:     cwd,
		Env:     s.cfg.Env,
	}, s.cfg.Handler)
	if err != nil {
		return fail("spawn", err)
	}

	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		agent.Close()
		return "", &AgentStartError{Stage: "spawn", Err: ErrStopped}
	}
	s.agent = agent
	s.mu.Unlock()

	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	caps, err := agent.Initialize(hctx)
	if err != nil {
		return fail("initialize", err)
	}

	sessionID := resumeID
	switch {
	case resumeID == "":
		sessionID, err = agent.NewSession(hctx, cwd)
		if err != nil {
			return fail("new_session", err)
		}
	case caps.LoadSession:
		if err := agent.LoadSession(hctx, resumeID, cwd); err != nil {
			return fail("load_session", err)
		}
	default:
		if err := agent.ResumeSession(hctx, resumeID, cwd); err != nil {
			return fail("resume_session", err)
		}
	}

	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return "", &AgentStartError{Stage: "initialize", Err: ErrStopped}
	}
	s.sessionID = sessionID
	s.state = StateReady
	s.mu.Unlock()

	s.log.Info("agent session ready",
		"acpSessionID", sessionID,
		"resumed", resumeID != "",
		"loadSession", caps.LoadSession,
		"cwd", cwd,
		"elapsed", time.Since(start))
	return sessionID, nil
}

// Prompt sends one user turn and blocks until the agent reports a stop
// reason. All updates of the turn reach the handler before Prompt returns.
// A turn ended by Cancel reports StopReasonCancelled.
func (s *Session) Prompt(ctx context.Context, text, systemPrompt string) (StopReason, error) {
	s.mu.Lock()
	switch s.state {
	case StateReady:
	case StatePrompting:
		s.mu.Unlock()
		return "", ErrBusy
	case StateStopped:
		s.mu.Unlock()
		return "", ErrStopped
	default:
		s.mu.Unlock()
		return "", ErrNotStarted
	}
	pctx, cancel := context.WithCancel(ctx)
	s.state = StatePrompting
	s.promptCancel = cancel
	s.cancelRequested = false
	agent, sessionID := s.agent, s.sessionID
	s.mu.Unlock()

	start := time.Now()
	reason, err := agent.Prompt(pctx, sessionID, text, systemPrompt)
	cancel()

	s.mu.Lock()
	cancelled := s.cancelRequested
	s.promptCancel = nil
	s.cancelRequested = false
	if s.state == StatePrompting {
		s.state = StateReady
	}
	stopped := s.state == StateStopped
	s.mu.Unlock()

	if err != nil {
		if cancelled && errors.Is(err, context.Canceled) {
			s.log.Info("prompt cancelled", "acpSessionID", sessionID, "elapsed", time.Since(start))
			return StopReasonCancelled, nil
		}
		if stopped {
			return "", &TurnExecutionError{SessionID: sessionID, Err: fmt.Errorf("%w: %v", ErrStopped, err)}
		}
		s.log.Error("prompt failed", "acpSessionID", sessionID, "error", err)
		return "", &TurnExecutionError{SessionID: sessionID, Err: err}
	}
	if cancelled && reason == "" {
		reason = StopReasonCancelled
	}

	s.log.Info("prompt completed", "acpSessionID", sessionID, "stopReason", reason, "elapsed", time.Since(start))
	return reason, nil
}

// Cancel asks the agent to end the current turn. It is a no-op when no turn
// is running. If the agent cannot be notified the turn's context is
// cancelled instead.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StatePrompting {
		s.mu.Unlock()
		return nil
	}
	s.cancelRequested = true
	agent, sessionID, cancelPrompt := s.agent, s.sessionID, s.promptCancel
	s.mu.Unlock()

	s.log.Info("cancelling prompt", "acpSessionID", sessionID)
	if err := agent.Cancel(ctx, sessionID); err != nil {
		s.log.Warn("cancel notification failed, aborting prompt", "error", err)
		if cancelPrompt != nil {
			cancelPrompt()
		}
	}
	return nil
}

// Stop terminates the subprocess. Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	agent := s.agent
	cancelPrompt := s.promptCancel
	s.mu.Unlock()

	if cancelPrompt != nil {
		cancelPrompt()
	}
	if agent != nil {
		if err := agent.Close(); err != nil {
			s.log.Debug("agent close returned error", "error", err)
		}
	}
	s.log.Debug("agent session stopped")
}
