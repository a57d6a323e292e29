// Package manager is the session orchestrator: the only component adapters
// call. It maps external conversations onto agent sessions, runs their
// turns and keeps the registry persisted so follow-ups survive a restart.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zhubert/acp-bridge/acp"
	"github.com/zhubert/acp-bridge/bridge"
	"github.com/zhubert/acp-bridge/clock"
	"github.com/zhubert/acp-bridge/config"
	"github.com/zhubert/acp-bridge/logger"
	"github.com/zhubert/acp-bridge/repo"
	"github.com/zhubert/acp-bridge/router"
)

// SessionManager handles session lifecycle operations: resource
// preparation, agent turns, the registry and its persistence.
//
// Registry access is guarded by mu. Turns of one external session are
// serialized by that session's turn lock; different sessions run in
// parallel.
type SessionManager struct {
	config   SessionManagerConfig
	provider ResourceProvider
	store    *Store
	launcher acp.Launcher
	clock    clock.Clock
	debounce time.Duration
	log      *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*ActiveSession
	staged   map[string]bridge.SessionInfo
	closed   bool

	saveMu sync.Mutex // serializes store writes
}

// NewSessionManager creates a session manager and stages the persisted
// records of store. Staged records become sessions when an adapter for
// their service is restored.
func NewSessionManager(cfg SessionManagerConfig, provider ResourceProvider, store *Store, opts Options) *SessionManager {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	m := &SessionManager{
		config:   cfg,
		provider: provider,
		store:    store,
		launcher: opts.Launcher,
		clock:    opts.Clock,
		debounce: opts.Debounce,
		log:      logger.WithComponent("manager"),
		sessions: make(map[string]*ActiveSession),
		staged:   make(map[string]bridge.SessionInfo),
	}

	staged, err := store.Load()
	if err != nil {
		m.log.Error("failed to load persisted sessions", "error", err)
		return m
	}
	m.staged = staged
	if len(staged) > 0 {
		m.log.Info("found persisted sessions, awaiting adapters", "count", len(staged), "path", store.Path())
	}
	return m
}

// HandleNewSession runs the first turn of a new external session. It returns
// once the turn has completed and the adapter has been told the outcome.
func (m *SessionManager) HandleNewSession(ctx context.Context, adapter bridge.Adapter, req bridge.SessionRequest) {
	id := req.ExternalSessionID
	notifier := bridge.NewNotifier(adapter)
	nctx := context.WithoutCancel(ctx)
	log := logger.WithSession(id).With("service", req.ServiceName)

	notifier.Update(nctx, id, bridge.Update{Type: bridge.UpdateThought, Content: msgStarting})

	agentName := req.AgentName
	if agentName == "" {
		agentName = m.config.DefaultAgentName()
	}
	log = log.With("agent", agentName)

	rs, err := m.provider.PrepareNew(ctx, repo.NewRequest{
		DescriptiveName: req.DescriptiveName,
		Agent:           agentName,
		Repo:            req.Repo,
		InstallationID:  req.InstallationID,
	})
	if err != nil {
		log.Error("failed to prepare repository", "error", err)
		notifier.Error(nctx, id, msgPrepareFailed)
		return
	}

	r := router.New(nctx, notifier, id, router.Options{Clock: m.clock, Debounce: m.debounce})
	agent := m.newAgent(m.config.Agent(agentName), rs.Env, r, log)
	acpID, err := agent.Start(ctx, rs.Cwd, "")
	if err != nil {
		log.Error("failed to start agent session", "error", err, "cwd", rs.Cwd)
		notifier.Error(nctx, id, msgStartFailed)
		return
	}

	active := newActiveSession(bridge.SessionInfo{
		ExternalSessionID:    id,
		ServiceName:          req.ServiceName,
		ACPSessionID:         acpID,
		Cwd:                  rs.Cwd,
		BranchName:           rs.Branch,
		AgentName:            agentName,
		GitHubRepo:           req.Repo,
		GitHubInstallationID: req.InstallationID,
		ServiceMetadata:      req.ServiceMetadata,
		SystemPrompt:         req.SystemPrompt,
	}, notifier)
	active.attach(agent, r)

	active.turn.Lock()
	defer active.turn.Unlock()
	if !m.register(id, active) {
		agent.Stop()
		log.Warn("session manager is shut down, dropping session")
		notifier.Error(nctx, id, msgStartFailed)
		return
	}
	m.persist()
	log.Info("session registered", "acpSessionID", acpID, "branch", rs.Branch, "cwd", rs.Cwd)

	prompt := req.Prompt
	if rs.Branch != "" {
		prompt += fmt.Sprintf(branchInstructions, rs.Branch)
	}
	m.runTurn(ctx, active, agent, r, prompt, req.SystemPrompt, msgWorkCompleted, msgExecutionFailed)
}

// HandleFollowup runs another turn on an existing session, resuming the
// stored agent-side session in a fresh subprocess. Unknown ids are ignored.
func (m *SessionManager) HandleFollowup(ctx context.Context, externalID, prompt string) {
	active := m.lookup(externalID)
	if active == nil {
		m.log.Warn("no active session for follow-up", "sessionID", externalID)
		return
	}

	active.turn.Lock()
	defer active.turn.Unlock()

	info := active.Info()
	notifier := active.Notifier()
	nctx := context.WithoutCancel(ctx)
	log := logger.WithSession(externalID).With("service", info.ServiceName, "agent", info.AgentName)

	notifier.Update(nctx, externalID, bridge.Update{Type: bridge.UpdateThought, Content: msgProcessing})

	env, cwd := m.prepareFollowup(ctx, info, log)
	if cwd != info.Cwd {
		active.updateInfo(func(i *bridge.SessionInfo) { i.Cwd = cwd })
		m.persist()
	}

	r := router.New(nctx, notifier, externalID, router.Options{Clock: m.clock, Debounce: m.debounce})
	agent := m.newAgent(m.config.Agent(info.AgentName), env, r, log)
	if _, err := agent.Start(ctx, cwd, info.ACPSessionID); err != nil {
		log.Error("failed to resume agent session", "acpSessionID", info.ACPSessionID, "error", err)
		notifier.Error(nctx, externalID, msgResumeFailed)
		return
	}
	active.attach(agent, r)
	log.Info("resumed agent session for follow-up", "acpSessionID", info.ACPSessionID)

	m.runTurn(ctx, active, agent, r, prompt, info.SystemPrompt, msgFollowupCompleted, msgFollowupFailed)
}

// prepareFollowup refreshes the working directory and environment for a
// follow-up. When preparation fails only the environment is rebuilt.
func (m *SessionManager) prepareFollowup(ctx context.Context, info bridge.SessionInfo, log *slog.Logger) (map[string]string, string) {
	if info.BranchName != "" {
		rs, err := m.provider.PrepareResume(ctx, repo.ResumeRequest{
			Branch:         info.BranchName,
			Cwd:            info.Cwd,
			Agent:          info.AgentName,
			Repo:           info.GitHubRepo,
			InstallationID: info.GitHubInstallationID,
		})
		if err == nil {
			return rs.Env, rs.Cwd
		}
		log.Error("failed to prepare repository for follow-up, refreshing environment only", "error", err)
	}
	return m.provider.BuildEnvironment(ctx, info.AgentName, info.GitHubInstallationID), info.Cwd
}

// runTurn sends one prompt and reports exactly one outcome to the adapter.
// The router is always flushed and the subprocess always stopped; the
// registry entry is kept for later follow-ups.
func (m *SessionManager) runTurn(ctx context.Context, active *ActiveSession, agent *acp.Session, r *router.Router, prompt, systemPrompt, completed, failed string) {
	info := active.Info()
	notifier := active.Notifier()
	nctx := context.WithoutCancel(ctx)
	log := logger.WithSession(info.ExternalSessionID).With("acpSessionID", info.ACPSessionID)

	reported := false
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("agent turn panicked", "panic", fmt.Sprint(rec))
			if !reported {
				notifier.Error(nctx, info.ExternalSessionID, failed)
			}
		}
		r.Flush()
		agent.Stop()
		log.Info("stopped agent subprocess, session record kept for resumption")
	}()

	start := time.Now()
	reason, err := agent.Prompt(ctx, prompt, systemPrompt)
	r.Flush()
	if err != nil {
		log.Error("agent turn failed", "error", err, "elapsed", time.Since(start))
		reported = true
		notifier.Error(nctx, info.ExternalSessionID, failed)
		return
	}

	log.Info("agent turn finished", "stopReason", reason, "elapsed", time.Since(start))
	reported = true
	notifier.Completion(nctx, info.ExternalSessionID,
		completionMessage(reason, r.Transcript(), completed),
		m.config.SessionViewerURL(info.ACPSessionID))
}

// completionMessage maps a stop reason to the text reported to the user.
func completionMessage(reason acp.StopReason, transcript, fallback string) string {
	switch reason {
	case acp.StopReasonEndTurn:
		if strings.TrimSpace(transcript) != "" {
			return transcript
		}
		return fallback
	case acp.StopReasonCancelled:
		return msgCancelled
	default:
		return fmt.Sprintf("Agent stopped (reason: %s)", reason)
	}
}

func (m *SessionManager) newAgent(agentCfg config.AgentConfig, env map[string]string, r *router.Router, log *slog.Logger) *acp.Session {
	return acp.NewSession(acp.Config{
		Command:  agentCfg.Command,
		Args:     agentCfg.Args,
		Env:      env,
		Handler:  r.Handle,
		Launcher: m.launcher,
		Log:      log.With("component", "acp"),
	})
}

// HandleCancel asks the running turn of a session to stop. It does nothing
// when no agent is attached.
func (m *SessionManager) HandleCancel(ctx context.Context, externalID string) {
	active := m.lookup(externalID)
	if active == nil {
		return
	}
	agent := active.liveAgent()
	if agent == nil {
		return
	}
	if err := agent.Cancel(ctx); err != nil {
		m.log.Warn("cancel failed", "sessionID", externalID, "error", err)
	}
}

// RestoreSessionsForAdapter registers the staged records that belong to
// adapter and returns how many were restored. A record matches on the exact
// service name, or on the bare service type for records written before
// agents were part of the name. Restored records take the adapter's name.
func (m *SessionManager) RestoreSessionsForAdapter(adapter bridge.Adapter) int {
	name := adapter.ServiceName()
	serviceType, _, _ := strings.Cut(name, ":")
	agentSuffix := name[strings.LastIndex(name, ":")+1:]
	notifier := bridge.NewNotifier(adapter)

	m.mu.Lock()
	restored := 0
	for id, rec := range m.staged {
		legacy := rec.ServiceName == serviceType && (rec.AgentName == "" || rec.AgentName == agentSuffix)
		if rec.ServiceName != name && !legacy {
			continue
		}
		if _, ok := m.sessions[id]; ok {
			continue
		}
		rec.ServiceName = name
		m.sessions[id] = newActiveSession(rec, notifier)
		delete(m.staged, id)
		restored++
	}
	m.mu.Unlock()

	if restored > 0 {
		m.log.Info("restored persisted sessions", "count", restored, "service", name)
		m.persist()
	}
	return restored
}

// GetSessionsForService returns the durable fields of every registered
// session of a service.
func (m *SessionManager) GetSessionsForService(serviceName string) map[string]bridge.SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bridge.SessionInfo)
	for id, s := range m.sessions {
		if info := s.Info(); info.ServiceName == serviceName {
			out[id] = info
		}
	}
	return out
}

// Session returns the durable fields of a registered session.
func (m *SessionManager) Session(externalID string) (bridge.SessionInfo, bool) {
	active := m.lookup(externalID)
	if active == nil {
		return bridge.SessionInfo{}, false
	}
	return active.Info(), true
}

// RemoveSession stops the session's agent if one is running, removes its
// worktree and forgets it. It reports whether the session existed; a second
// call for the same id does nothing.
func (m *SessionManager) RemoveSession(ctx context.Context, externalID string) bool {
	m.mu.Lock()
	active := m.sessions[externalID]
	delete(m.sessions, externalID)
	m.mu.Unlock()
	if active == nil {
		return false
	}

	if agent := active.liveAgent(); agent != nil {
		agent.Stop()
	}
	info := active.Info()
	if err := m.provider.CleanupWorktree(ctx, info.Cwd, info.BranchName, info.GitHubRepo); err != nil {
		m.log.Warn("worktree cleanup failed", "sessionID", externalID, "cwd", info.Cwd, "error", err)
	}
	m.persist()
	m.log.Info("removed session", "sessionID", externalID)
	return true
}

// ActiveWorkingDirs returns the working directories of every known session,
// staged records included, so stale-worktree cleanup never removes them.
func (m *SessionManager) ActiveWorkingDirs() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dirs := make(map[string]bool, len(m.sessions)+len(m.staged))
	for _, s := range m.sessions {
		if cwd := s.Info().Cwd; cwd != "" {
			dirs[cwd] = true
		}
	}
	for _, rec := range m.staged {
		if rec.Cwd != "" {
			dirs[rec.Cwd] = true
		}
	}
	return dirs
}

// Snapshot returns what the store holds: registered sessions plus staged
// records no adapter has claimed yet.
func (m *SessionManager) Snapshot() map[string]bridge.SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *SessionManager) snapshotLocked() map[string]bridge.SessionInfo {
	snap := make(map[string]bridge.SessionInfo, len(m.sessions)+len(m.staged))
	for id, rec := range m.staged {
		snap[id] = copyInfo(rec)
	}
	for id, s := range m.sessions {
		snap[id] = s.Info()
	}
	return snap
}

// Shutdown stops every live subprocess. The store is left as it is so a
// restarted process can resume the sessions.
func (m *SessionManager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*ActiveSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*ActiveSession)
	m.mu.Unlock()

	stopped := 0
	for _, s := range sessions {
		if agent := s.liveAgent(); agent != nil && agent.State() != acp.StateStopped {
			agent.Stop()
			stopped++
		}
	}
	m.log.Info("session manager shut down", "stoppedAgents", stopped)
}

func (m *SessionManager) lookup(externalID string) *ActiveSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[externalID]
}

// register adds or replaces a registry entry. It fails after Shutdown.
func (m *SessionManager) register(externalID string, active *ActiveSession) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	if prev, ok := m.sessions[externalID]; ok && prev.Live() {
		m.log.Warn("replacing session with a running agent", "sessionID", externalID)
	}
	m.sessions[externalID] = active
	return true
}

// persist rewrites the store with the current snapshot. Failures are logged.
func (m *SessionManager) persist() {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return
	}
	snap := m.snapshotLocked()
	m.mu.RUnlock()

	if err := m.store.Save(snap); err != nil {
		m.log.Error("failed to persist sessions", "error", err)
		return
	}
	m.log.Debug("persisted sessions", "count", len(snap), "path", m.store.Path())
}
