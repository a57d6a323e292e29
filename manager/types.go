package manager

import (
	"maps"
	"sync"

	"github.com/zhubert/acp-bridge/acp"
	"github.com/zhubert/acp-bridge/bridge"
	"github.com/zhubert/acp-bridge/router"
)

// Messages sent to adapters.
const (
	msgStarting          = "Starting work..."
	msgProcessing        = "Processing follow-up..."
	msgPrepareFailed     = "Failed to prepare repository"
	msgStartFailed       = "Failed to start agent session"
	msgResumeFailed      = "Failed to resume session"
	msgExecutionFailed   = "Agent encountered an error during execution"
	msgFollowupFailed    = "Agent encountered an error during follow-up"
	msgWorkCompleted     = "Work completed"
	msgFollowupCompleted = "Follow-up completed"
	msgCancelled         = "Work was cancelled"
)

// branchInstructions is appended to a prompt when the session runs on a
// branch the bridge created.
const branchInstructions = "\n\n---\n" +
	"You are working on a git branch: `%s`. " +
	"This branch has been automatically created with the latest changes from the main branch.\n" +
	"If the user is asking you to make code changes, commit your changes, push the branch, " +
	"and create a GitHub pull request using the `gh` CLI. The `GH_TOKEN` env var is already set.\n" +
	"If the user is just asking questions or requesting information, do not make any changes or create a PR."

// ActiveSession is the registry entry for one external session. The durable
// fields are persisted; the agent session and router only exist while a
// turn runs and are nil for restored sessions.
//
// Thread Safety: mu guards every field. turn is held for the whole of a
// turn so that turns of one external session never overlap.
type ActiveSession struct {
	mu       sync.Mutex
	info     bridge.SessionInfo
	notifier *bridge.Notifier
	agent    *acp.Session
	router   *router.Router

	turn sync.Mutex
}

func newActiveSession(info bridge.SessionInfo, notifier *bridge.Notifier) *ActiveSession {
	return &ActiveSession{info: info, notifier: notifier}
}

// Info returns a copy of the durable fields.
func (s *ActiveSession) Info() bridge.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyInfo(s.info)
}

// Notifier returns the adapter the session reports to.
func (s *ActiveSession) Notifier() *bridge.Notifier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifier
}

// Live reports whether an agent subprocess is attached.
func (s *ActiveSession) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agent != nil && s.agent.State() != acp.StateStopped
}

func (s *ActiveSession) attach(agent *acp.Session, r *router.Router) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agent = agent
	s.router = r
}

func (s *ActiveSession) liveAgent() *acp.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agent
}

func (s *ActiveSession) updateInfo(fn func(*bridge.SessionInfo)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.info)
}

// copyInfo copies info including its metadata map.
func copyInfo(info bridge.SessionInfo) bridge.SessionInfo {
	if info.ServiceMetadata != nil {
		info.ServiceMetadata = maps.Clone(info.ServiceMetadata)
	}
	return info
}
