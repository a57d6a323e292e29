// Package bridge defines the contract between the session orchestrator and
// the service adapters (Slack, Linear, GitHub, the HTTP API) that feed it.
package bridge

import (
	"context"
	"net/http"
)

// UpdateType classifies a streamed update.
type UpdateType string

const (
	UpdateThought      UpdateType = "thought"
	UpdateAction       UpdateType = "action"
	UpdateToolCall     UpdateType = "tool_call"
	UpdateMessageChunk UpdateType = "message_chunk"
	UpdatePlan         UpdateType = "plan"
)

// SessionRequest asks the bridge to start work for an external conversation.
type SessionRequest struct {
	ExternalSessionID string         `json:"external_session_id"`
	ServiceName       string         `json:"service_name"`
	Prompt            string         `json:"prompt"`
	DescriptiveName   string         `json:"descriptive_name,omitempty"`
	Repo              string         `json:"github_repo,omitempty"`
	InstallationID    int64          `json:"github_installation_id,omitempty"`
	AgentName         string         `json:"agent_name,omitempty"`
	SystemPrompt      string         `json:"system_prompt,omitempty"`
	ServiceMetadata   map[string]any `json:"service_metadata,omitempty"`
}

// Update is one progress message relayed to an adapter.
type Update struct {
	Type     UpdateType     `json:"type"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SessionInfo is the persisted description of an external session.
type SessionInfo struct {
	ExternalSessionID    string         `json:"external_session_id"`
	ServiceName          string         `json:"service_name"`
	ACPSessionID         string         `json:"acp_session_id"`
	Cwd                  string         `json:"cwd"`
	BranchName           string         `json:"branch_name"`
	AgentName            string         `json:"agent_name"`
	GitHubRepo           string         `json:"github_repo"`
	GitHubInstallationID int64          `json:"github_installation_id"`
	ServiceMetadata      map[string]any `json:"service_metadata,omitempty"`
	SystemPrompt         string         `json:"system_prompt,omitempty"`
}

// Adapter delivers session output back to an external service.
type Adapter interface {
	// ServiceName identifies the adapter, optionally suffixed with ":<agent>".
	ServiceName() string
	SendUpdate(ctx context.Context, sessionID string, update Update) error
	// SendCompletion reports a finished turn. sessionURL may be empty.
	SendCompletion(ctx context.Context, sessionID, message, sessionURL string) error
	SendError(ctx context.Context, sessionID, message string) error
}

// Starter is implemented by adapters with background work to start.
type Starter interface {
	Start(ctx context.Context) error
}

// Closer is implemented by adapters holding resources.
type Closer interface {
	Close() error
}

// RouteRegistrar is implemented by adapters that receive webhooks.
type RouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// SessionRestorer is implemented by adapters that rebuild their own state
// from the sessions restored for them at startup.
type SessionRestorer interface {
	RestorePersistedSessions(sessions map[string]SessionInfo)
}

// NopLifecycle provides no-op Start, Close and RegisterRoutes for embedding.
type NopLifecycle struct{}

func (NopLifecycle) Start(context.Context) error    { return nil }
func (NopLifecycle) Close() error                   { return nil }
func (NopLifecycle) RegisterRoutes(*http.ServeMux) {}
