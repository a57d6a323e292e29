// Package httpapi is a service adapter that exposes the bridge over plain
// HTTP: JSON endpoints to start, continue, cancel and remove sessions, and a
// websocket stream of each session's updates.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhubert/acp-bridge/bridge"
	"github.com/zhubert/acp-bridge/clock"
	"github.com/zhubert/acp-bridge/logger"
)

// ServiceType is the service name of the default-agent HTTP adapter.
const ServiceType = "api"

const maxBodyBytes = 1 << 20

// SessionHandler is the orchestrator surface the adapter drives.
// *manager.SessionManager satisfies it.
type SessionHandler interface {
	HandleNewSession(ctx context.Context, adapter bridge.Adapter, req bridge.SessionRequest)
	HandleFollowup(ctx context.Context, externalID, prompt string)
	HandleCancel(ctx context.Context, externalID string)
	RemoveSession(ctx context.Context, externalID string) bool
	GetSessionsForService(serviceName string) map[string]bridge.SessionInfo
}

// TaskRunner runs supervised background work. *supervisor.Group satisfies it.
type TaskRunner interface {
	Go(name string, fn func(ctx context.Context) error)
}

// Options configures an Adapter.
type Options struct {
	// Agent binds the adapter to a non-default agent; its service name
	// becomes "api:<agent>".
	Agent string

	// Token, when set, is required as a bearer token on every request.
	Token string

	Clock clock.Clock
}

// Adapter implements bridge.Adapter for HTTP clients.
type Adapter struct {
	name     string
	agent    string
	token    string
	sessions SessionHandler
	tasks    TaskRunner
	clock    clock.Clock
	hub      *hub
	upgrader websocket.Upgrader
	log      *slog.Logger

	// pending holds ids accepted but not yet registered with the manager.
	mu      sync.Mutex
	pending map[string]bool
}

var (
	_ bridge.Adapter         = (*Adapter)(nil)
	_ bridge.RouteRegistrar  = (*Adapter)(nil)
	_ bridge.SessionRestorer = (*Adapter)(nil)
	_ bridge.Starter         = (*Adapter)(nil)
	_ bridge.Closer          = (*Adapter)(nil)
)

// New creates an HTTP adapter.
func New(sessions SessionHandler, tasks TaskRunner, opts Options) *Adapter {
	name := ServiceType
	if opts.Agent != "" {
		name = ServiceType + ":" + opts.Agent
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	log := logger.WithComponent("httpapi").With("service", name)
	return &Adapter{
		name:     name,
		agent:    opts.Agent,
		token:    opts.Token,
		sessions: sessions,
		tasks:    tasks,
		clock:    opts.Clock,
		hub:      newHub(log, opts.Clock),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     log,
		pending: make(map[string]bool),
	}
}

// ServiceName implements bridge.Adapter.
func (a *Adapter) ServiceName() string { return a.name }

// SendUpdate implements bridge.Adapter.
func (a *Adapter) SendUpdate(_ context.Context, sessionID string, update bridge.Update) error {
	a.hub.publish(Event{Type: EventUpdate, SessionID: sessionID, Update: &update, Time: a.clock.Now()})
	return nil
}

// SendCompletion implements bridge.Adapter.
func (a *Adapter) SendCompletion(_ context.Context, sessionID, message, sessionURL string) error {
	a.hub.publish(Event{Type: EventCompletion, SessionID: sessionID, Message: message, SessionURL: sessionURL, Time: a.clock.Now()})
	return nil
}

// SendError implements bridge.Adapter.
func (a *Adapter) SendError(_ context.Context, sessionID, message string) error {
	a.hub.publish(Event{Type: EventError, SessionID: sessionID, Message: message, Time: a.clock.Now()})
	return nil
}

// Start implements bridge.Starter.
func (a *Adapter) Start(context.Context) error {
	a.log.Info("http adapter ready", "prefix", a.prefix())
	return nil
}

// Close implements bridge.Closer. It disconnects every event stream viewer.
func (a *Adapter) Close() error {
	a.hub.closeAll()
	return nil
}

// RestorePersistedSessions implements bridge.SessionRestorer.
func (a *Adapter) RestorePersistedSessions(sessions map[string]bridge.SessionInfo) {
	a.log.Info("sessions available for follow-up", "count", len(sessions))
}

// prefix is the URL prefix of this adapter's routes: /api/sessions, or
// /api/<agent>/sessions for an agent-bound adapter.
func (a *Adapter) prefix() string {
	if a.agent == "" {
		return "/" + ServiceType + "/sessions"
	}
	return "/" + ServiceType + "/" + a.agent + "/sessions"
}

// RegisterRoutes implements bridge.RouteRegistrar.
func (a *Adapter) RegisterRoutes(mux *http.ServeMux) {
	p := a.prefix()
	mux.Handle("POST "+p, a.auth(a.handleCreate))
	mux.Handle("GET "+p, a.auth(a.handleList))
	mux.Handle("GET "+p+"/{id}", a.auth(a.handleGet))
	mux.Handle("POST "+p+"/{id}/messages", a.auth(a.handleMessage))
	mux.Handle("POST "+p+"/{id}/cancel", a.auth(a.handleCancel))
	mux.Handle("DELETE "+p+"/{id}", a.auth(a.handleDelete))
	mux.Handle("GET "+p+"/{id}/events", a.auth(a.handleEvents))
}

func (a *Adapter) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.token != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(a.token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next(w, r)
	})
}

// createRequest is the body of POST /sessions.
type createRequest struct {
	SessionID      string         `json:"session_id"`
	Prompt         string         `json:"prompt"`
	Name           string         `json:"name"`
	Repo           string         `json:"repo"`
	InstallationID int64          `json:"installation_id"`
	SystemPrompt   string         `json:"system_prompt"`
	Metadata       map[string]any `json:"metadata"`
}

type messageRequest struct {
	Prompt string `json:"prompt"`
}

func (a *Adapter) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body createRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(body.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if body.SessionID == "" {
		body.SessionID = uuid.NewString()
	}
	if !a.reserve(body.SessionID) {
		writeError(w, http.StatusConflict, "session already exists")
		return
	}
	name := body.Name
	if name == "" {
		name = body.Prompt
	}

	req := bridge.SessionRequest{
		ExternalSessionID: body.SessionID,
		ServiceName:       a.name,
		Prompt:            body.Prompt,
		DescriptiveName:   name,
		Repo:              body.Repo,
		InstallationID:    body.InstallationID,
		AgentName:         a.agent,
		SystemPrompt:      body.SystemPrompt,
		ServiceMetadata:   body.Metadata,
	}
	a.tasks.Go("api-new-session", func(ctx context.Context) error {
		defer a.release(req.ExternalSessionID)
		a.sessions.HandleNewSession(ctx, a, req)
		return nil
	})

	a.log.Info("session accepted", "sessionID", req.ExternalSessionID)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"session_id": req.ExternalSessionID,
		"events":     a.prefix() + "/" + req.ExternalSessionID + "/events",
	})
}

func (a *Adapter) handleList(w http.ResponseWriter, r *http.Request) {
	sessions := a.sessions.GetSessionsForService(a.name)
	list := make([]bridge.SessionInfo, 0, len(sessions))
	for _, info := range sessions {
		list = append(list, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (a *Adapter) handleGet(w http.ResponseWriter, r *http.Request) {
	info, ok := a.sessions.GetSessionsForService(a.name)[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *Adapter) handleMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !a.known(id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	var body messageRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(body.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	a.tasks.Go("api-followup", func(ctx context.Context) error {
		a.sessions.HandleFollowup(ctx, id, body.Prompt)
		return nil
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id})
}

func (a *Adapter) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !a.known(id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	a.sessions.HandleCancel(r.Context(), id)
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id})
}

func (a *Adapter) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !a.known(id) || !a.sessions.RemoveSession(r.Context(), id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	a.hub.forget(id)
	w.WriteHeader(http.StatusNoContent)
}

func (a *Adapter) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Debug("websocket upgrade failed", "error", err)
		return
	}

	v := a.hub.attach(id, conn)
	a.tasks.Go("api-viewer-reader", func(ctx context.Context) error {
		a.hub.readPump(ctx, v)
		return nil
	})
	a.hub.writePump(v)
	a.hub.detach(id, v)
}

// reserve claims id for a new session. It fails when the id is registered
// or another create for it is still in flight.
func (a *Adapter) reserve(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending[id] || a.known(id) {
		return false
	}
	a.pending[id] = true
	return true
}

func (a *Adapter) release(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pending, id)
}

// known reports whether id is a session of this adapter.
func (a *Adapter) known(id string) bool {
	_, ok := a.sessions.GetSessionsForService(a.name)[id]
	return ok
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
