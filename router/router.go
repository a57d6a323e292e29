// Package router turns a session's protocol events into adapter updates.
// Text chunks are coalesced for a short debounce window; tool calls and plans
// are forwarded as they arrive, after any buffered text.
package router

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
	"github.com/zhubert/acp-bridge/logger"
)

// DefaultDebounce is how long text chunks are buffered before being sent.
const DefaultDebounce = 2 * time.Second

// Sink receives the updates produced by a Router.
type Sink interface {
	Update(ctx context.Context, sessionID string, update bridge.Update)
}

// Options configures a Router. Zero values select the defaults.
type Options struct {
	Clock    clock.Clock
	Debounce time.Duration
}

// Router routes the events of one external session to a Sink.
type Router struct {
	ctx       context.Context
	sink      Sink
	sessionID string
	clock     clock.Clock
	debounce  time.Duration
	log       *slog.Logger

	mu         sync.Mutex
	thought    strings.Builder
	message    strings.Builder
	transcript strings.Builder
	pending    *clock.Timer
	generation uint64
}

// New creates a Router that sends updates for sessionID to sink. ctx bounds
// every delivery.
func New(ctx context.Context, sink Sink, sessionID string, opts Options) *Router {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Router{
		ctx:       ctx,
		sink:      sink,
		sessionID: sessionID,
		clock:     opts.Clock,
		debounce:  opts.Debounce,
		log:       logger.WithSession(sessionID).With("component", "router"),
	}
}

// Handle routes one event. It is the acp.EventHandler for the session.
func (r *Router) Handle(ev acp.Event) {
	switch ev := ev.(type) {
	case acp.ThoughtChunk:
		r.bufferText(&r.thought, ev.Text, false)
	case acp.MessageChunk:
		r.bufferText(&r.message, ev.Text, true)
	case acp.ToolCallStart:
		r.Flush()
		r.toolCallStarted(ev)
	case acp.ToolCallProgress:
		r.toolCallProgressed(ev)
	case acp.PlanUpdate:
		r.Flush()
		r.planUpdated(ev)
	default:
		r.log.Debug("ignoring unknown event", "type", fmt.Sprintf("%T", ev))
	}
}

func (r *Router) bufferText(buf *strings.Builder, text string, isMessage bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf.WriteString(text)
	if isMessage {
		r.transcript.WriteString(text)
	}
	if r.pending == nil {
		r.generation++
		gen := r.generation
		r.pending = r.clock.AfterFunc(r.debounce, func() { r.timerFired(gen) })
	}
}

// timerFired flushes for the timer armed as generation gen. A timer that
// fired while a manual Flush disarmed it finds a newer generation and does
// nothing, leaving the current window intact.
func (r *Router) timerFired(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil || r.generation != gen {
		return
	}
	r.flushLocked()
}

// Flush sends any buffered thought and message text, at most one update of
// each, and disarms the pending timer.
func (r *Router) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked()
}

func (r *Router) flushLocked() {
	if r.pending != nil {
		r.pending.Stop()
		r.pending = nil
	}
	if r.thought.Len() > 0 {
		r.send(bridge.Update{Type: bridge.UpdateThought, Content: r.thought.String()})
		r.thought.Reset()
	}
	if r.message.Len() > 0 {
		r.send(bridge.Update{Type: bridge.UpdateMessageChunk, Content: r.message.String()})
		r.message.Reset()
	}
}

// Transcript returns all message text the Router has received.
func (r *Router) Transcript() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transcript.String()
}

func (r *Router) toolCallStarted(ev acp.ToolCallStart) {
	title := ev.Title
	if title == "" {
		title = "Tool call"
	}
	kind := ev.Kind
	if kind == "" {
		kind = "other"
	}
	metadata := map[string]any{
		"tool_call_id": ev.ID,
		"kind":         kind,
	}
	if len(ev.Locations) > 0 {
		metadata["locations"] = ev.Locations
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.send(bridge.Update{Type: bridge.UpdateToolCall, Content: title, Metadata: metadata})
}

func (r *Router) toolCallProgressed(ev acp.ToolCallProgress) {
	if ev.Status != "completed" || ev.Title == "" {
		return
	}
	kind := ev.Kind
	if kind == "" {
		kind = "other"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.send(bridge.Update{
		Type:    bridge.UpdateToolCall,
		Content: ev.Title,
		Metadata: map[string]any{
			"tool_call_id": ev.ID,
			"kind":         kind,
			"status":       "completed",
		},
	})
}

func (r *Router) planUpdated(ev acp.PlanUpdate) {
	entries := make([]map[string]any, 0, len(ev.Entries))
	for _, e := range ev.Entries {
		entries = append(entries, map[string]any{"content": e.Content, "status": e.Status})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.send(bridge.Update{
		Type:     bridge.UpdatePlan,
		Content:  "Plan updated",
		Metadata: map[string]any{"entries": entries},
	})
}

// send must be called with r.mu held so updates leave in order.
func (r *Router) send(update bridge.Update) {
	r.sink.Update(r.ctx, r.sessionID, update)
}
