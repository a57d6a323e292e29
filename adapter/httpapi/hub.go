package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhubert/acp-bridge/bridge"
	"github.com/zhubert/acp-bridge/clock"
)

const (
	// replayLimit bounds the events kept per session for late viewers.
	replayLimit = 200

	// historyRetention is how long a finished session's replay buffer is
	// kept after its last completion or error.
	historyRetention = 15 * time.Minute

	viewerSendBuffer = 64
	writeTimeout     = 10 * time.Second
)

// Event kinds streamed to viewers.
const (
	EventUpdate     = "update"
	EventCompletion = "completion"
	EventError      = "error"
)

// Event is one message on a session's event stream.
type Event struct {
	Type       string         `json:"type"`
	SessionID  string         `json:"session_id"`
	Update     *bridge.Update `json:"update,omitempty"`
	Message    string         `json:"message,omitempty"`
	SessionURL string         `json:"session_url,omitempty"`
	Time       time.Time      `json:"time"`
}

// viewer is one websocket attached to a session's stream.
type viewer struct {
	id     string
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

func (v *viewer) close() {
	v.once.Do(func() { close(v.done) })
}

// hub fans session events out to viewers and keeps a replay buffer.
type hub struct {
	log   *slog.Logger
	clock clock.Clock

	mu      sync.RWMutex
	closed  bool
	history map[string][][]byte
	seq     map[string]uint64
	viewers map[string]map[string]*viewer
}

func newHub(log *slog.Logger, clk clock.Clock) *hub {
	return &hub{
		log:     log,
		clock:   clk,
		history: make(map[string][][]byte),
		seq:     make(map[string]uint64),
		viewers: make(map[string]map[string]*viewer),
	}
}

// publish records ev and sends it to every viewer of its session. Viewers
// whose buffer is full miss the event.
func (h *hub) publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("failed to encode event", "error", err)
		return
	}

	h.mu.Lock()
	hist := append(h.history[ev.SessionID], data)
	if len(hist) > replayLimit {
		hist = hist[len(hist)-replayLimit:]
	}
	h.history[ev.SessionID] = hist
	h.seq[ev.SessionID]++
	if ev.Type == EventCompletion || ev.Type == EventError {
		id, seq := ev.SessionID, h.seq[ev.SessionID]
		h.clock.AfterFunc(historyRetention, func() { h.evict(id, seq) })
	}
	viewers := make([]*viewer, 0, len(h.viewers[ev.SessionID]))
	for _, v := range h.viewers[ev.SessionID] {
		viewers = append(viewers, v)
	}
	h.mu.Unlock()

	for _, v := range viewers {
		select {
		case v.sendCh <- data:
		case <-v.done:
		default:
			h.log.Warn("viewer event dropped, buffer full", "sessionID", ev.SessionID, "viewerID", v.id)
		}
	}
}

// evict drops the replay buffer of sessionID if nothing was published since
// the event numbered seq.
func (h *hub) evict(sessionID string, seq uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seq[sessionID] != seq {
		return
	}
	delete(h.history, sessionID)
	delete(h.seq, sessionID)
	h.log.Debug("replay buffer evicted", "sessionID", sessionID)
}

// attach registers conn as a viewer of sessionID and queues the replay.
func (h *hub) attach(sessionID string, conn *websocket.Conn) *viewer {
	v := &viewer{
		id:     uuid.NewString(),
		conn:   conn,
		sendCh: make(chan []byte, viewerSendBuffer+replayLimit),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		v.close()
		return v
	}
	for _, data := range h.history[sessionID] {
		v.sendCh <- data
	}
	if h.viewers[sessionID] == nil {
		h.viewers[sessionID] = make(map[string]*viewer)
	}
	h.viewers[sessionID][v.id] = v
	h.mu.Unlock()

	h.log.Debug("viewer attached", "sessionID", sessionID, "viewerID", v.id)
	return v
}

func (h *hub) detach(sessionID string, v *viewer) {
	h.mu.Lock()
	delete(h.viewers[sessionID], v.id)
	if len(h.viewers[sessionID]) == 0 {
		delete(h.viewers, sessionID)
	}
	h.mu.Unlock()
	v.close()
	h.log.Debug("viewer detached", "sessionID", sessionID, "viewerID", v.id)
}

// forget drops the replay buffer of a removed session and disconnects its viewers.
func (h *hub) forget(sessionID string) {
	h.mu.Lock()
	viewers := h.viewers[sessionID]
	delete(h.viewers, sessionID)
	delete(h.history, sessionID)
	delete(h.seq, sessionID)
	h.mu.Unlock()
	for _, v := range viewers {
		v.close()
	}
}

// closeAll disconnects every viewer and refuses new ones.
func (h *hub) closeAll() {
	h.mu.Lock()
	h.closed = true
	var all []*viewer
	for _, viewers := range h.viewers {
		for _, v := range viewers {
			all = append(all, v)
		}
	}
	h.viewers = make(map[string]map[string]*viewer)
	h.mu.Unlock()

	for _, v := range all {
		v.close()
		v.conn.Close()
	}
	if len(all) > 0 {
		h.log.Debug("viewers disconnected", "count", len(all))
	}
}

// writePump drains the viewer's queue into its websocket until the viewer
// is closed or a write fails.
func (h *hub) writePump(v *viewer) {
	defer func() {
		v.close()
		v.conn.Close()
	}()
	for {
		select {
		case data := <-v.sendCh:
			v.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := v.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.Debug("viewer write failed", "viewerID", v.id, "error", err)
				return
			}
		case <-v.done:
			v.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			v.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
			return
		}
	}
}

// readPump discards client messages and closes the viewer when the client
// goes away or ctx ends.
func (h *hub) readPump(ctx context.Context, v *viewer) {
	defer v.close()
	stop := context.AfterFunc(ctx, func() {
		v.close()
		v.conn.Close()
	})
	defer stop()
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			return
		}
	}
}
