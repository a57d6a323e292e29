package acp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeAgent is an in-memory Agent. Prompt emits the scripted events through
// the launch handler before returning.
type fakeAgent struct {
	mu      sync.Mutex
	handler EventHandler

	caps       Capabilities
	initErr    error
	newErr     error
	promptErr  error
	events     []Event
	stopReason StopReason

	// blockPrompt makes Prompt wait for Cancel or ctx.
	blockPrompt bool
	cancelErr   error
	cancelled   chan struct{}
	started     chan struct{}

	calls  []string
	closed int
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{
		stopReason: StopReasonEndTurn,
		cancelled:  make(chan struct{}),
		started:    make(chan struct{}, 1),
	}
}

func (a *fakeAgent) record(call string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, call)
}

func (a *fakeAgent) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

func (a *fakeAgent) Initialize(ctx context.Context) (Capabilities, error) {
	a.record("initialize")
	return a.caps, a.initErr
}

func (a *fakeAgent) NewSession(ctx context.Context, cwd string) (string, error) {
	a.record("new_session:" + cwd)
	if a.newErr != nil {
		return "", a.newErr
	}
	return "acp-123", nil
}

func (a *fakeAgent) LoadSession(ctx context.Context, id, cwd string) error {
	a.record("load_session:" + id)
	return nil
}

func (a *fakeAgent) ResumeSession(ctx context.Context, id, cwd string) error {
	a.record("resume_session:" + id)
	return nil
}

func (a *fakeAgent) Prompt(ctx context.Context, id, text, systemPrompt string) (StopReason, error) {
	a.record("prompt:" + text + "|" + systemPrompt)
	for _, ev := range a.events {
		a.handler(ev)
	}
	if a.blockPrompt {
		a.started <- struct{}{}
		select {
		case <-a.cancelled:
			return StopReasonCancelled, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return a.stopReason, a.promptErr
}

func (a *fakeAgent) Cancel(ctx context.Context, id string) error {
	a.record("cancel:" + id)
	if a.cancelErr != nil {
		return a.cancelErr
	}
	close(a.cancelled)
	return nil
}

func (a *fakeAgent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed++
	return nil
}

type fakeLauncher struct {
	agent *fakeAgent
	err   error
	cfg   LaunchConfig
}

func (l *fakeLauncher) Launch(ctx context.Context, cfg LaunchConfig, handler EventHandler) (Agent, error) {
	l.cfg = cfg
	if l.err != nil {
		return nil, l.err
	}
	l.agent.handler = handler
	return l.agent, nil
}

func newTestSession(agent *fakeAgent, handler EventHandler) (*Session, *fakeLauncher) {
	launcher := &fakeLauncher{agent: agent}
	s := NewSession(Config{
		Command:  "fake-agent",
		Env:      map[string]string{"GH_TOKEN": "ghs_x"},
		Launcher: launcher,
		Handler:  handler,
	})
	return s, launcher
}

func TestSession_NewSessionAndPrompt(t *testing.T) {
	agent := newFakeAgent()
	agent.events = []Event{
		ThoughtChunk{Text: "thinking"},
		MessageChunk{Text: "Hello "},
		MessageChunk{Text: "world"},
	}

	var got []Event
	s, launcher := newTestSession(agent, func(ev Event) { got = append(got, ev) })

	id, err := s.Start(context.Background(), "/work", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if id != "acp-123" || s.SessionID() != "acp-123" {
		t.Errorf("session id = %q", id)
	}
	if s.State() != StateReady {
		t.Errorf("state = %s, want ready", s.State())
	}
	if launcher.cfg.Dir != "/work" || launcher.cfg.Env["GH_TOKEN"] != "ghs_x" {
		t.Errorf("launch config = %+v", launcher.cfg)
	}

	reason, err := s.Prompt(context.Background(), "Summarize README", "be brief")
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if reason != StopReasonEndTurn {
		t.Errorf("reason = %q", reason)
	}
	if len(got) != 3 {
		t.Fatalf("handler got %d events, want 3", len(got))
	}
	if m, ok := got[2].(MessageChunk); !ok || m.Text != "world" {
		t.Errorf("events out of order: %#v", got)
	}

	calls := agent.Calls()
	if calls[len(calls)-1] != "prompt:Summarize README|be brief" {
		t.Errorf("calls = %v", calls)
	}
}

func TestSession_ResumePicksLoadOrResume(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
		want string
	}{
		{"load advertised", Capabilities{LoadSession: true}, "load_session:acp-old"},
		{"load not advertised", Capabilities{}, "resume_session:acp-old"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := newFakeAgent()
			agent.caps = tt.caps
			s, _ := newTestSession(agent, nil)

			id, err := s.Start(context.Background(), "/work", "acp-old")
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			if id != "acp-old" {
				t.Errorf("id = %q, want acp-old", id)
			}
			calls := agent.Calls()
			if len(calls) != 2 || calls[1] != tt.want {
				t.Errorf("calls = %v, want [initialize %s]", calls, tt.want)
			}
		})
	}
}

func TestSession_StartFailuresStopAgent(t *testing.T) {
	t.Run("spawn", func(t *testing.T) {
		launcher := &fakeLauncher{err: errors.New("exec: not found")}
		s := NewSession(Config{Command: "missing", Launcher: launcher})
		_, err := s.Start(context.Background(), "/work", "")
		var startErr *AgentStartError
		if !errors.As(err, &startErr) || startErr.Stage != "spawn" {
			t.Fatalf("err = %v, want spawn AgentStartError", err)
		}
		if s.State() != StateStopped {
			t.Errorf("state = %s, want stopped", s.State())
		}
	})

	t.Run("initialize", func(t *testing.T) {
		agent := newFakeAgent()
		agent.initErr = errors.New("protocol mismatch")
		s, _ := newTestSession(agent, nil)
		_, err := s.Start(context.Background(), "/work", "")
		var startErr *AgentStartError
		if !errors.As(err, &startErr) || startErr.Stage != "initialize" {
			t.Fatalf("err = %v, want initialize AgentStartError", err)
		}
		if agent.closed != 1 {
			t.Errorf("agent closed %d times, want 1", agent.closed)
		}
	})

	t.Run("new_session", func(t *testing.T) {
		agent := newFakeAgent()
		agent.newErr = errors.New("boom")
		s, _ := newTestSession(agent, nil)
		_, err := s.Start(context.Background(), "/work", "")
		var startErr *AgentStartError
		if !errors.As(err, &startErr) || startErr.Stage != "new_session" {
			t.Fatalf("err = %v", err)
		}
		if agent.closed != 1 {
			t.Errorf("agent closed %d times, want 1", agent.closed)
		}
	})
}

func TestSession_PromptStates(t *testing.T) {
	agent := newFakeAgent()
	s, _ := newTestSession(agent, nil)

	if _, err := s.Prompt(context.Background(), "x", ""); !errors.Is(err, ErrNotStarted) {
		t.Errorf("before start: err = %v, want ErrNotStarted", err)
	}
	if _, err := s.Start(context.Background(), "/work", ""); err != nil {
		t.Fatal(err)
	}
	s.Stop()
	if _, err := s.Prompt(context.Background(), "x", ""); !errors.Is(err, ErrStopped) {
		t.Errorf("after stop: err = %v, want ErrStopped", err)
	}
	if _, err := s.Start(context.Background(), "/work", ""); !errors.Is(err, ErrStopped) {
		t.Errorf("restart after stop: err = %v, want ErrStopped", err)
	}
}

func TestSession_PromptTransportError(t *testing.T) {
	agent := newFakeAgent()
	agent.promptErr = errors.New("broken pipe")
	s, _ := newTestSession(agent, nil)
	if _, err := s.Start(context.Background(), "/work", ""); err != nil {
		t.Fatal(err)
	}

	_, err := s.Prompt(context.Background(), "x", "")
	var turnErr *TurnExecutionError
	if !errors.As(err, &turnErr) {
		t.Fatalf("err = %v, want TurnExecutionError", err)
	}
	if turnErr.SessionID != "acp-123" {
		t.Errorf("SessionID = %q", turnErr.SessionID)
	}
	if s.State() != StateReady {
		t.Errorf("state = %s, session should remain usable", s.State())
	}
}

func TestSession_Cancel(t *testing.T) {
	agent := newFakeAgent()
	agent.blockPrompt = true
	s, _ := newTestSession(agent, nil)
	if _, err := s.Start(context.Background(), "/work", ""); err != nil {
		t.Fatal(err)
	}

	if err := s.Cancel(context.Background()); err != nil {
		t.Errorf("cancel while idle: %v", err)
	}
	for _, c := range agent.Calls() {
		if c == "cancel:acp-123" {
			t.Fatal("idle cancel must not reach the agent")
		}
	}

	result := make(chan StopReason, 1)
	go func() {
		reason, err := s.Prompt(context.Background(), "long task", "")
		if err != nil {
			t.Errorf("Prompt: %v", err)
		}
		result <- reason
	}()

	<-agent.started
	if err := s.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	select {
	case reason := <-result:
		if reason != StopReasonCancelled {
			t.Errorf("reason = %q, want cancelled", reason)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("prompt did not return after cancel")
	}
}

func TestSession_CancelFallsBackToContext(t *testing.T) {
	agent := newFakeAgent()
	agent.blockPrompt = true
	agent.cancelErr = errors.New("not supported")
	s, _ := newTestSession(agent, nil)
	if _, err := s.Start(context.Background(), "/work", ""); err != nil {
		t.Fatal(err)
	}

	result := make(chan StopReason, 1)
	go func() {
		reason, err := s.Prompt(context.Background(), "long task", "")
		if err != nil {
			t.Errorf("Prompt: %v", err)
		}
		result <- reason
	}()

	<-agent.started
	s.Cancel(context.Background())
	select {
	case reason := <-result:
		if reason != StopReasonCancelled {
			t.Errorf("reason = %q, want cancelled", reason)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("prompt did not return after cancel")
	}
}

func TestSession_StopIdempotent(t *testing.T) {
	agent := newFakeAgent()
	s, _ := newTestSession(agent, nil)
	if _, err := s.Start(context.Background(), "/work", ""); err != nil {
		t.Fatal(err)
	}
	s.Stop()
	s.Stop()
	if agent.closed != 1 {
		t.Errorf("agent closed %d times, want 1", agent.closed)
	}

	NewSession(Config{Launcher: &fakeLauncher{}}).Stop()
}
