package acp

import (
	"context"
	"fmt"
	"sync"
)

// MockTurn scripts the outcome of one Prompt call on a MockAgent.
type MockTurn struct {
	Events     []Event
	StopReason StopReason
	Err        error

	// Block makes Prompt wait, after delivering Events, until the turn is
	// cancelled or its context ends.
	Block bool
}

// MockPrompt records one Prompt call.
type MockPrompt struct {
	SessionID    string
	Text         string
	SystemPrompt string
}

// MockLauncher is a Launcher whose agents run scripted turns instead of a
// subprocess. Turns are consumed in order across every agent it launches.
//
// NOTE: This file is used by the manager and adapter tests.
type MockLauncher struct {
	mu sync.Mutex

	Caps          Capabilities
	LaunchErr     error
	InitErr       error
	NewSessionErr error
	ResumeErr     error

	// Prompting receives a value each time a blocking turn starts waiting.
	Prompting chan struct{}

	turns    []MockTurn
	launches []LaunchConfig
	prompts  []MockPrompt
	agents   []*MockAgent
	nextID   int
}

// NewMockLauncher creates a MockLauncher whose agents support session/load.
func NewMockLauncher() *MockLauncher {
	return &MockLauncher{
		Caps:      Capabilities{LoadSession: true},
		Prompting: make(chan struct{}, 16),
	}
}

// QueueTurn appends scripted turns. An unscripted turn ends with end_turn.
func (l *MockLauncher) QueueTurn(turns ...MockTurn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = append(l.turns, turns...)
}

// Launch implements Launcher.
func (l *MockLauncher) Launch(_ context.Context, cfg LaunchConfig, handler EventHandler) (Agent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches = append(l.launches, cfg)
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	a := &MockAgent{launcher: l, handler: handler, cancelled: make(chan struct{})}
	l.agents = append(l.agents, a)
	return a, nil
}

// Launches returns the configs of every Launch call.
func (l *MockLauncher) Launches() []LaunchConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LaunchConfig(nil), l.launches...)
}

// Prompts returns every prompt sent to any agent.
func (l *MockLauncher) Prompts() []MockPrompt {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]MockPrompt(nil), l.prompts...)
}

// Agents returns the launched agents.
func (l *MockLauncher) Agents() []*MockAgent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*MockAgent(nil), l.agents...)
}

func (l *MockLauncher) nextTurn() MockTurn {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.turns) == 0 {
		return MockTurn{StopReason: StopReasonEndTurn}
	}
	t := l.turns[0]
	l.turns = l.turns[1:]
	return t
}

// MockAgent is an Agent launched by MockLauncher.
type MockAgent struct {
	launcher *MockLauncher
	handler  EventHandler

	mu         sync.Mutex
	sessionID  string
	resumedVia string
	closed     bool
	cancelled  chan struct{}
	cancelOnce sync.Once
}

func (a *MockAgent) Initialize(context.Context) (Capabilities, error) {
	return a.launcher.Caps, a.launcher.InitErr
}

func (a *MockAgent) NewSession(context.Context, string) (string, error) {
	if err := a.launcher.NewSessionErr; err != nil {
		return "", err
	}
	a.launcher.mu.Lock()
	a.launcher.nextID++
	id := fmt.Sprintf("acp-session-%d", a.launcher.nextID)
	a.launcher.mu.Unlock()

	a.mu.Lock()
	a.sessionID = id
	a.mu.Unlock()
	return id, nil
}

func (a *MockAgent) LoadSession(_ context.Context, sessionID, _ string) error {
	return a.resume(sessionID, "load")
}

func (a *MockAgent) ResumeSession(_ context.Context, sessionID, _ string) error {
	return a.resume(sessionID, "resume")
}

func (a *MockAgent) resume(sessionID, via string) error {
	if err := a.launcher.ResumeErr; err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionID = sessionID
	a.resumedVia = via
	return nil
}

func (a *MockAgent) Prompt(ctx context.Context, sessionID, text, systemPrompt string) (StopReason, error) {
	a.launcher.mu.Lock()
	a.launcher.prompts = append(a.launcher.prompts, MockPrompt{SessionID: sessionID, Text: text, SystemPrompt: systemPrompt})
	a.launcher.mu.Unlock()

	turn := a.launcher.nextTurn()
	for _, ev := range turn.Events {
		a.handler(ev)
	}
	if turn.Block {
		select {
		case a.launcher.Prompting <- struct{}{}:
		default:
		}
		select {
		case <-a.cancelled:
			return StopReasonCancelled, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return turn.StopReason, turn.Err
}

func (a *MockAgent) Cancel(context.Context, string) error {
	a.cancelOnce.Do(func() { close(a.cancelled) })
	return nil
}

func (a *MockAgent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// Closed reports whether Close was called.
func (a *MockAgent) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// SessionID returns the agent-side session id created or resumed.
func (a *MockAgent) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// ResumedVia returns "load", "resume" or "" for a new session.
func (a *MockAgent) ResumedVia() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resumedVia
}
