package acp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	acpsdk "github.com/coder/acp-go-sdk"

	"github.com/zhubert/acp-bridge/logger"
)

// ProcessLauncher spawns the agent as a subprocess and connects to it with
// the acp-go-sdk client-side connection over its stdin and stdout.
type ProcessLauncher struct {
	Log *slog.Logger
}

// Launch starts the subprocess. ctx is not used to bound the process
// lifetime; the returned Agent must be closed.
func (l ProcessLauncher) Launch(ctx context.Context, cfg LaunchConfig, handler EventHandler) (Agent, error) {
	log := l.Log
	if log == nil {
		log = logger.WithComponent("acp")
	}
	proc, err := startProcess(cfg, log)
	if err != nil {
		return nil, err
	}
	return newSDKAgent(proc, proc.stdin, proc.stdout, handler, log), nil
}

// transport is the peer end of an agent connection.
// *agentProcess satisfies it.
type transport interface {
	Done() <-chan struct{}
	Stderr() string
	Stop()
}

// sdkAgent adapts an acp-go-sdk connection to the Agent interface.
type sdkAgent struct {
	conn   *acpsdk.ClientSideConnection
	peer   transport
	events *dispatcher
	log    *slog.Logger

	closeOnce sync.Once
}

// newSDKAgent connects to an agent that reads requests from w and writes
// responses and notifications to r.
func newSDKAgent(peer transport, w io.Writer, r io.Reader, handler EventHandler, log *slog.Logger) *sdkAgent {
	events := newDispatcher(handler, log)
	conn := acpsdk.NewClientSideConnection(&bridgeClient{events: events, log: log}, w, r)
	conn.SetLogger(log)
	return &sdkAgent{
		conn:   conn,
		peer:   peer,
		events: events,
		log:    log,
	}
}

func (a *sdkAgent) Initialize(ctx context.Context) (Capabilities, error) {
	resp, err := a.conn.Initialize(ctx, acpsdk.InitializeRequest{
		ProtocolVersion: acpsdk.ProtocolVersionNumber,
		ClientCapabilities: acpsdk.ClientCapabilities{
			Fs: acpsdk.FileSystemCapabilities{ReadTextFile: true, WriteTextFile: true},
		},
	})
	if err != nil {
		return Capabilities{}, a.withStderr(err)
	}
	return Capabilities{LoadSession: resp.AgentCapabilities.LoadSession}, nil
}

func (a *sdkAgent) NewSession(ctx context.Context, cwd string) (string, error) {
	resp, err := a.conn.NewSession(ctx, acpsdk.NewSessionRequest{
		Cwd:        cwd,
		McpServers: []acpsdk.McpServer{},
	})
	if err != nil {
		return "", a.withStderr(err)
	}
	return string(resp.SessionId), nil
}

func (a *sdkAgent) LoadSession(ctx context.Context, sessionID, cwd string) error {
	_, err := a.conn.LoadSession(ctx, acpsdk.LoadSessionRequest{
		SessionId:  acpsdk.SessionId(sessionID),
		Cwd:        cwd,
		McpServers: []acpsdk.McpServer{},
	})
	// Replayed history reaches the handler before LoadSession returns.
	a.events.drain()
	return a.withStderr(err)
}

func (a *sdkAgent) ResumeSession(ctx context.Context, sessionID, cwd string) error {
	_, err := a.conn.ResumeSession(ctx, acpsdk.ResumeSessionRequest{
		SessionId:  acpsdk.SessionId(sessionID),
		Cwd:        cwd,
		McpServers: []acpsdk.McpServer{},
	})
	return a.withStderr(err)
}

// Prompt sends one turn. The connection completes every notification that
// preceded the response before returning it, and drain then waits for the
// handler, so the turn's updates are all handled when Prompt returns.
func (a *sdkAgent) Prompt(ctx context.Context, sessionID, text, systemPrompt string) (StopReason, error) {
	req := acpsdk.PromptRequest{
		SessionId: acpsdk.SessionId(sessionID),
		Prompt:    []acpsdk.ContentBlock{acpsdk.TextBlock(text)},
	}
	if systemPrompt != "" {
		req.Meta = map[string]any{"systemPrompt": systemPrompt}
	}

	resp, err := a.conn.Prompt(ctx, req)
	a.events.drain()
	if err != nil {
		return "", a.withStderr(err)
	}
	return StopReason(resp.StopReason), nil
}

// Cancel sends the session/cancel notification.
func (a *sdkAgent) Cancel(ctx context.Context, sessionID string) error {
	return a.conn.Cancel(ctx, acpsdk.CancelNotification{SessionId: acpsdk.SessionId(sessionID)})
}

func (a *sdkAgent) Close() error {
	a.closeOnce.Do(func() {
		a.peer.Stop()
		a.events.close()
	})
	return nil
}

// withStderr attaches the agent's recent stderr to err when it has exited.
func (a *sdkAgent) withStderr(err error) error {
	if err == nil {
		return nil
	}
	select {
	case <-a.peer.Done():
		if tail := a.peer.Stderr(); tail != "" {
			return fmt.Errorf("%w (agent exited; stderr: %s)", err, tail)
		}
	default:
	}
	return err
}
