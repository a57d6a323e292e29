package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	acpsdk "github.com/coder/acp-go-sdk"
)

// bridgeClient answers the agent's callbacks. It approves every permission
// request, serves file reads and writes from the local filesystem and
// forwards session updates to the dispatcher.
type bridgeClient struct {
	events *dispatcher
	log    *slog.Logger
}

var _ acpsdk.Client = (*bridgeClient)(nil)

func (c *bridgeClient) SessionUpdate(_ context.Context, params acpsdk.SessionNotification) error {
	raw, err := json.Marshal(params.Update)
	if err != nil {
		return fmt.Errorf("failed to marshal session update: %w", err)
	}
	ev, ok, err := decodeUpdate(raw)
	if err != nil {
		c.log.Debug("undecodable session update", "error", err)
		return nil
	}
	if ok {
		c.events.deliver(ev)
	}
	return nil
}

func (c *bridgeClient) RequestPermission(_ context.Context, params acpsdk.RequestPermissionRequest) (acpsdk.RequestPermissionResponse, error) {
	if len(params.Options) == 0 {
		return acpsdk.RequestPermissionResponse{Outcome: acpsdk.NewRequestPermissionOutcomeCancelled()}, nil
	}

	chosen := params.Options[0]
	for _, opt := range params.Options {
		kind := string(opt.Kind)
		if kind == "allow_always" {
			chosen = opt
			break
		}
		if kind == "allow_once" && string(chosen.Kind) != "allow_once" {
			chosen = opt
		}
	}
	c.log.Debug("approving permission request", "option", chosen.OptionId, "kind", chosen.Kind)
	return acpsdk.RequestPermissionResponse{Outcome: acpsdk.NewRequestPermissionOutcomeSelected(chosen.OptionId)}, nil
}

func (c *bridgeClient) ReadTextFile(_ context.Context, params acpsdk.ReadTextFileRequest) (acpsdk.ReadTextFileResponse, error) {
	content, err := readTextFile(params.Path, params.Line, params.Limit)
	if err != nil {
		return acpsdk.ReadTextFileResponse{}, err
	}
	return acpsdk.ReadTextFileResponse{Content: content}, nil
}

func (c *bridgeClient) WriteTextFile(_ context.Context, params acpsdk.WriteTextFileRequest) (acpsdk.WriteTextFileResponse, error) {
	if err := writeTextFile(params.Path, params.Content); err != nil {
		return acpsdk.WriteTextFileResponse{}, err
	}
	return acpsdk.WriteTextFileResponse{}, nil
}

func (c *bridgeClient) CreateTerminal(_ context.Context, _ acpsdk.CreateTerminalRequest) (acpsdk.CreateTerminalResponse, error) {
	return acpsdk.CreateTerminalResponse{}, fmt.Errorf("terminals not supported")
}

func (c *bridgeClient) KillTerminal(_ context.Context, _ acpsdk.KillTerminalRequest) (acpsdk.KillTerminalResponse, error) {
	return acpsdk.KillTerminalResponse{}, fmt.Errorf("terminals not supported")
}

func (c *bridgeClient) TerminalOutput(_ context.Context, _ acpsdk.TerminalOutputRequest) (acpsdk.TerminalOutputResponse, error) {
	return acpsdk.TerminalOutputResponse{}, fmt.Errorf("terminals not supported")
}

func (c *bridgeClient) ReleaseTerminal(_ context.Context, _ acpsdk.ReleaseTerminalRequest) (acpsdk.ReleaseTerminalResponse, error) {
	return acpsdk.ReleaseTerminalResponse{}, fmt.Errorf("terminals not supported")
}

func (c *bridgeClient) WaitForTerminalExit(_ context.Context, _ acpsdk.WaitForTerminalExitRequest) (acpsdk.WaitForTerminalExitResponse, error) {
	return acpsdk.WaitForTerminalExitResponse{}, fmt.Errorf("terminals not supported")
}

// readTextFile reads path, optionally starting at the 1-based line and
// returning at most limit lines.
func readTextFile(path string, line, limit *int) (string, error) {
	if path == "" {
		return "", fmt.Errorf("file path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	if line == nil && limit == nil {
		return string(data), nil
	}

	var lines []string
	reader := bufio.NewReader(strings.NewReader(string(data)))
	for {
		l, err := reader.ReadString('\n')
		if l != "" {
			lines = append(lines, l)
		}
		if err != nil {
			break
		}
	}

	start := 0
	if line != nil && *line > 1 {
		start = *line - 1
	}
	if start > len(lines) {
		start = len(lines)
	}
	end := len(lines)
	if limit != nil && *limit >= 0 && start+*limit < end {
		end = start + *limit
	}
	return strings.Join(lines[start:end], ""), nil
}

// writeTextFile writes content to path, creating parent directories.
func writeTextFile(path, content string) error {
	if path == "" {
		return fmt.Errorf("file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create parent of %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
