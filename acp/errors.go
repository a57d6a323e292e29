package acp

import (
	"errors"
	"fmt"
)

var (
	// ErrNotStarted is returned by Prompt before Start has succeeded.
	ErrNotStarted = errors.New("agent session not started")

	// ErrStopped is returned once the session has been stopped.
	ErrStopped = errors.New("agent session stopped")

	// ErrBusy is returned when a prompt is sent while another turn is running.
	ErrBusy = errors.New("agent session is already prompting")
)

// AgentStartError reports a spawn or handshake failure. The subprocess has
// already been stopped when it is returned.
type AgentStartError struct {
	// Stage is one of spawn, initialize, new_session, load_session, resume_session.
	Stage string
	Err   error
}

func (e *AgentStartError) Error() string {
	return fmt.Sprintf("agent start failed at %s: %v", e.Stage, e.Err)
}

func (e *AgentStartError) Unwrap() error { return e.Err }

// TurnExecutionError reports a transport failure while a prompt was running.
type TurnExecutionError struct {
	SessionID string
	Err       error
}

func (e *TurnExecutionError) Error() string {
	return fmt.Sprintf("prompt failed for session %s: %v", e.SessionID, e.Err)
}

func (e *TurnExecutionError) Unwrap() error { return e.Err }
