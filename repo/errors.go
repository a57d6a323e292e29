package repo

import (
	"errors"
	"fmt"
)

// ErrSharedRoot is returned when cleanup targets a shared clone instead of a worktree.
var ErrSharedRoot = errors.New("refusing to remove shared repository root")

// ResourcePreparationError reports a clone, fetch, checkout or worktree
// failure. No agent is started when one is returned.
type ResourcePreparationError struct {
	Op   string
	Repo string
	Err  error
}

func (e *ResourcePreparationError) Error() string {
	if e.Repo == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Repo, e.Err)
}

func (e *ResourcePreparationError) Unwrap() error { return e.Err }

// TokenAcquisitionError reports a failed installation token mint. It is
// logged and the token is omitted; preparation continues.
type TokenAcquisitionError struct {
	Agent          string
	InstallationID int64
	Err            error
}

func (e *TokenAcquisitionError) Error() string {
	return fmt.Sprintf("failed to acquire installation token for agent %q (installation %d): %v", e.Agent, e.InstallationID, e.Err)
}

func (e *TokenAcquisitionError) Unwrap() error { return e.Err }
