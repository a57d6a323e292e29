// Package paths provides centralized path resolution for the bridge's data directories.
//
// Layout:
//
//   - Config: config.yaml
//   - Data: sessions.json, projects/ (shared clones), worktrees/ (per-session checkouts)
//   - State: logs/
//
// Resolution order:
//  1. ACP_BRIDGE_HOME set → all paths under that directory
//  2. ~/.acp-bridge/ exists → flat layout under it
//  3. XDG env vars set → XDG layout with proper separation
//  4. Otherwise → ~/.acp-bridge/
//
// SetDataDir pins the data directory regardless of the above; the server
// uses it when the config file names an explicit data_dir.
package paths

import (
	"os"
	"path/filepath"
	"sync"
)

const appName = "acp-bridge"

var (
	mu           sync.Mutex
	resolved     *resolvedPaths
	dataOverride string
)

type resolvedPaths struct {
	configDir string
	dataDir   string
	stateDir  string
	flat      bool
}

func flatLayout(dir string) *resolvedPaths {
	return &resolvedPaths{configDir: dir, dataDir: dir, stateDir: dir, flat: true}
}

// resolve computes the path layout once and caches it.
func resolve() (*resolvedPaths, error) {
	mu.Lock()
	defer mu.Unlock()

	if resolved != nil {
		return resolved, nil
	}

	if home := os.Getenv("ACP_BRIDGE_HOME"); home != "" {
		resolved = flatLayout(home)
		return resolved, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	legacyDir := filepath.Join(home, "."+appName)

	if info, err := os.Stat(legacyDir); err == nil && info.IsDir() {
		resolved = flatLayout(legacyDir)
		return resolved, nil
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	xdgData := os.Getenv("XDG_DATA_HOME")
	xdgState := os.Getenv("XDG_STATE_HOME")

	if xdgConfig != "" || xdgData != "" || xdgState != "" {
		if xdgConfig == "" {
			xdgConfig = filepath.Join(home, ".config")
		}
		if xdgData == "" {
			xdgData = filepath.Join(home, ".local", "share")
		}
		if xdgState == "" {
			xdgState = filepath.Join(home, ".local", "state")
		}
		resolved = &resolvedPaths{
			configDir: filepath.Join(xdgConfig, appName),
			dataDir:   filepath.Join(xdgData, appName),
			stateDir:  filepath.Join(xdgState, appName),
		}
		return resolved, nil
	}

	resolved = flatLayout(legacyDir)
	return resolved, nil
}

// SetDataDir overrides the data directory. An empty string clears the override.
func SetDataDir(dir string) {
	mu.Lock()
	defer mu.Unlock()
	dataOverride = dir
}

// ConfigDir returns the directory holding config.yaml.
func ConfigDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.configDir, nil
}

// DataDir returns the directory for persistent data (sessions, clones, worktrees).
func DataDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	mu.Lock()
	defer mu.Unlock()
	if dataOverride != "" {
		return dataOverride, nil
	}
	return r.dataDir, nil
}

// StateDir returns the directory for runtime state and logs.
func StateDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.stateDir, nil
}

// ConfigFilePath returns the full path to config.yaml.
func ConfigFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// SessionsFile returns the path of the persisted session store.
func SessionsFile() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sessions.json"), nil
}

// ProjectsDir returns the root under which shared clones live, one per owner/name.
func ProjectsDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "projects"), nil
}

// WorktreesDir returns the root under which per-session worktrees live.
func WorktreesDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "worktrees"), nil
}

// LogsDir returns the directory for log files.
func LogsDir() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs"), nil
}

// IsFlatLayout returns true when config, data and state share one directory.
func IsFlatLayout() bool {
	r, err := resolve()
	if err != nil {
		return true
	}
	return r.flat
}

// Reset clears the cached path resolution and any override. Intended for tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resolved = nil
	dataOverride = ""
}
