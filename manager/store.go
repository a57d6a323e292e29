package manager

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zhubert/acp-bridge/bridge"
)

// PersistenceError reports a failed read or write of the session store.
// It is logged, never returned to adapters.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("session store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// storeFile is the on-disk shape of the session store.
type storeFile struct {
	Sessions map[string]bridge.SessionInfo `json:"sessions"`
}

// Store reads and writes the session registry as a JSON document.
type Store struct {
	path string
}

// NewStore creates a Store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the store file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads every persisted record. A missing file yields an empty map.
func (s *Store) Load() (map[string]bridge.SessionInfo, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]bridge.SessionInfo{}, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "read", Path: s.path, Err: err}
	}

	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &PersistenceError{Op: "parse", Path: s.path, Err: err}
	}
	if f.Sessions == nil {
		f.Sessions = map[string]bridge.SessionInfo{}
	}
	for id, info := range f.Sessions {
		if info.ExternalSessionID == "" {
			info.ExternalSessionID = id
			f.Sessions[id] = info
		}
	}
	return f.Sessions, nil
}

// Save replaces the store with sessions, writing a temp file and renaming it
// over the original.
func (s *Store) Save(sessions map[string]bridge.SessionInfo) error {
	if sessions == nil {
		sessions = map[string]bridge.SessionInfo{}
	}
	data, err := json.MarshalIndent(storeFile{Sessions: sessions}, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "encode", Path: s.path, Err: err}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &PersistenceError{Op: "write", Path: s.path, Err: err}
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return &PersistenceError{Op: "write", Path: s.path, Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &PersistenceError{Op: "write", Path: s.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &PersistenceError{Op: "write", Path: s.path, Err: err}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return &PersistenceError{Op: "rename", Path: s.path, Err: err}
	}
	return nil
}
