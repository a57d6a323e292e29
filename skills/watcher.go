// Package skills watches the skills source directory and reinstalls the
// skill files into the agent directories when it changes.
package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zhubert/acp-bridge/clock"
	"github.com/zhubert/acp-bridge/logger"
)

// DefaultDebounce coalesces bursts of file events into one reinstall.
const DefaultDebounce = 500 * time.Millisecond

// Installer copies skill files into place. *repo.Provider satisfies it.
type Installer interface {
	InstallSkills()
}

// Watcher reinstalls skills after changes under the source directory.
type Watcher struct {
	watcher   *fsnotify.Watcher
	installer Installer
	source    string
	clock     clock.Clock
	debounce  time.Duration
	log       *slog.Logger

	mu      sync.Mutex
	pending *clock.Timer
	watched map[string]bool
}

// NewWatcher watches source and each of its subdirectories.
func NewWatcher(source string, installer Installer, clk clock.Clock, debounce time.Duration) (*Watcher, error) {
	if clk == nil {
		clk = clock.Real()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		watcher:   fw,
		installer: installer,
		source:    source,
		clock:     clk,
		debounce:  debounce,
		log:       logger.WithComponent("skills"),
		watched:   make(map[string]bool),
	}
	if err := w.add(source); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", source, err)
	}
	entries, err := os.ReadDir(source)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				if err := w.add(filepath.Join(source, entry.Name())); err != nil {
					w.log.Warn("failed to watch skills subdirectory", "dir", entry.Name(), "error", err)
				}
			}
		}
	}
	return w, nil
}

func (w *Watcher) add(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watched[dir] {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.watched[dir] = true
	return nil
}

// Run processes file events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	w.log.Info("watching skills directory", "source", w.source)
	defer w.Close()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error("watcher error", "error", err)
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	w.log.Debug("skills change", "file", event.Name, "op", event.Op.String())

	if event.Has(fsnotify.Create) && filepath.Dir(event.Name) == filepath.Clean(w.source) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.add(event.Name); err != nil {
				w.log.Warn("failed to watch new skills subdirectory", "dir", event.Name, "error", err)
			}
		}
	}
	w.schedule()
}

// schedule arms a reinstall unless one is already pending.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		return
	}
	w.pending = w.clock.AfterFunc(w.debounce, w.reinstall)
}

func (w *Watcher) reinstall() {
	w.mu.Lock()
	w.pending = nil
	w.mu.Unlock()

	w.log.Info("skills changed, reinstalling")
	w.installer.InstallSkills()
}

// Close stops watching and cancels a pending reinstall.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
	w.mu.Unlock()
	return w.watcher.Close()
}
