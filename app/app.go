// Package app assembles the bridge: it owns the configuration, the repository
// provider, the session manager, the service adapters, the HTTP server and
// the supervised background tasks, and runs them for the life of a context.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/zhubert/acp-bridge/acp"
	"github.com/zhubert/acp-bridge/adapter/httpapi"
	"github.com/zhubert/acp-bridge/bridge"
	"github.com/zhubert/acp-bridge/clock"
	"github.com/zhubert/acp-bridge/config"
	"github.com/zhubert/acp-bridge/github"
	"github.com/zhubert/acp-bridge/logger"
	"github.com/zhubert/acp-bridge/manager"
	"github.com/zhubert/acp-bridge/paths"
	"github.com/zhubert/acp-bridge/process"
	"github.com/zhubert/acp-bridge/repo"
	"github.com/zhubert/acp-bridge/skills"
	"github.com/zhubert/acp-bridge/supervisor"
)

// shutdownTimeout bounds the graceful HTTP server shutdown.
const shutdownTimeout = 10 * time.Second

// Options overrides the production wiring. Zero values select the defaults.
type Options struct {
	// ListenAddr overrides the configured listen address.
	ListenAddr string

	// StorePath overrides the persisted sessions file.
	StorePath string

	ProjectsDir  string
	WorktreesDir string

	Launcher acp.Launcher
	Clock    clock.Clock

	// Adapters replaces the adapters built from enabled_services.
	Adapters []bridge.Adapter

	// Processes finds orphaned agents at startup. Defaults to a Finder for
	// the registered agent commands.
	Processes *process.Finder
}

// App is one running bridge.
type App struct {
	cfg      *config.Config
	auth     *github.AuthSet
	provider *repo.Provider
	manager  *manager.SessionManager
	adapters []bridge.Adapter
	group    *supervisor.Group
	procs    *process.Finder
	clock    clock.Clock
	log      *slog.Logger

	listenAddr string
	server     *http.Server

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

// New wires the bridge from cfg. Nothing runs until Run is called.
func New(cfg *config.Config, opts Options) (*App, error) {
	if cfg.DataDir != "" {
		paths.SetDataDir(cfg.DataDir)
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}

	auth, err := github.NewAuthSet(cfg, github.Options{Clock: opts.Clock})
	if err != nil {
		return nil, err
	}

	provider, err := repo.NewProvider(cfg, repo.Options{
		Tokens:       auth,
		Clock:        opts.Clock,
		ProjectsDir:  opts.ProjectsDir,
		WorktreesDir: opts.WorktreesDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create repository provider: %w", err)
	}

	storePath := opts.StorePath
	if storePath == "" {
		storePath, err = paths.SessionsFile()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve sessions file: %w", err)
		}
	}

	a := &App{
		cfg:        cfg,
		auth:       auth,
		provider:   provider,
		group:      supervisor.New(context.Background()),
		clock:      opts.Clock,
		log:        logger.WithComponent("app"),
		listenAddr: cfg.ListenAddr,
		ready:      make(chan struct{}),
	}
	if opts.ListenAddr != "" {
		a.listenAddr = opts.ListenAddr
	}

	a.manager = manager.NewSessionManager(cfg, provider, manager.NewStore(storePath), manager.Options{
		Launcher: opts.Launcher,
		Clock:    opts.Clock,
	})

	a.procs = opts.Processes
	if a.procs == nil {
		a.procs = process.NewFinder(cfg.AgentCommands())
	}

	a.adapters = opts.Adapters
	if a.adapters == nil {
		a.adapters = a.buildAdapters()
	}
	return a, nil
}

// buildAdapters creates one HTTP adapter per registered agent when the api
// service is enabled. The default agent serves the unprefixed routes.
func (a *App) buildAdapters() []bridge.Adapter {
	var adapters []bridge.Adapter
	for _, service := range a.cfg.GetEnabledServices() {
		if service != httpapi.ServiceType {
			a.log.Warn("no adapter available for service, skipping", "service", service)
			continue
		}
		for _, agent := range a.cfg.AgentNames() {
			bound := agent
			if a.cfg.IsDefaultAgent(agent) {
				bound = ""
			}
			adapters = append(adapters, httpapi.New(a.manager, a.group, httpapi.Options{
				Agent: bound,
				Token: a.cfg.Credential(config.KeyAPIToken, agent),
				Clock: a.clock,
			}))
		}
	}
	return adapters
}

// Manager returns the session manager.
func (a *App) Manager() *manager.SessionManager { return a.manager }

// Adapters returns the registered adapters.
func (a *App) Adapters() []bridge.Adapter { return a.adapters }

// Addr returns the address the HTTP server listens on, blocking until Run
// has bound it or ctx ends.
func (a *App) Addr(ctx context.Context) (string, error) {
	select {
	case <-a.ready:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return "", errors.New("http server is not listening")
	}
	return a.listener.Addr().String(), nil
}

// Run starts the bridge and blocks until ctx is cancelled or a fatal task
// fails, then shuts everything down. Adapters are restored before they start
// so no event can reach a session that has not been restored yet.
func (a *App) Run(ctx context.Context) error {
	defer a.markReady()

	if killed, err := a.procs.CleanupOrphans(ctx); err != nil {
		a.log.Warn("orphaned agent check failed", "error", err)
	} else if killed > 0 {
		a.log.Info("killed orphaned agent processes", "count", killed)
	}

	if a.cfg.CleanupEnabled() {
		a.log.Info("running startup worktree cleanup")
		if _, err := a.provider.CleanupStaleWorktrees(ctx, a.cleanupAge(), map[string]bool{}); err != nil {
			a.log.Error("startup worktree cleanup failed", "error", err)
		}
	}
	a.provider.InstallSkills()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.handleHealth)

	for _, adapter := range a.adapters {
		if r, ok := adapter.(bridge.RouteRegistrar); ok {
			r.RegisterRoutes(mux)
		}
		restored := a.manager.RestoreSessionsForAdapter(adapter)
		if r, ok := adapter.(bridge.SessionRestorer); ok {
			r.RestorePersistedSessions(a.manager.GetSessionsForService(adapter.ServiceName()))
		}
		if s, ok := adapter.(bridge.Starter); ok {
			if err := s.Start(a.group.Context()); err != nil {
				a.shutdown()
				return fmt.Errorf("failed to start adapter %s: %w", adapter.ServiceName(), err)
			}
		}
		a.log.Info("started adapter", "service", adapter.ServiceName(), "restored", restored)
	}

	if a.cfg.CleanupEnabled() {
		a.group.Go("worktree-cleanup", a.cleanupLoop)
	}
	a.startSkillsWatcher()

	listener, err := net.Listen("tcp", a.listenAddr)
	if err != nil {
		a.shutdown()
		return fmt.Errorf("failed to listen on %s: %w", a.listenAddr, err)
	}
	a.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	a.mu.Lock()
	a.listener = listener
	a.mu.Unlock()
	a.markReady()

	a.group.GoFatal("http-server", func(context.Context) error {
		if err := a.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	a.log.Info("bridge started", "addr", listener.Addr().String(), "services", a.cfg.GetEnabledServices())

	select {
	case <-ctx.Done():
	case <-a.group.Context().Done():
	}
	return a.shutdown()
}

func (a *App) markReady() {
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case <-a.ready:
	default:
		close(a.ready)
	}
}

// shutdown stops background tasks, then the session manager, then the
// adapters, then the HTTP server. Returns the first fatal task error.
func (a *App) shutdown() error {
	a.log.Info("shutting down bridge")
	a.group.Stop()
	a.manager.Shutdown()

	for _, adapter := range a.adapters {
		if c, ok := adapter.(bridge.Closer); ok {
			if err := c.Close(); err != nil {
				a.log.Warn("adapter close failed", "service", adapter.ServiceName(), "error", err)
			}
		}
	}

	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			a.log.Warn("http server shutdown failed", "error", err)
		}
	}

	err := a.group.Wait()
	a.log.Info("bridge stopped")
	return err
}

func (a *App) cleanupAge() time.Duration {
	return time.Duration(a.cfg.WorktreeCleanup.AgeDays) * 24 * time.Hour
}

// cleanupLoop removes stale worktrees every interval, sparing the working
// directories of known sessions.
func (a *App) cleanupLoop(ctx context.Context) error {
	interval := time.Duration(a.cfg.WorktreeCleanup.IntervalHours) * time.Hour
	a.log.Info("starting periodic worktree cleanup", "maxAge", a.cleanupAge(), "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.clock.After(interval):
		}
		a.CleanupOnce(ctx)
	}
}

// CleanupOnce runs one stale worktree sweep and returns the number removed.
func (a *App) CleanupOnce(ctx context.Context) int {
	removed, err := a.provider.CleanupStaleWorktrees(ctx, a.cleanupAge(), a.manager.ActiveWorkingDirs())
	if err != nil {
		a.log.Error("worktree cleanup failed", "error", err)
	}
	return removed
}

func (a *App) startSkillsWatcher() {
	source := a.cfg.Skills.SourceDir
	if source == "" || !a.cfg.SkillsWatchEnabled() {
		return
	}
	watcher, err := skills.NewWatcher(source, a.provider, a.clock, skills.DefaultDebounce)
	if err != nil {
		a.log.Warn("skills watcher disabled", "source", source, "error", err)
		return
	}
	a.group.Go("skills-watcher", watcher.Run)
}

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"services": a.cfg.GetEnabledServices(),
	})
}
