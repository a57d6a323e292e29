// Package repo owns the shared repository clones and the per-session
// worktrees carved from them.
//
// Every git mutation on a Provider runs under one provider-wide mutex, even
// across different repositories. The lock is never held while an agent runs.
package repo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zhubert/acp-bridge/clock"
	"github.com/zhubert/acp-bridge/config"
	"github.com/zhubert/acp-bridge/git"
	"github.com/zhubert/acp-bridge/logger"
	"github.com/zhubert/acp-bridge/paths"
)

// scratchDirName holds working directories for sessions with no repository.
const scratchDirName = "_scratch"

// TokenSource mints installation tokens for an agent.
type TokenSource interface {
	Token(ctx context.Context, agent string, installationOverride int64) (string, error)
}

// RepoSession is the result of preparing resources for one agent run.
type RepoSession struct {
	Cwd    string
	Branch string
	Repo   string
	Env    map[string]string
}

// NewRequest describes resources for a brand-new session.
type NewRequest struct {
	DescriptiveName string
	Agent           string
	Repo            string
	InstallationID  int64
}

// ResumeRequest describes resources for a follow-up on an existing session.
type ResumeRequest struct {
	Branch         string
	Cwd            string
	Agent          string
	Repo           string
	InstallationID int64
}

// Options configures a Provider. Zero values fall back to the paths package,
// the real clock and a real GitService.
type Options struct {
	Git          *git.GitService
	Tokens       TokenSource
	Clock        clock.Clock
	ProjectsDir  string
	WorktreesDir string

	// RemoteURL builds the clone URL for a repository. Defaults to git.CloneURL.
	RemoteURL func(repo, token string) string
}

// Provider prepares and cleans up repository resources.
type Provider struct {
	cfg          *config.Config
	git          *git.GitService
	tokens       TokenSource
	clock        clock.Clock
	projectsDir  string
	worktreesDir string
	remoteURL    func(repo, token string) string

	mu sync.Mutex
}

// NewProvider creates a Provider.
func NewProvider(cfg *config.Config, opts Options) (*Provider, error) {
	p := &Provider{
		cfg:          cfg,
		git:          opts.Git,
		tokens:       opts.Tokens,
		clock:        opts.Clock,
		projectsDir:  opts.ProjectsDir,
		worktreesDir: opts.WorktreesDir,
		remoteURL:    opts.RemoteURL,
	}
	if p.git == nil {
		p.git = git.NewGitService()
	}
	if p.clock == nil {
		p.clock = clock.Real()
	}
	if p.remoteURL == nil {
		p.remoteURL = git.CloneURL
	}
	if p.projectsDir == "" {
		dir, err := paths.ProjectsDir()
		if err != nil {
			return nil, err
		}
		p.projectsDir = dir
	}
	if p.worktreesDir == "" {
		dir, err := paths.WorktreesDir()
		if err != nil {
			return nil, err
		}
		p.worktreesDir = dir
	}
	return p, nil
}

// RepoRoot returns the shared clone path for an owner/name repository.
func (p *Provider) RepoRoot(repo string) string {
	return filepath.Join(p.projectsDir, filepath.FromSlash(repo))
}

// WorktreesDir returns the root under which session worktrees are created.
func (p *Provider) WorktreesDir() string {
	return p.worktreesDir
}

func (p *Provider) effectiveRepo(override string) string {
	if override != "" {
		return override
	}
	return p.cfg.GitHub.Repo
}

// PrepareNew creates an isolated working directory on a fresh branch.
func (p *Provider) PrepareNew(ctx context.Context, req NewRequest) (*RepoSession, error) {
	log := logger.WithComponent("repo")
	repo := p.effectiveRepo(req.Repo)
	if repo != "" && !config.ValidRepo(repo) {
		return nil, &ResourcePreparationError{Op: "prepare_new", Repo: repo, Err: fmt.Errorf("invalid repository %q", repo)}
	}

	now := p.clock.Now()
	slug := Slugify(req.DescriptiveName)
	token := p.repoToken(ctx, repo, req.Agent, req.InstallationID)

	session, err := func() (*RepoSession, error) {
		p.mu.Lock()
		defer p.mu.Unlock()

		if repo == "" {
			log.Warn("no repository configured, using scratch directory")
			cwd, err := p.newScratchDir(slug + "-" + timestamp(now))
			if err != nil {
				return nil, err
			}
			p.installSkillsLocked()
			return &RepoSession{Cwd: cwd}, nil
		}

		if err := p.ensureCloneLocked(ctx, repo, token); err != nil {
			return nil, err
		}
		root := p.RepoRoot(repo)

		branch := BranchName(p.cfg.BranchPrefix(req.Agent), slug, now)
		cwd := filepath.Join(p.worktreesDir, filepath.FromSlash(repo), slug+"-"+timestamp(now))
		for n := 2; exists(cwd); n++ {
			suffix := fmt.Sprintf("-%d", n)
			branch = BranchName(p.cfg.BranchPrefix(req.Agent), slug, now) + suffix
			cwd = filepath.Join(p.worktreesDir, filepath.FromSlash(repo), slug+"-"+timestamp(now)+suffix)
		}
		if err := os.MkdirAll(filepath.Dir(cwd), 0755); err != nil {
			return nil, fmt.Errorf("failed to create worktree parent: %w", err)
		}

		ref := p.git.DefaultRemoteRef(ctx, root)
		if err := p.git.AddWorktree(ctx, root, cwd, branch, ref); err != nil {
			return nil, err
		}
		p.installSkillsLocked()
		return &RepoSession{Cwd: cwd, Branch: branch, Repo: repo}, nil
	}()
	if err != nil {
		var prepErr *ResourcePreparationError
		if errors.As(err, &prepErr) {
			return nil, err
		}
		return nil, &ResourcePreparationError{Op: "prepare_new", Repo: repo, Err: err}
	}

	session.Env = p.BuildEnvironment(ctx, req.Agent, req.InstallationID)
	log.Info("prepared new session", "repo", repo, "cwd", session.Cwd, "branch", session.Branch)
	return session, nil
}

// PrepareResume refreshes the resources of an existing session. A surviving
// worktree is reused after a fetch; otherwise the branch is checked out in
// the shared clone, which is how sessions predating worktrees ran.
func (p *Provider) PrepareResume(ctx context.Context, req ResumeRequest) (*RepoSession, error) {
	log := logger.WithComponent("repo")
	repo := p.effectiveRepo(req.Repo)
	token := p.repoToken(ctx, repo, req.Agent, req.InstallationID)

	session, err := func() (*RepoSession, error) {
		p.mu.Lock()
		defer p.mu.Unlock()

		if repo == "" {
			cwd := req.Cwd
			if cwd == "" || !exists(cwd) {
				var err error
				if cwd, err = p.newScratchDir(Slugify(req.Branch) + "-" + timestamp(p.clock.Now())); err != nil {
					return nil, err
				}
			}
			p.installSkillsLocked()
			return &RepoSession{Cwd: cwd, Branch: req.Branch}, nil
		}

		if err := p.ensureCloneLocked(ctx, repo, token); err != nil {
			return nil, err
		}
		root := p.RepoRoot(repo)

		cwd := req.Cwd
		if cwd != "" && exists(cwd) && !SamePath(cwd, root) {
			log.Debug("reusing worktree", "cwd", cwd)
		} else {
			if req.Branch == "" {
				return nil, fmt.Errorf("no worktree and no branch to resume")
			}
			log.Info("worktree missing, checking out branch in shared clone", "branch", req.Branch)
			if err := p.git.Checkout(ctx, root, req.Branch); err != nil {
				return nil, err
			}
			cwd = root
		}
		p.installSkillsLocked()
		return &RepoSession{Cwd: cwd, Branch: req.Branch, Repo: repo}, nil
	}()
	if err != nil {
		return nil, &ResourcePreparationError{Op: "prepare_resume", Repo: repo, Err: err}
	}

	session.Env = p.BuildEnvironment(ctx, req.Agent, req.InstallationID)
	return session, nil
}

// ensureCloneLocked clones repo into its shared root, or refreshes the
// remote credentials and fetches when the clone already exists.
func (p *Provider) ensureCloneLocked(ctx context.Context, repo, token string) error {
	root := p.RepoRoot(repo)
	if exists(filepath.Join(root, ".git")) {
		if token != "" {
			if err := p.git.SetRemoteURL(ctx, root, p.remoteURL(repo, token)); err != nil {
				return err
			}
		}
		return p.git.Fetch(ctx, root)
	}

	if err := os.MkdirAll(filepath.Dir(root), 0755); err != nil {
		return fmt.Errorf("failed to create projects dir: %w", err)
	}
	return p.git.Clone(ctx, p.remoteURL(repo, token), root)
}

func (p *Provider) newScratchDir(leaf string) (string, error) {
	base := filepath.Join(p.worktreesDir, scratchDirName, leaf)
	dir := base
	for n := 2; exists(dir); n++ {
		dir = fmt.Sprintf("%s-%d", base, n)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create scratch dir: %w", err)
	}
	return dir, nil
}

// repoToken mints the token git uses for the shared clone. Failures are
// logged and yield an anonymous clone URL.
func (p *Provider) repoToken(ctx context.Context, repo, agent string, installationID int64) string {
	if repo == "" || p.tokens == nil {
		return ""
	}
	token, err := p.tokens.Token(ctx, agent, installationID)
	if err != nil {
		if !isMissingCredentials(err) {
			logger.WithComponent("repo").Error("token acquisition failed for repository access",
				"error", &TokenAcquisitionError{Agent: agent, InstallationID: installationID, Err: err})
		}
		return ""
	}
	return token
}

// CleanupWorktree removes a session worktree, prunes worktree metadata and
// deletes the session branch. It refuses shared clone roots and is a no-op
// when cwd is already gone.
func (p *Provider) CleanupWorktree(ctx context.Context, cwd, branch, repo string) error {
	if cwd == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cleanupLocked(ctx, cwd, branch, p.effectiveRepo(repo))
}

func (p *Provider) cleanupLocked(ctx context.Context, cwd, branch, repo string) error {
	log := logger.WithComponent("repo")

	if SamePath(cwd, p.projectsDir) || isWithin(cwd, p.projectsDir) || isWithin(p.projectsDir, cwd) {
		return ErrSharedRoot
	}
	if repo != "" && SamePath(cwd, p.RepoRoot(repo)) {
		return ErrSharedRoot
	}
	if !exists(cwd) {
		log.Debug("worktree already removed", "cwd", cwd)
		return nil
	}

	if repo == "" || isWithin(cwd, filepath.Join(p.worktreesDir, scratchDirName)) {
		if err := os.RemoveAll(cwd); err != nil {
			return fmt.Errorf("failed to remove %s: %w", cwd, err)
		}
		log.Info("removed scratch directory", "cwd", cwd)
		return nil
	}

	root := p.RepoRoot(repo)
	if err := p.git.RemoveWorktree(ctx, root, cwd); err != nil {
		log.Warn("worktree remove failed, deleting directory", "cwd", cwd, "error", err)
		if err := os.RemoveAll(cwd); err != nil {
			return fmt.Errorf("failed to remove %s: %w", cwd, err)
		}
	}
	if err := p.git.PruneWorktrees(ctx, root); err != nil {
		log.Warn("worktree prune failed", "repo", repo, "error", err)
	}
	if branch != "" {
		if err := p.git.DeleteBranch(ctx, root, branch); err != nil {
			log.Warn("branch delete failed", "branch", branch, "error", err)
		}
	}
	log.Info("cleaned up worktree", "cwd", cwd, "branch", branch)
	return nil
}

// CleanupStaleWorktrees removes worktrees and scratch directories not
// modified within maxAge whose paths are not in active. Returns the number
// removed.
func (p *Provider) CleanupStaleWorktrees(ctx context.Context, maxAge time.Duration, active map[string]bool) (int, error) {
	log := logger.WithComponent("repo")
	cutoff := p.clock.Now().Add(-maxAge)

	activeAbs := make(map[string]bool, len(active))
	for path := range active {
		activeAbs[cleanAbs(path)] = true
	}

	type candidate struct{ path, repo string }
	var candidates []candidate

	owners, err := os.ReadDir(p.worktreesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read worktrees dir: %w", err)
	}
	for _, owner := range owners {
		if !owner.IsDir() {
			continue
		}
		ownerDir := filepath.Join(p.worktreesDir, owner.Name())
		if owner.Name() == scratchDirName {
			for _, leaf := range readDirs(ownerDir) {
				candidates = append(candidates, candidate{path: filepath.Join(ownerDir, leaf)})
			}
			continue
		}
		for _, name := range readDirs(ownerDir) {
			repoDir := filepath.Join(ownerDir, name)
			for _, leaf := range readDirs(repoDir) {
				candidates = append(candidates, candidate{path: filepath.Join(repoDir, leaf), repo: owner.Name() + "/" + name})
			}
		}
	}

	removed := 0
	var errs []error
	for _, c := range candidates {
		if activeAbs[cleanAbs(c.path)] {
			continue
		}
		info, err := os.Stat(c.path)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		p.mu.Lock()
		branch := ""
		if c.repo != "" {
			branch, _ = p.git.CurrentBranch(ctx, c.path)
			if branch == "HEAD" {
				branch = ""
			}
		}
		err = p.cleanupLocked(ctx, c.path, branch, c.repo)
		p.mu.Unlock()

		if err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Info("removed stale worktrees", "count", removed, "maxAge", maxAge)
	}
	return removed, errors.Join(errs...)
}

func readDirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	return names
}
