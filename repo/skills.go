package repo

import (
	"os"
	"path/filepath"

	"github.com/zhubert/acp-bridge/logger"
)

// DefaultSkillTargets returns the global skill directories of the supported
// agents: ~/.claude/skills and ~/.codex/skills.
func DefaultSkillTargets() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(home, ".claude", "skills"),
		filepath.Join(home, ".codex", "skills"),
	}
}

// InstallSkills copies each enabled service's skill files into every agent
// skill directory, overwriting existing copies.
func (p *Provider) InstallSkills() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.installSkillsLocked()
}

func (p *Provider) installSkillsLocked() {
	log := logger.WithComponent("repo")

	source := p.cfg.Skills.SourceDir
	if source == "" || !exists(source) {
		log.Debug("no skills source directory, skipping skill installation", "source", source)
		return
	}
	targets := p.cfg.Skills.Targets
	if len(targets) == 0 {
		targets = DefaultSkillTargets()
	}

	var installed []string
	for _, service := range p.cfg.GetEnabledServices() {
		serviceDir := filepath.Join(source, service)
		entries, err := os.ReadDir(serviceDir)
		if err != nil {
			continue
		}
		for _, target := range targets {
			targetDir := filepath.Join(target, service)
			if err := os.MkdirAll(targetDir, 0755); err != nil {
				log.Warn("failed to create skill dir", "dir", targetDir, "error", err)
				continue
			}
			for _, entry := range entries {
				if !entry.Type().IsRegular() {
					continue
				}
				if err := copyFile(filepath.Join(serviceDir, entry.Name()), filepath.Join(targetDir, entry.Name())); err != nil {
					log.Warn("failed to install skill file", "file", entry.Name(), "error", err)
				}
			}
		}
		installed = append(installed, service)
	}
	log.Info("installed skill files", "services", installed)
}
