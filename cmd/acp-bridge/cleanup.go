package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhubert/acp-bridge/app"
)

func newCleanupCmd(opts *globalOptions) *cobra.Command {
	var ageDays int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove stale worktrees not used by any persisted session",
		Long: `Remove worktrees and scratch directories that have not been modified
within the cleanup age. Working directories of persisted sessions are kept.
Do not run this while the server is handling sessions.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if ageDays > 0 {
				cfg.WorktreeCleanup.AgeDays = ageDays
			}

			a, err := app.New(cfg, app.Options{})
			if err != nil {
				return err
			}
			removed := a.CleanupOnce(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d stale worktree(s) older than %s.\n",
				removed, time.Duration(cfg.WorktreeCleanup.AgeDays)*24*time.Hour)
			return nil
		},
	}
	cmd.Flags().IntVar(&ageDays, "age-days", 0, "Override worktree_cleanup.age_days")
	return cmd
}
