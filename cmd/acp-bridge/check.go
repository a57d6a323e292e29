package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhubert/acp-bridge/cli"
	"github.com/zhubert/acp-bridge/paths"
)

func newCheckCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Show the data layout and check that git and the agent commands are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.DataDir != "" {
				paths.SetDataDir(cfg.DataDir)
			}
			dataDir, err := paths.DataDir()
			if err != nil {
				return fmt.Errorf("failed to resolve data directory: %w", err)
			}
			layout := "xdg"
			if paths.IsFlatLayout() {
				layout = "flat"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Data directory: %s (%s layout)\n\n", dataDir, layout)

			prereqs := cli.DefaultPrerequisites(cfg.AgentCommands())
			fmt.Fprint(out, cli.FormatCheckResults(cli.CheckAll(prereqs)))
			return cli.ValidateRequired(prereqs)
		},
	}
}
