package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zhubert/acp-bridge/app"
	"github.com/zhubert/acp-bridge/cli"
	"github.com/zhubert/acp-bridge/logger"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var listen string
	var skipChecks bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if !skipChecks {
				if err := cli.ValidateRequired(cli.DefaultPrerequisites(cfg.AgentCommands())); err != nil {
					return err
				}
			}

			a, err := app.New(cfg, app.Options{ListenAddr: listen})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.WithComponent("main").Info("starting acp-bridge", "version", version, "config", cfg.FilePath())
			return a.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (overrides listen_addr)")
	cmd.Flags().BoolVar(&skipChecks, "skip-checks", false, "Start without checking for git and the agent commands")
	return cmd
}
