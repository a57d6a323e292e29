package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/zhubert/acp-bridge/config"
	"github.com/zhubert/acp-bridge/logger"
)

var version = "dev"

// globalOptions are the flags shared by every subcommand.
type globalOptions struct {
	ConfigPath string
	Debug      bool
	LogFormat  string
	LogFile    string
}

// AddFlags registers the shared flags on flagSet.
func (o *globalOptions) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&o.ConfigPath, "config", "c", "", "Path to config.yaml (default: the bridge config directory)")
	flagSet.BoolVar(&o.Debug, "debug", false, "Enable debug logging")
	flagSet.StringVar(&o.LogFormat, "log-format", string(logger.FormatText), "Log format: text or json")
	flagSet.StringVar(&o.LogFile, "log-file", "", "Append logs to this file instead of stderr")
}

// loadConfig reads the configured file, or the default location.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	if o.ConfigPath != "" {
		return config.LoadFile(o.ConfigPath)
	}
	return config.Load()
}

// setupLogging sends logs to the --log-file file, or to w, in the requested
// format.
func (o *globalOptions) setupLogging(w io.Writer) error {
	format := logger.Format(o.LogFormat)
	if format != logger.FormatText && format != logger.FormatJSON {
		return fmt.Errorf("unknown log format %q", o.LogFormat)
	}
	if o.LogFile != "" {
		if err := logger.Init(o.LogFile, format); err != nil {
			return err
		}
	} else {
		logger.InitWriter(w, format)
	}
	logger.SetDebug(o.Debug)
	return nil
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "acp-bridge",
		Short: "Bridge external services to ACP coding agents",
		Long: `acp-bridge runs ACP agents on behalf of external services.

Each external conversation becomes an agent session with its own git
worktree. Sessions survive restarts and accept follow-up messages.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.setupLogging(cmd.ErrOrStderr())
		},
	}
	opts.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newServeCmd(opts),
		newSessionsCmd(opts),
		newCleanupCmd(opts),
		newCheckCmd(opts),
	)
	return cmd
}
