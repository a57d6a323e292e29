package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zhubert/acp-bridge/manager"
	"github.com/zhubert/acp-bridge/paths"
)

func newSessionsCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool
	var service string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List persisted sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.DataDir != "" {
				paths.SetDataDir(cfg.DataDir)
			}
			path, err := paths.SessionsFile()
			if err != nil {
				return err
			}
			sessions, err := manager.NewStore(path).Load()
			if err != nil {
				return err
			}

			ids := make([]string, 0, len(sessions))
			for id, info := range sessions {
				if service == "" || info.ServiceName == service {
					ids = append(ids, id)
				}
			}
			sort.Strings(ids)

			out := cmd.OutOrStdout()
			if asJSON {
				list := make([]any, 0, len(ids))
				for _, id := range ids {
					list = append(list, sessions[id])
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}

			if len(ids) == 0 {
				fmt.Fprintln(out, "No persisted sessions.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tSERVICE\tAGENT\tBRANCH\tCWD")
			for _, id := range ids {
				info := sessions[id]
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", id, info.ServiceName, info.AgentName, orDash(info.BranchName), info.Cwd)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print sessions as JSON")
	cmd.Flags().StringVarP(&service, "service", "s", "", "Only list sessions of this service")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
