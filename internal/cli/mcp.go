package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	mcpserver "notionsync/internal/mcp"
)

func newMCPCmd(g *globalOptions, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve sync tools to an MCP client over stdio",
		Long: `mcp exposes the sync service as Model Context Protocol tools on stdin and
stdout. Logs go to stderr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := g.open(cmd.Context(), needs{source: true, destination: true, state: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			svc, err := rt.newSyncService()
			if err != nil {
				return err
			}
			relOpts, err := rt.relationOptions()
			if err != nil {
				return err
			}
			srv := mcpserver.New(mcpserver.Deps{
				Sync:             svc,
				Runs:             rt.runs,
				RelationDefaults: relOpts,
				Logger:           rt.logger,
				Version:          version,
			})
			err = srv.ServeStdio()

			waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			svc.WaitRunning(waitCtx)
			return err
		},
	}
}
