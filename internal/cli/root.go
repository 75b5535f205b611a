// Package cli implements the notionsync command tree.
package cli

import (
	"github.com/spf13/cobra"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	envFiles   []string
	env        string
	logLevel   string
	logFormat  string
}

// NewRootCmd builds the notionsync command tree.
func NewRootCmd(version string) *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:   "notionsync",
		Short: "Mirror Notion databases into a relational database",
		Long: `notionsync keeps a continuous mirror of Notion databases in PostgreSQL,
MySQL or SQLite. Each replicated database becomes a table with one column per
scalar property; lists, relations and nested values are kept in a JSON
overflow column and relation properties are expanded into junction tables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "config file, yaml or json (default ./notionsync.yaml when present)")
	pf.StringSliceVar(&g.envFiles, "env-file", nil, ".env files to load (default .env)")
	pf.StringVar(&g.env, "env", "", "destination environment: local or cloud")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&g.logFormat, "log-format", "", "log format: console or json")

	root.AddCommand(
		newSyncCmd(g),
		newRelationsCmd(g),
		newCollectionsCmd(g),
		newRunsCmd(g),
		newMCPCmd(g, version),
	)
	return root
}
