package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"notionsync/internal/config"
	"notionsync/internal/domain"
	"notionsync/internal/etl/sources"
	"notionsync/internal/relations"
)

func newCollectionsCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "collections",
		Aliases: []string{"dbs"},
		Short:   "Inspect and maintain the collection directory",
	}
	cmd.AddCommand(newCollectionsListCmd(g), newDiscoverRelationsCmd(g))
	return cmd
}

// ── collections list ───────────────────────────────────────

func newCollectionsListCmd(g *globalOptions) *cobra.Command {
	var write string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the databases the integration can see, merged with the directory",
		Long: `List searches the workspace for every database shared with the integration
and merges the result with the collection directory: known collections keep
their table and replication flag, new ones are added with replication off.
With --write the merged directory is saved to PATH; pass the configured
collections file to update it in place.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := g.open(cmd.Context(), needs{source: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			found, err := rt.notion.SearchCollections(cmd.Context())
			if err != nil {
				return err
			}
			existing, err := loadExisting(rt.cfg.Sync.CollectionsPath)
			if err != nil {
				return err
			}
			merged, stats := config.MergeCollections(existing, discovered(found))

			out := cmd.OutOrStdout()
			printCollections(out, merged)
			fmt.Fprintf(out, "%d collections (%d new, %d renamed, %d gone)\n",
				stats.Total, len(stats.New), len(stats.Renamed), len(stats.Deleted))
			if write == "" {
				return nil
			}
			if err := config.SaveCollections(write, merged); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s\n", okColor("wrote"), write)
			return nil
		},
	}
	cmd.Flags().StringVarP(&write, "write", "w", "", "save the merged directory to `PATH`")
	return cmd
}

// discovered turns search results into directory entries.
func discovered(found []sources.CollectionSchema) []domain.Collection {
	out := make([]domain.Collection, 0, len(found))
	for _, s := range found {
		out = append(out, domain.Collection{
			ID:    s.ID,
			Name:  s.Title,
			Table: sources.SuggestTableName(s.Title),
		})
	}
	return out
}

// loadExisting reads the directory, treating a missing file as empty.
func loadExisting(path string) ([]domain.Collection, error) {
	collections, err := config.LoadCollections(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return collections, err
}

func printCollections(w io.Writer, collections []domain.Collection) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, headColor("NAME\tTABLE\tREPLICATE\tID"))
	for _, c := range collections {
		replicate := "no"
		if c.Replicate {
			replicate = okColor("yes")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Name, c.Table, replicate, c.ID)
	}
	tw.Flush()
}

// ── collections discover-relations ─────────────────────────

func newDiscoverRelationsCmd(g *globalOptions) *cobra.Command {
	var write string
	cmd := &cobra.Command{
		Use:   "discover-relations",
		Short: "Derive relation declarations from the replicated collections' schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := g.open(cmd.Context(), needs{source: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			collections, err := config.LoadCollections(rt.cfg.Sync.CollectionsPath)
			if err != nil {
				return err
			}
			specs, err := relations.Discover(cmd.Context(), rt.notion, collections, rt.logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, s := range specs {
				target := s.RelatedTable
				if target == "" {
					target = warnColor("unresolved " + s.RelatedCollectionID)
				}
				fmt.Fprintf(out, "%s.%s -> %s\n", s.OriginTable, s.FieldName, target)
			}
			fmt.Fprintf(out, "%d relations\n", len(specs))
			if write == "" {
				return nil
			}
			if err := config.SaveRelations(write, specs, collections); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s\n", okColor("wrote"), write)
			return nil
		},
	}
	cmd.Flags().StringVarP(&write, "write", "w", "", "save the declarations to `PATH`")
	return cmd
}
