package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"notionsync/internal/relations"
)

type relationsOptions struct {
	policy        string
	dryRun        bool
	dropAll       bool
	applyPolicies bool
	policyRole    string
	relPath       string
	collections   string
}

func newRelationsCmd(g *globalOptions) *cobra.Command {
	o := &relationsOptions{}
	cmd := &cobra.Command{
		Use:   "relations",
		Short: "Materialize relation properties into junction tables",
		Example: `  notionsync relations --dry-run
  notionsync relations --policy directional --drop-all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelations(cmd, g, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.policy, "policy", "", "junction policy: deduplicate or directional")
	f.BoolVar(&o.dryRun, "dry-run", false, "plan without touching the destination")
	f.BoolVar(&o.dropAll, "drop-all", false, "drop every planned junction table first")
	f.BoolVar(&o.applyPolicies, "apply-policies", false, "enable row-level security on junction tables (postgres)")
	f.StringVar(&o.policyRole, "policy-role", "", "role granted access by those policies")
	f.StringVar(&o.relPath, "relations-file", "", "relation declarations file")
	f.StringVar(&o.collections, "collections", "", "collection directory file")
	return cmd
}

func runRelations(cmd *cobra.Command, g *globalOptions, o *relationsOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := g.open(ctx, needs{destination: true})
	if err != nil {
		return err
	}
	defer rt.Close()
	if o.collections != "" {
		rt.cfg.Sync.CollectionsPath = o.collections
	}
	if o.relPath != "" {
		rt.cfg.Relations.Path = o.relPath
	}
	if o.policy != "" {
		rt.cfg.Relations.Policy = o.policy
	}
	if o.policyRole != "" {
		rt.cfg.Relations.PolicyRole = o.policyRole
	}

	svc, err := rt.newSyncService()
	if err != nil {
		return err
	}
	opts, err := rt.relationOptions()
	if err != nil {
		return err
	}
	opts.DryRun = o.dryRun
	opts.DropAll = o.dropAll
	opts.ApplyPolicies = opts.ApplyPolicies || o.applyPolicies

	res, err := svc.Materialize(ctx, opts)
	if err != nil {
		return err
	}
	if o.dryRun {
		printPlan(cmd.OutOrStdout(), res, opts.Policy)
		return nil
	}
	printRelations(cmd.OutOrStdout(), res)
	return nil
}

// printPlan renders the junction tables a pass would build.
func printPlan(w io.Writer, res relations.Result, p relations.Policy) {
	for _, r := range res.Relations {
		if r.Skipped {
			fmt.Fprintf(w, "%s %s.%s: %s\n", warnColor("skip"), r.Spec.OriginTable, r.Spec.FieldName, r.Error)
			continue
		}
		fmt.Fprintf(w, "%s %s.%s -> %s\n", r.Junction, r.Spec.OriginTable, r.Spec.FieldName, r.Spec.RelatedTable)
	}
	fmt.Fprintf(w, "%d junction tables planned (%s)\n", len(res.Tables), p)
}
