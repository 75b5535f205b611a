package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"notionsync/internal/etl"
	"notionsync/internal/relations"
	"notionsync/internal/service"
	"notionsync/internal/storage"
)

var (
	okColor   = color.New(color.FgGreen).SprintFunc()
	failColor = color.New(color.FgRed).SprintFunc()
	warnColor = color.New(color.FgYellow).SprintFunc()
	headColor = color.New(color.FgCyan, color.Bold).SprintFunc()
)

func stateLabel(s etl.SyncState) string {
	if s == etl.StateDone {
		return okColor(string(s))
	}
	return failColor(string(s))
}

// printPass renders a pass: one line per table, then the summaries.
func printPass(w io.Writer, res *service.PassResult) {
	if res == nil {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, headColor("TABLE\tMODE\tSTATE\tFETCHED\tWRITTEN\tCOLUMNS\tDURATION"))
	for _, t := range res.Sync.Tables {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			t.Table, t.Mode, stateLabel(t.State), t.RowsFetched, t.RowsWritten, t.ColumnsAdded,
			t.Duration.Round(time.Millisecond))
	}
	tw.Flush()

	for _, t := range res.Sync.Tables {
		if t.Error != "" {
			fmt.Fprintf(w, "%s %s: %s\n", failColor("error"), t.Table, t.Error)
		}
	}
	fmt.Fprintln(w, res.Sync.String())
	if res.Relations != nil {
		printRelations(w, *res.Relations)
	}
	if res.RunID != "" {
		fmt.Fprintf(w, "run %s\n", res.RunID)
	}
}

// printRelations renders a relations pass.
func printRelations(w io.Writer, res relations.Result) {
	for _, r := range res.Relations {
		target := r.Spec.RelatedTable
		if target == "" {
			target = r.Spec.RelatedCollectionID
		}
		switch {
		case r.Error != "":
			fmt.Fprintf(w, "%s %s.%s -> %s: %s\n", failColor("failed"), r.Spec.OriginTable, r.Spec.FieldName, target, r.Error)
		case r.Skipped:
			fmt.Fprintf(w, "%s %s.%s -> %s\n", warnColor("skipped"), r.Spec.OriginTable, r.Spec.FieldName, target)
		default:
			fmt.Fprintf(w, "%s %s.%s -> %s (%s, %d rows)\n", okColor("ok"), r.Spec.OriginTable, r.Spec.FieldName, target, r.Junction, r.Rows)
		}
	}
	fmt.Fprintln(w, res.String())
}

// printRuns renders the run history, newest first.
func printRuns(w io.Writer, runs []storage.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, headColor("ID\tMODE\tENV\tSTARTED\tDURATION\tTABLES\tFAILED\tJUNCTION ROWS"))
	for _, r := range runs {
		failed := fmt.Sprint(r.Failed)
		if r.Failed > 0 {
			failed = failColor(failed)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\t%d\n",
			shortID(r.ID), r.Mode, r.Environment, r.StartedAt.Local().Format(time.DateTime),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond), r.Succeeded, r.Attempted, failed, r.JunctionRows)
	}
	tw.Flush()
}

// printRun renders one run with its tables.
func printRun(w io.Writer, r *storage.Run) {
	fmt.Fprintf(w, "%s %s\n", headColor("run"), r.ID)
	fmt.Fprintf(w, "mode %s, environment %s, started %s, took %s\n",
		r.Mode, r.Environment, r.StartedAt.Local().Format(time.DateTime), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "%d/%d tables synced (%d failed, %d skipped)\n", r.Succeeded, r.Attempted, r.Failed, r.Skipped)
	if r.RelationsAttempted > 0 {
		fmt.Fprintf(w, "%d/%d relations materialized, %d junction rows\n", r.RelationsSucceeded, r.RelationsAttempted, r.JunctionRows)
	}
	if len(r.Tables) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, headColor("TABLE\tMODE\tSTATE\tFETCHED\tWRITTEN\tCOLUMNS\tERROR"))
	for _, t := range r.Tables {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			t.Table, t.Mode, stateLabel(etl.SyncState(t.State)), t.RowsFetched, t.RowsWritten, t.ColumnsAdded, t.Error)
	}
	tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
