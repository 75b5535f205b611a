package etl

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"notionsync/internal/domain"
	"notionsync/internal/syncerr"
)

// ── Engine ─────────────────────────────────────────────────
// Per destination table:
//
//	IDLE → DETERMINE_WATERMARK → FETCHING → (ENSURE_SCHEMA → WRITING)* → DONE
//
// FETCHING loops while the source reports more pages. Each page is
// normalized, schema-ensured and written before the next one is requested.
//
// Pattern: Airbyte sync / Singer tap→target pipeline.

// SyncState is the position of one table sync in its state machine.
type SyncState string

const (
	StateIdle               SyncState = "IDLE"
	StateDetermineWatermark SyncState = "DETERMINE_WATERMARK"
	StateFetching           SyncState = "FETCHING"
	StateEnsureSchema       SyncState = "ENSURE_SCHEMA"
	StateWriting            SyncState = "WRITING"
	StateDone               SyncState = "DONE"
	StateFailed             SyncState = "FAILED"
)

// TableResult is the outcome of syncing one collection into one table.
type TableResult struct {
	CollectionID string        `json:"collectionId"`
	Table        string        `json:"table"`
	Mode         SyncMode      `json:"mode"`
	State        SyncState     `json:"state"`
	FailedIn     SyncState     `json:"failedIn,omitempty"`
	Watermark    *time.Time    `json:"watermark,omitempty"`
	Pages        int           `json:"pages"`
	RowsFetched  int           `json:"rowsFetched"`
	RowsWritten  int           `json:"rowsWritten"`
	ColumnsAdded int           `json:"columnsAdded"`
	Absorbed     int           `json:"absorbed"` // values moved to overflow on type conflict
	Duration     time.Duration `json:"duration"`
	Err          error         `json:"-"`
	Error        string        `json:"error,omitempty"`
}

// Succeeded reports whether the table reached DONE.
func (r TableResult) Succeeded() bool { return r.State == StateDone }

// RunOptions controls one pass over the collection directory.
type RunOptions struct {
	// ForceFull ignores watermarks.
	ForceFull bool
	// ForceFirstOnly limits ForceFull to the first table attempted.
	ForceFirstOnly bool
	// Tables restricts the pass to these destination tables when non-empty.
	Tables []string
}

// RunSummary reports a full pass.
type RunSummary struct {
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Attempted  int           `json:"attempted"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Tables     []TableResult `json:"tables"`
}

// Engine runs table syncs from a Source into a Destination.
type Engine struct {
	Source   Source
	Dest     Destination
	Archive  Archiver // optional
	Observer Observer // optional
	Logger   *zap.Logger
}

// NewEngine creates an Engine. A nil logger discards output.
func NewEngine(src Source, dest Destination, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{Source: src, Dest: dest, Logger: logger}
}

func (e *Engine) observer() Observer {
	if e.Observer == nil {
		return nopObserver{}
	}
	return e.Observer
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// SyncAll syncs every replicated collection in order. A failing table is
// logged and recorded; the remaining tables still run.
func (e *Engine) SyncAll(ctx context.Context, collections []domain.Collection, opts RunOptions) RunSummary {
	log := e.logger()
	summary := RunSummary{StartedAt: time.Now()}
	filter := make(map[string]bool, len(opts.Tables))
	for _, t := range opts.Tables {
		filter[t] = true
	}

	forceUsed := false
	for _, c := range collections {
		if !c.Replicate || (len(filter) > 0 && !filter[c.Table]) {
			summary.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			log.Warn("sync: run cancelled", zap.Error(err))
			break
		}

		force := opts.ForceFull && !(opts.ForceFirstOnly && forceUsed)
		forceUsed = true

		summary.Attempted++
		res := e.SyncTable(ctx, c, force)
		if res.Succeeded() {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
		summary.Tables = append(summary.Tables, res)
	}

	summary.FinishedAt = time.Now()
	log.Info("sync: pass finished",
		zap.Int("attempted", summary.Attempted),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Duration("duration", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	return summary
}

// SyncTable mirrors one collection into its table. Errors are returned inside
// the result, never raised.
func (e *Engine) SyncTable(ctx context.Context, c domain.Collection, force bool) TableResult {
	start := time.Now()
	log := e.logger().With(zap.String("table", c.Table), zap.String("collection", c.ID))
	res := TableResult{CollectionID: c.ID, Table: c.Table, Mode: SyncIncremental, State: StateIdle}
	if force {
		res.Mode = SyncFull
	}

	fail := func(err error) TableResult {
		res.FailedIn = res.State
		res.State = StateFailed
		res.Err = err
		res.Error = err.Error()
		res.Duration = time.Since(start)
		e.observer().TableFinished(c.Table, res.Duration, false)
		log.Error("sync: table failed", zap.String("stage", string(res.FailedIn)), zap.Error(err))
		return res
	}
	transition := func(s SyncState) {
		res.State = s
		log.Debug("sync: state", zap.String("state", string(s)))
	}

	if c.Table == "" {
		return fail(syncerr.NewConfigError(syncerr.CodeInvalidConfig, "collection "+c.ID+" has no destination table"))
	}
	normalizer, err := NewNormalizer(c.Transforms)
	if err != nil {
		return fail(syncerr.Wrap(syncerr.CategoryConfig, syncerr.CodeInvalidConfig, "build transforms", err))
	}

	// DETERMINE_WATERMARK
	transition(StateDetermineWatermark)
	var after *time.Time
	if !force {
		after, err = e.Dest.Watermark(ctx, c.Table)
		if err != nil {
			return fail(err)
		}
		res.Watermark = after
	}
	if after == nil {
		log.Info("sync: full sync", zap.Bool("forced", force))
	} else {
		log.Info("sync: incremental sync", zap.Time("after", *after))
	}

	// FETCHING → (ENSURE_SCHEMA → WRITING)*
	cursor := ""
	for {
		transition(StateFetching)
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		page, err := e.Source.Fetch(ctx, c.ID, cursor, after)
		if err != nil {
			return fail(err)
		}
		res.Pages++
		res.RowsFetched += len(page.Records)
		e.observer().PageFetched(c.Table, len(page.Records))

		if len(page.Records) > 0 {
			if err := e.applyPage(ctx, c, normalizer, page.Records, &res, transition, log); err != nil {
				return fail(err)
			}
		}

		if !page.HasMore || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	transition(StateDone)
	res.Duration = time.Since(start)
	e.observer().TableFinished(c.Table, res.Duration, true)
	log.Info("sync: table done",
		zap.Int("pages", res.Pages),
		zap.Int("fetched", res.RowsFetched),
		zap.Int("written", res.RowsWritten),
		zap.Int("columns_added", res.ColumnsAdded),
		zap.Duration("duration", res.Duration),
	)
	return res
}

// applyPage normalizes, schema-ensures and writes one page.
func (e *Engine) applyPage(ctx context.Context, c domain.Collection, n *Normalizer, records []domain.SourceRecord,
	res *TableResult, transition func(SyncState), log *zap.Logger) error {
	rows := make([]domain.NormalizedRow, len(records))
	for i, rec := range records {
		rows[i] = n.Normalize(rec)
	}

	transition(StateEnsureSchema)
	change, err := e.Dest.EnsureTable(ctx, c.Table, rows)
	if err != nil {
		return err
	}
	if len(change.Added) > 0 {
		res.ColumnsAdded += len(change.Added)
		e.observer().ColumnsAdded(c.Table, len(change.Added))
	}
	for i := range rows {
		var moved int
		rows[i], moved = AbsorbConflicts(rows[i], change.Schema)
		res.Absorbed += moved
	}

	transition(StateWriting)
	written, err := e.Dest.Write(ctx, c.Table, rows)
	res.RowsWritten += written
	if written > 0 {
		e.observer().RowsWritten(c.Table, written)
	}
	if err != nil {
		return err
	}

	if e.Archive != nil {
		if _, err := e.Archive.Archive(ctx, c.ID, c.Table, records); err != nil {
			log.Warn("sync: archive failed", zap.Error(err))
		}
	}
	return nil
}

// String renders a one-line summary.
func (s RunSummary) String() string {
	return fmt.Sprintf("%d/%d tables synced (%d failed, %d skipped)", s.Succeeded, s.Attempted, s.Failed, s.Skipped)
}
