package relations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"notionsync/internal/dbclient"
	"notionsync/internal/domain"
	"notionsync/internal/syncerr"
	"notionsync/internal/warehouse"
)

// ── Materializer ───────────────────────────────────────────
// One pass:
//
//	plan → recreate master → per junction: drop, create, expand each relation
//
// Junction tables are derived data. They are rebuilt from the overflow
// column on every pass and never updated in place.

// Options controls one materialization pass.
type Options struct {
	Policy Policy
	// DryRun plans junction tables without touching the destination.
	DryRun bool
	// DropAll drops every planned junction table and the master table, then stops.
	DropAll bool
	// ApplyPolicies enables row-level security on the produced tables where
	// the engine supports it.
	ApplyPolicies bool
	PolicyRole    string
}

// RelationResult is the outcome of one relation declaration.
type RelationResult struct {
	Spec     domain.RelationSpec `json:"spec"`
	Junction string              `json:"junction,omitempty"`
	Rows     int64               `json:"rows"`
	Skipped  bool                `json:"skipped,omitempty"`
	Err      error               `json:"-"`
	Error    string              `json:"error,omitempty"`
}

// Result summarizes a pass. Counts are per relation and junction pair, so a
// directional relation counts once for each table it fills.
type Result struct {
	Attempted int              `json:"attempted"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Skipped   int              `json:"skipped"`
	Tables    []string         `json:"tables"`
	Rows      int64            `json:"rows"`
	Relations []RelationResult `json:"relations"`
}

// String renders a one-line summary.
func (r Result) String() string {
	return fmt.Sprintf("%d/%d relations materialized into %d tables, %d rows (%d failed, %d skipped)",
		r.Succeeded, r.Attempted, len(r.Tables), r.Rows, r.Failed, r.Skipped)
}

// Observer receives junction population counts.
type Observer interface {
	JunctionRows(table string, rows int)
}

// Materializer builds junction tables in one destination.
type Materializer struct {
	conn     *dbclient.Conn
	logger   *zap.Logger
	observer Observer
	now      func() time.Time
}

// Option configures a Materializer.
type Option func(*Materializer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Materializer) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithObserver reports junction row counts to o.
func WithObserver(o Observer) Option {
	return func(m *Materializer) { m.observer = o }
}

// New creates a Materializer writing through conn.
func New(conn *dbclient.Conn, opts ...Option) *Materializer {
	m := &Materializer{conn: conn, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Planned is one relation bound to one junction table it fills.
type Planned struct {
	Spec   domain.RelationSpec
	Layout Layout
	// Mirror marks the reversed copy written under PolicyDirectional.
	Mirror bool
}

// Plan groups specs by junction table, in order of first appearance. A spec
// appears once per table it fills. Specs without a related table are
// returned as skipped.
func Plan(specs []domain.RelationSpec, p Policy) (map[string][]Planned, []string, []domain.RelationSpec) {
	byTable := make(map[string][]Planned)
	var order []string
	var skipped []domain.RelationSpec
	seen := make(map[[2]string]bool)
	for _, s := range specs {
		if s.RelatedTable == "" || s.OriginTable == "" || s.FieldName == "" {
			skipped = append(skipped, s)
			continue
		}
		key := [2]string{s.OriginTable, s.FieldName}
		if seen[key] {
			continue
		}
		seen[key] = true
		for i, l := range Layouts(s, p) {
			if _, ok := byTable[l.Table]; !ok {
				order = append(order, l.Table)
			}
			byTable[l.Table] = append(byTable[l.Table], Planned{Spec: s, Layout: l, Mirror: i > 0})
		}
	}
	return byTable, order, skipped
}

// Materialize runs one pass over specs. The returned error is reserved for
// failures that stop the whole pass (master table DDL, cancellation);
// per-relation failures are reported in the result.
func (m *Materializer) Materialize(ctx context.Context, specs []domain.RelationSpec, opts Options) (Result, error) {
	policy := opts.Policy
	if policy == "" {
		policy = PolicyDeduplicate
	}
	log := m.logger.With(zap.String("policy", string(policy)))

	var res Result
	byTable, order, unresolved := Plan(specs, policy)
	for _, s := range unresolved {
		log.Warn("relations: unknown related table, skipping",
			zap.String("origin", s.OriginTable),
			zap.String("field", s.FieldName),
			zap.String("related_collection", s.RelatedCollectionID),
		)
		err := syncerr.NewConfigError(syncerr.CodeUnknownTable, "related collection "+s.RelatedCollectionID+" is not in the directory")
		res.Skipped++
		res.Relations = append(res.Relations, RelationResult{Spec: s, Skipped: true, Err: err, Error: err.Error()})
	}

	if opts.DropAll {
		return res, m.dropAll(ctx, order, log)
	}

	if opts.DryRun {
		for _, name := range order {
			for _, e := range byTable[name] {
				res.Relations = append(res.Relations, RelationResult{Spec: e.Spec, Junction: name})
			}
			log.Info("relations: planned junction", zap.String("table", name), zap.Int("relations", len(byTable[name])))
		}
		res.Tables = order
		return res, nil
	}

	if err := m.recreateMaster(ctx); err != nil {
		return res, err
	}

	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		m.materializeJunction(ctx, name, byTable[name], &res, log)
	}

	if opts.ApplyPolicies {
		m.applyPolicies(ctx, append([]string{MasterTable}, res.Tables...), opts.PolicyRole, log)
	}

	log.Info("relations: pass finished",
		zap.Int("attempted", res.Attempted),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Int64("rows", res.Rows),
	)
	return res, nil
}

// materializeJunction rebuilds one junction table from every relation that
// writes into it. A table left with no live relation is only dropped.
func (m *Materializer) materializeJunction(ctx context.Context, name string, entries []Planned, res *Result, log *zap.Logger) {
	log = log.With(zap.String("table", name))

	var live []Planned
	for _, e := range entries {
		s := e.Spec
		exists, err := dbclient.TableExists(ctx, m.conn.DB, m.conn.Dialect, s.OriginTable)
		switch {
		case err != nil:
			res.Attempted++
			m.fail(res, RelationResult{Spec: s, Junction: name}, syncerr.NewSchemaError(syncerr.CodeIntrospect, "check table "+s.OriginTable, err), log)
		case !exists:
			log.Warn("relations: origin table missing, skipping", zap.String("origin", s.OriginTable), zap.String("field", s.FieldName))
			res.Skipped++
			res.Relations = append(res.Relations, RelationResult{Spec: s, Junction: name, Skipped: true})
		default:
			live = append(live, e)
		}
	}
	if len(live) == 0 {
		if _, err := m.conn.DB.ExecContext(ctx, m.conn.Dialect.DropTableSQL(name)); err != nil {
			log.Warn("relations: stale junction not dropped", zap.Error(err))
		}
		return
	}

	res.Attempted += len(live)
	if err := m.createJunction(ctx, live[0].Layout); err != nil {
		for _, e := range live {
			m.fail(res, RelationResult{Spec: e.Spec, Junction: name}, err, log)
		}
		return
	}
	res.Tables = append(res.Tables, name)

	var total int64
	for _, e := range live {
		s, l := e.Spec, e.Layout
		q, args := m.conn.Dialect.ExpandRelationSQL(dbclient.RelationExpansion{
			Junction:      name,
			OriginColumn:  l.OriginColumn,
			FieldColumn:   ColumnFieldName,
			RelatedColumn: l.RelatedColumn,
			OriginTable:   s.OriginTable,
			Field:         s.FieldName,
		})
		result, err := m.conn.DB.ExecContext(ctx, q, args...)
		if err != nil {
			m.fail(res, RelationResult{Spec: s, Junction: name},
				syncerr.NewWriteError(syncerr.CodeJunctionFailed, fmt.Sprintf("expand %s.%s into %s", s.OriginTable, s.FieldName, name), err), log)
			continue
		}
		rows, _ := result.RowsAffected()
		if !e.Mirror {
			if err := m.recordMaster(ctx, s, name); err != nil {
				log.Warn("relations: master row not recorded", zap.String("field", s.FieldName), zap.Error(err))
			}
		}
		total += rows
		res.Rows += rows
		res.Succeeded++
		res.Relations = append(res.Relations, RelationResult{Spec: s, Junction: name, Rows: rows})
		log.Debug("relations: relation expanded", zap.String("origin", s.OriginTable), zap.String("field", s.FieldName), zap.Int64("rows", rows))
	}
	if m.observer != nil {
		m.observer.JunctionRows(name, int(total))
	}
	log.Info("relations: junction rebuilt", zap.Int("relations", len(live)), zap.Int64("rows", total))
}

func (m *Materializer) fail(res *Result, rr RelationResult, err error, log *zap.Logger) {
	rr.Err = err
	rr.Error = err.Error()
	res.Failed++
	res.Relations = append(res.Relations, rr)
	log.Error("relations: relation failed",
		zap.String("origin", rr.Spec.OriginTable),
		zap.String("field", rr.Spec.FieldName),
		zap.Error(err),
	)
}

// ── DDL ────────────────────────────────────────────────────

func (m *Materializer) createJunction(ctx context.Context, l Layout) error {
	d := m.conn.Dialect
	if _, err := m.conn.DB.ExecContext(ctx, d.DropTableSQL(l.Table)); err != nil {
		return syncerr.NewSchemaError(syncerr.CodeCreateTable, "drop junction "+l.Table, err)
	}

	defs := make([]string, 0, len(l.Columns)+1)
	quoted := make([]string, len(l.Columns))
	for i, c := range l.Columns {
		quoted[i] = d.QuoteIdent(c)
		defs = append(defs, fmt.Sprintf("%s %s NOT NULL", quoted[i], d.KeyType()))
	}
	defs = append(defs, fmt.Sprintf("UNIQUE (%s)", strings.Join(quoted, ", ")))
	stmt := fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", d.QuoteIdent(l.Table), strings.Join(defs, ",\n\t"))
	if _, err := m.conn.DB.ExecContext(ctx, stmt); err != nil {
		return syncerr.NewSchemaError(syncerr.CodeCreateTable, "create junction "+l.Table, err)
	}

	for _, c := range l.Columns {
		index := warehouse.IndexName("idx", l.Table, c)
		if _, err := m.conn.DB.ExecContext(ctx, d.CreateIndexSQL(index, l.Table, c)); err != nil {
			return syncerr.NewSchemaError(syncerr.CodeCreateTable, "create index "+index, err)
		}
	}
	return nil
}

var masterColumns = []string{"origin_table", ColumnFieldName, "related_collection_id", "related_table", "junction_table_name", "created_at"}

func (m *Materializer) recreateMaster(ctx context.Context) error {
	d := m.conn.Dialect
	if _, err := m.conn.DB.ExecContext(ctx, d.DropTableSQL(MasterTable)); err != nil {
		return syncerr.NewSchemaError(syncerr.CodeCreateTable, "drop "+MasterTable, err)
	}
	stmt := fmt.Sprintf(`CREATE TABLE %s (
	%s %s NOT NULL,
	%s %s NOT NULL,
	%s %s,
	%s %s NOT NULL,
	%s %s NOT NULL,
	%s %s NOT NULL,
	PRIMARY KEY (%s, %s)
)`,
		d.QuoteIdent(MasterTable),
		d.QuoteIdent(masterColumns[0]), d.KeyType(),
		d.QuoteIdent(masterColumns[1]), d.KeyType(),
		d.QuoteIdent(masterColumns[2]), d.KeyType(),
		d.QuoteIdent(masterColumns[3]), d.KeyType(),
		d.QuoteIdent(masterColumns[4]), d.KeyType(),
		d.QuoteIdent(masterColumns[5]), d.ColumnType(domain.ColumnTimestamp),
		d.QuoteIdent(masterColumns[0]), d.QuoteIdent(masterColumns[1]),
	)
	if _, err := m.conn.DB.ExecContext(ctx, stmt); err != nil {
		return syncerr.NewSchemaError(syncerr.CodeCreateTable, "create "+MasterTable, err)
	}
	return nil
}

func (m *Materializer) recordMaster(ctx context.Context, s domain.RelationSpec, junction string) error {
	d := m.conn.Dialect
	cols := make([]string, len(masterColumns))
	marks := make([]string, len(masterColumns))
	for i, c := range masterColumns {
		cols[i] = d.QuoteIdent(c)
		marks[i] = d.Placeholder(i + 1)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.QuoteIdent(MasterTable), strings.Join(cols, ", "), strings.Join(marks, ", "))
	_, err := m.conn.DB.ExecContext(ctx, q,
		s.OriginTable, s.FieldName, s.RelatedCollectionID, s.RelatedTable, junction, d.BindTime(m.now()))
	return err
}

func (m *Materializer) dropAll(ctx context.Context, tables []string, log *zap.Logger) error {
	d := m.conn.Dialect
	for _, t := range append(tables, MasterTable) {
		if _, err := m.conn.DB.ExecContext(ctx, d.DropTableSQL(t)); err != nil {
			return syncerr.NewSchemaError(syncerr.CodeCreateTable, "drop "+t, err)
		}
		log.Info("relations: table dropped", zap.String("table", t))
	}
	return nil
}

func (m *Materializer) applyPolicies(ctx context.Context, tables []string, role string, log *zap.Logger) {
	d := m.conn.Dialect
	for _, t := range tables {
		stmts := d.PolicyStatements(t, role)
		if len(stmts) == 0 {
			continue
		}
		for _, stmt := range stmts {
			if _, err := m.conn.DB.ExecContext(ctx, stmt); err != nil {
				log.Warn("relations: policy statement failed", zap.String("table", t), zap.Error(err))
				break
			}
		}
	}
}
