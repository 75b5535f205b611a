package relations_test

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notionsync/internal/dbclient"
	"notionsync/internal/domain"
	"notionsync/internal/etl/sources"
	"notionsync/internal/relations"
	"notionsync/internal/warehouse"
)

// ─────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────

func openSQLite(t *testing.T) *dbclient.Conn {
	t.Helper()
	conn, err := dbclient.Open(context.Background(), domain.DatabaseConnection{
		Driver: domain.DatabaseDriverSQLite,
		Host:   filepath.Join(t.TempDir(), "mirror.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// seed writes rows whose overflow holds the given relation arrays.
func seed(t *testing.T, conn *dbclient.Conn, table string, overflow map[string]map[string][]string) {
	t.Helper()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var rows []domain.NormalizedRow
	for _, id := range domain.SortedKeys(overflow) {
		row := domain.NormalizedRow{
			ID:         id,
			CreatedAt:  now,
			ModifiedAt: now,
			Columns:    map[string]domain.Value{"title": domain.Text(id)},
			Overflow:   map[string]domain.Value{},
		}
		for field, ids := range overflow[id] {
			items := make([]domain.Value, len(ids))
			for i, s := range ids {
				items[i] = domain.Text(s)
			}
			row.Overflow[field] = domain.List(items...)
		}
		rows = append(rows, row)
	}
	w := warehouse.New(conn)
	_, err := w.EnsureTable(context.Background(), table, rows)
	require.NoError(t, err)
	_, err = w.Write(context.Background(), table, rows)
	require.NoError(t, err)
}

func triples(t *testing.T, conn *dbclient.Conn, table string, cols ...string) [][3]string {
	t.Helper()
	q := "SELECT " + conn.Dialect.QuoteIdent(cols[0]) + ", " + conn.Dialect.QuoteIdent(cols[1]) + ", " +
		conn.Dialect.QuoteIdent(cols[2]) + " FROM " + conn.Dialect.QuoteIdent(table)
	rows, err := conn.DB.Query(q)
	require.NoError(t, err)
	defer rows.Close()

	var out [][3]string
	for rows.Next() {
		var r [3]string
		require.NoError(t, rows.Scan(&r[0], &r[1], &r[2]))
		out = append(out, r)
	}
	require.NoError(t, rows.Err())
	sort.Slice(out, func(i, j int) bool {
		return out[i][0]+out[i][1]+out[i][2] < out[j][0]+out[j][1]+out[j][2]
	})
	return out
}

func tableExists(t *testing.T, conn *dbclient.Conn, table string) bool {
	t.Helper()
	ok, err := dbclient.TableExists(context.Background(), conn.DB, conn.Dialect, table)
	require.NoError(t, err)
	return ok
}

// ─────────────────────────────────────────────────────────────
// Naming
// ─────────────────────────────────────────────────────────────

func TestJunctionName(t *testing.T) {
	assert.Equal(t, "articles_relations", relations.JunctionName("articles", "articles", relations.PolicyDeduplicate))
	assert.Equal(t, "posts_to_users", relations.JunctionName("users", "posts", relations.PolicyDeduplicate))
	assert.Equal(t, "posts_to_users", relations.JunctionName("posts", "users", relations.PolicyDeduplicate))
	assert.Equal(t, "users_to_posts", relations.JunctionName("users", "posts", relations.PolicyDirectional))
	assert.LessOrEqual(t, len(relations.JunctionName("quarterly_engineering_planning_documents", "product_roadmap_items", relations.PolicyDirectional)), 63)

	a := relations.JunctionName("quarterly_engineering_planning_documents", "product_roadmap_items_current", relations.PolicyDirectional)
	b := relations.JunctionName("quarterly_engineering_planning_documents", "product_roadmap_items_archive", relations.PolicyDirectional)
	assert.NotEqual(t, a, b, "long names sharing a prefix must not collide")
	assert.LessOrEqual(t, len(a), 63)
	assert.LessOrEqual(t, len(b), 63)
}

func TestParsePolicy(t *testing.T) {
	p, err := relations.ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, relations.PolicyDeduplicate, p)

	p, err = relations.ParsePolicy("Directional")
	require.NoError(t, err)
	assert.Equal(t, relations.PolicyDirectional, p)

	_, err = relations.ParsePolicy("both")
	assert.Error(t, err)
}

func TestLayoutFor_DeduplicateKeepsColumnOrderStable(t *testing.T) {
	forward := relations.LayoutFor(domain.RelationSpec{OriginTable: "posts", FieldName: "authors", RelatedTable: "users"}, relations.PolicyDeduplicate)
	reverse := relations.LayoutFor(domain.RelationSpec{OriginTable: "users", FieldName: "posts", RelatedTable: "posts"}, relations.PolicyDeduplicate)

	assert.Equal(t, forward.Table, reverse.Table)
	assert.Equal(t, forward.Columns, reverse.Columns)
	assert.Equal(t, []string{"posts_notion_id", "relation_field_name", "users_notion_id"}, forward.Columns)
	assert.Equal(t, "posts_notion_id", forward.OriginColumn)
	assert.Equal(t, "users_notion_id", reverse.OriginColumn)
}

func TestLayouts_DirectionalAddsMirror(t *testing.T) {
	spec := domain.RelationSpec{OriginTable: "posts", FieldName: "authors", RelatedTable: "users"}

	assert.Len(t, relations.Layouts(spec, relations.PolicyDeduplicate), 1)
	assert.Len(t, relations.Layouts(domain.RelationSpec{OriginTable: "tasks", FieldName: "blocks", RelatedTable: "tasks"}, relations.PolicyDirectional), 1)

	layouts := relations.Layouts(spec, relations.PolicyDirectional)
	require.Len(t, layouts, 2)
	assert.Equal(t, "posts_to_users", layouts[0].Table)
	assert.Equal(t, []string{"posts_notion_id", "relation_field_name", "users_notion_id"}, layouts[0].Columns)
	assert.Equal(t, "users_to_posts", layouts[1].Table)
	assert.Equal(t, []string{"users_notion_id", "relation_field_name", "posts_notion_id"}, layouts[1].Columns)
	assert.Equal(t, "posts_notion_id", layouts[1].OriginColumn)
	assert.Equal(t, "users_notion_id", layouts[1].RelatedColumn)
}

func TestPlan_DirectionalGroupsMirrors(t *testing.T) {
	byTable, order, skipped := relations.Plan([]domain.RelationSpec{
		{OriginTable: "posts", FieldName: "authors", RelatedTable: "users"},
		{OriginTable: "users", FieldName: "posts", RelatedTable: "posts"},
	}, relations.PolicyDirectional)

	assert.Empty(t, skipped)
	assert.Equal(t, []string{"posts_to_users", "users_to_posts"}, order)
	require.Len(t, byTable["users_to_posts"], 2)
	assert.True(t, byTable["users_to_posts"][0].Mirror)
	assert.Equal(t, "authors", byTable["users_to_posts"][0].Spec.FieldName)
	assert.False(t, byTable["users_to_posts"][1].Mirror)
}

// ─────────────────────────────────────────────────────────────
// Materialization
// ─────────────────────────────────────────────────────────────

func TestMaterialize_CrossTable(t *testing.T) {
	conn := openSQLite(t)
	seed(t, conn, "posts", map[string]map[string][]string{
		"p1": {"authors": {"u1", "u2"}},
		"p2": {},
		"p3": {"authors": {}},
	})

	m := relations.New(conn)
	res, err := m.Materialize(context.Background(), []domain.RelationSpec{
		{OriginTable: "posts", FieldName: "authors", RelatedCollectionID: "db-users", RelatedTable: "users"},
	}, relations.Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Attempted)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, []string{"posts_to_users"}, res.Tables)
	assert.EqualValues(t, 2, res.Rows)
	assert.Equal(t, [][3]string{
		{"p1", "authors", "u1"},
		{"p1", "authors", "u2"},
	}, triples(t, conn, "posts_to_users", "posts_notion_id", "relation_field_name", "users_notion_id"))
}

func TestMaterialize_SelfReferentialShapeAndUniqueness(t *testing.T) {
	conn := openSQLite(t)
	seed(t, conn, "articles", map[string]map[string][]string{
		"a1": {"related_articles": {"a2", "a3"}},
		"a2": {"related_articles": {"a1"}},
	})

	res, err := relations.New(conn).Materialize(context.Background(), []domain.RelationSpec{
		{OriginTable: "articles", FieldName: "related_articles", RelatedTable: "articles"},
	}, relations.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"articles_relations"}, res.Tables)

	cols, err := dbclient.TableColumns(context.Background(), conn.DB, conn.Dialect, "articles_relations")
	require.NoError(t, err)
	assert.Len(t, cols, 3)
	for _, c := range []string{"source_notion_id", "target_notion_id", "relation_field_name"} {
		assert.Contains(t, cols, c)
	}

	_, err = conn.DB.Exec(`INSERT INTO articles_relations (source_notion_id, target_notion_id, relation_field_name)
		VALUES ('a1', 'a2', 'related_articles')`)
	assert.Error(t, err, "duplicate triple must violate the unique constraint")
}

func TestMaterialize_RepeatedIdentifiersCollapse(t *testing.T) {
	conn := openSQLite(t)
	seed(t, conn, "tasks", map[string]map[string][]string{
		"t1": {"Blocked by": {"A", "A", "B"}},
	})

	res, err := relations.New(conn).Materialize(context.Background(), []domain.RelationSpec{
		{OriginTable: "tasks", FieldName: "Blocked by", RelatedTable: "tasks"},
	}, relations.Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Rows)
	assert.Equal(t, [][3]string{
		{"t1", "A", "Blocked by"},
		{"t1", "B", "Blocked by"},
	}, triples(t, conn, "tasks_relations", "source_notion_id", "target_notion_id", "relation_field_name"))
}

func TestMaterialize_UnknownRelatedTableIsSkipped(t *testing.T) {
	conn := openSQLite(t)
	seed(t, conn, "posts", map[string]map[string][]string{"p1": {"authors": {"u1"}}})

	res, err := relations.New(conn).Materialize(context.Background(), []domain.RelationSpec{
		{OriginTable: "posts", FieldName: "authors", RelatedCollectionID: "nowhere"},
		{OriginTable: "posts", FieldName: "authors", RelatedTable: "users"},
	}, relations.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 0, res.Failed)
	assert.True(t, tableExists(t, conn, "posts_to_users"))
}

func TestMaterialize_MissingOriginTableIsSkipped(t *testing.T) {
	conn := openSQLite(t)
	res, err := relations.New(conn).Materialize(context.Background(), []domain.RelationSpec{
		{OriginTable: "ghosts", FieldName: "haunts", RelatedTable: "houses"},
	}, relations.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.Attempted)
	assert.False(t, tableExists(t, conn, "ghosts_to_houses"))
}

func TestMaterialize_Policies(t *testing.T) {
	specs := []domain.RelationSpec{
		{OriginTable: "posts", FieldName: "authors", RelatedTable: "users"},
		{OriginTable: "users", FieldName: "posts", RelatedTable: "posts"},
	}
	setup := func(t *testing.T) *dbclient.Conn {
		conn := openSQLite(t)
		seed(t, conn, "posts", map[string]map[string][]string{"p1": {"authors": {"u1"}}})
		seed(t, conn, "users", map[string]map[string][]string{"u1": {"posts": {"p1", "p2"}}})
		return conn
	}

	t.Run("deduplicate", func(t *testing.T) {
		conn := setup(t)
		res, err := relations.New(conn).Materialize(context.Background(), specs, relations.Options{Policy: relations.PolicyDeduplicate})
		require.NoError(t, err)
		assert.Equal(t, []string{"posts_to_users"}, res.Tables)
		assert.Equal(t, [][3]string{
			{"p1", "authors", "u1"},
			{"p1", "posts", "u1"},
			{"p2", "posts", "u1"},
		}, triples(t, conn, "posts_to_users", "posts_notion_id", "relation_field_name", "users_notion_id"))
	})

	t.Run("directional", func(t *testing.T) {
		conn := setup(t)
		res, err := relations.New(conn).Materialize(context.Background(), specs, relations.Options{Policy: relations.PolicyDirectional})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"posts_to_users", "users_to_posts"}, res.Tables)
		assert.Equal(t, [][3]string{{"p1", "authors", "u1"}, {"p1", "posts", "u1"}, {"p2", "posts", "u1"}},
			triples(t, conn, "posts_to_users", "posts_notion_id", "relation_field_name", "users_notion_id"))
		assert.Equal(t, [][3]string{{"u1", "authors", "p1"}, {"u1", "posts", "p1"}, {"u1", "posts", "p2"}},
			triples(t, conn, "users_to_posts", "users_notion_id", "relation_field_name", "posts_notion_id"))
	})
}

func TestMaterialize_RebuildsEveryPass(t *testing.T) {
	conn := openSQLite(t)
	seed(t, conn, "posts", map[string]map[string][]string{"p1": {"authors": {"u1", "u2"}}})
	spec := []domain.RelationSpec{{OriginTable: "posts", FieldName: "authors", RelatedCollectionID: "db-users", RelatedTable: "users"}}
	m := relations.New(conn)

	_, err := m.Materialize(context.Background(), spec, relations.Options{})
	require.NoError(t, err)

	// The relation shrinks upstream; the junction follows.
	seed(t, conn, "posts", map[string]map[string][]string{"p1": {"authors": {"u2"}}})
	res, err := m.Materialize(context.Background(), spec, relations.Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Rows)
	assert.Len(t, triples(t, conn, "posts_to_users", "posts_notion_id", "relation_field_name", "users_notion_id"), 1)

	var junction, related string
	require.NoError(t, conn.DB.QueryRow(
		`SELECT junction_table_name, related_collection_id FROM notion_relations_master WHERE origin_table = 'posts'`,
	).Scan(&junction, &related))
	assert.Equal(t, "posts_to_users", junction)
	assert.Equal(t, "db-users", related)
}

func TestMaterialize_DryRunAndDropAll(t *testing.T) {
	conn := openSQLite(t)
	seed(t, conn, "posts", map[string]map[string][]string{"p1": {"authors": {"u1"}}})
	spec := []domain.RelationSpec{{OriginTable: "posts", FieldName: "authors", RelatedTable: "users"}}
	m := relations.New(conn)

	res, err := m.Materialize(context.Background(), spec, relations.Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"posts_to_users"}, res.Tables)
	assert.False(t, tableExists(t, conn, "posts_to_users"))
	assert.False(t, tableExists(t, conn, relations.MasterTable))

	_, err = m.Materialize(context.Background(), spec, relations.Options{})
	require.NoError(t, err)
	require.True(t, tableExists(t, conn, "posts_to_users"))

	_, err = m.Materialize(context.Background(), spec, relations.Options{DropAll: true})
	require.NoError(t, err)
	assert.False(t, tableExists(t, conn, "posts_to_users"))
	assert.False(t, tableExists(t, conn, relations.MasterTable))
	assert.True(t, tableExists(t, conn, "posts"))
}

func TestMaterialize_DirectionalWritesMirrorTable(t *testing.T) {
	conn := openSQLite(t)
	seed(t, conn, "posts", map[string]map[string][]string{"p1": {"authors": {"u1", "u2"}}})
	spec := []domain.RelationSpec{{OriginTable: "posts", FieldName: "authors", RelatedTable: "users"}}
	opts := relations.Options{Policy: relations.PolicyDirectional}
	m := relations.New(conn)

	res, err := m.Materialize(context.Background(), spec, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"posts_to_users", "users_to_posts"}, res.Tables)
	assert.EqualValues(t, 4, res.Rows)
	assert.Equal(t, 0, res.Failed)

	cols, err := dbclient.TableColumns(context.Background(), conn.DB, conn.Dialect, "users_to_posts")
	require.NoError(t, err)
	assert.Len(t, cols, 3)
	assert.Equal(t, [][3]string{{"u1", "authors", "p1"}, {"u2", "authors", "p1"}},
		triples(t, conn, "users_to_posts", "users_notion_id", "relation_field_name", "posts_notion_id"))

	var recorded int
	require.NoError(t, conn.DB.QueryRow(`SELECT COUNT(*) FROM notion_relations_master`).Scan(&recorded))
	assert.Equal(t, 1, recorded)

	opts.DropAll = true
	_, err = m.Materialize(context.Background(), spec, opts)
	require.NoError(t, err)
	assert.False(t, tableExists(t, conn, "posts_to_users"))
	assert.False(t, tableExists(t, conn, "users_to_posts"))
}

func TestMaterialize_DropsJunctionWhenOriginDisappears(t *testing.T) {
	conn := openSQLite(t)
	seed(t, conn, "posts", map[string]map[string][]string{"p1": {"authors": {"u1"}}})
	spec := []domain.RelationSpec{{OriginTable: "posts", FieldName: "authors", RelatedTable: "users"}}
	m := relations.New(conn)

	_, err := m.Materialize(context.Background(), spec, relations.Options{})
	require.NoError(t, err)
	require.True(t, tableExists(t, conn, "posts_to_users"))

	_, err = conn.DB.Exec(conn.Dialect.DropTableSQL("posts"))
	require.NoError(t, err)

	res, err := m.Materialize(context.Background(), spec, relations.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, res.Tables)
	assert.False(t, tableExists(t, conn, "posts_to_users"), "stale junction rows must not survive")
}

func TestMaterialize_LongNamesKeepDistinctIndexes(t *testing.T) {
	conn := openSQLite(t)
	origin := "quarterly_engineering_planning_documents"
	seed(t, conn, origin, map[string]map[string][]string{"d1": {"roadmap": {"r1"}}})

	res, err := relations.New(conn).Materialize(context.Background(), []domain.RelationSpec{
		{OriginTable: origin, FieldName: "roadmap", RelatedTable: "product_roadmap_items"},
	}, relations.Options{})
	require.NoError(t, err)
	require.Len(t, res.Tables, 1)
	junction := res.Tables[0]
	assert.LessOrEqual(t, len(junction), 63)

	rows, err := conn.DB.Query(`SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ? AND name NOT LIKE 'sqlite_%'`, junction)
	require.NoError(t, err)
	defer rows.Close()
	var indexes []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		assert.LessOrEqual(t, len(name), 63, name)
		indexes = append(indexes, name)
	}
	require.NoError(t, rows.Err())
	assert.Len(t, indexes, 3)
}

type junctionCounter map[string]int

func (c junctionCounter) JunctionRows(table string, rows int) { c[table] += rows }

func TestMaterialize_ReportsToObserver(t *testing.T) {
	conn := openSQLite(t)
	seed(t, conn, "posts", map[string]map[string][]string{"p1": {"authors": {"u1", "u2"}}})
	counter := junctionCounter{}

	_, err := relations.New(conn, relations.WithObserver(counter)).Materialize(context.Background(),
		[]domain.RelationSpec{{OriginTable: "posts", FieldName: "authors", RelatedTable: "users"}}, relations.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, counter["posts_to_users"])
}

// ─────────────────────────────────────────────────────────────
// Discovery
// ─────────────────────────────────────────────────────────────

type fakeRetriever map[string]*sources.CollectionSchema

func (f fakeRetriever) RetrieveCollection(_ context.Context, id string) (*sources.CollectionSchema, error) {
	if s, ok := f[id]; ok {
		return s, nil
	}
	return nil, errors.New("not shared")
}

func relationProp(name, target string) sources.PropertySchema {
	return sources.PropertySchema{Name: name, Type: "relation", Relation: &sources.RelationTarget{DatabaseID: target}}
}

func TestDiscover(t *testing.T) {
	collections := []domain.Collection{
		{ID: "aaaa-1111", Table: "posts", Replicate: true},
		{ID: "bbbb2222", Table: "users", Replicate: true},
		{ID: "cccc-3333", Table: "hidden", Replicate: false},
		{ID: "dddd-4444", Table: "broken", Replicate: true},
	}
	retriever := fakeRetriever{
		"aaaa-1111": {Properties: map[string]sources.PropertySchema{
			"Authors":   relationProp("Authors", "bbbb-2222"),
			"Elsewhere": relationProp("Elsewhere", "ffff-9999"),
			"Title":     {Name: "Title", Type: "title"},
		}},
		"bbbb2222": {Properties: map[string]sources.PropertySchema{
			"Mentors": relationProp("Mentors", "bbbb2222"),
		}},
	}

	specs, err := relations.Discover(context.Background(), retriever, collections, nil)
	require.NoError(t, err)
	assert.Equal(t, []domain.RelationSpec{
		{OriginTable: "posts", FieldName: "Authors", RelatedCollectionID: "bbbb-2222", RelatedTable: "users"},
		{OriginTable: "posts", FieldName: "Elsewhere", RelatedCollectionID: "ffff-9999"},
		{OriginTable: "users", FieldName: "Mentors", RelatedCollectionID: "bbbb2222", RelatedTable: "users"},
	}, specs)
}
