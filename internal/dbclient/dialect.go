package dbclient

import (
	"strings"
	"time"

	"notionsync/internal/domain"
)

// ── Dialect ────────────────────────────────────────────────
// A Dialect renders the SQL that differs between destination engines.
// Everything else (statement shape, batching, transactions) is shared.

// Dialect abstracts SQL rendering for one destination engine.
type Dialect interface {
	Name() domain.DatabaseDriver

	// QuoteIdent quotes a table, column or index name.
	QuoteIdent(name string) string

	// Placeholder returns the bind marker for the n-th argument (1-based).
	Placeholder(n int) string

	// ColumnType returns the DDL type for an inferred column type.
	ColumnType(t domain.ColumnType) string

	// KeyType returns the DDL type for identifier columns.
	KeyType() string

	// ParseColumnType maps an introspected type name back to a ColumnType.
	ParseColumnType(dbType string) domain.ColumnType

	// TableExistsQuery counts tables named by its single argument.
	TableExistsQuery() string

	// ColumnsQuery lists (name, type) of the table named by its single argument.
	ColumnsQuery() string

	// UpsertClause renders the conflict clause that updates cols when key exists.
	UpsertClause(key string, cols []string) string

	// CreateIndexSQL renders an index creation statement.
	CreateIndexSQL(index, table string, columns ...string) string

	// DropTableSQL renders a drop statement that tolerates a missing table.
	DropTableSQL(table string) string

	// ExpandRelationSQL renders the set-based population of one junction
	// table from one array-valued overflow field.
	ExpandRelationSQL(e RelationExpansion) (string, []any)

	// BindTime converts a timestamp into the value bound for timestamp columns.
	BindTime(t time.Time) any

	// PolicyStatements returns row-level security statements granting role
	// access to table. Engines without RLS return nil.
	PolicyStatements(table, role string) []string
}

// RelationExpansion names everything needed to expand one relation field.
type RelationExpansion struct {
	Junction      string // junction table
	OriginColumn  string // junction column receiving the origin row id
	FieldColumn   string // junction column receiving the field name
	RelatedColumn string // junction column receiving each array element
	OriginTable   string
	Field         string // original field name, key inside the overflow blob
}

// jsonKeyPath renders a JSON path selecting one top-level key.
func jsonKeyPath(key string) string {
	key = strings.ReplaceAll(key, `\`, `\\`)
	key = strings.ReplaceAll(key, `"`, `\"`)
	return `$."` + key + `"`
}

// quoteString renders a single-quoted SQL string literal.
func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// quoteWith doubles embedded quote characters and wraps name.
func quoteWith(name, q string) string {
	return q + strings.ReplaceAll(name, q, q+q) + q
}

// baseType strips size and modifiers: "VARCHAR(255)" → "varchar".
func baseType(dbType string) string {
	t := strings.ToLower(strings.TrimSpace(dbType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSpace(t)
}

// TimestampLayout is the layout SQLite timestamps are bound with.
const TimestampLayout = domain.TimestampLayout

// ParseTimeValue interprets a scanned timestamp from any supported driver.
func ParseTimeValue(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case []byte:
		return domain.ParseTimestamp(string(t))
	case string:
		return domain.ParseTimestamp(t)
	default:
		return time.Time{}, false
	}
}

// ParseTimeText parses ISO-8601 text.
func ParseTimeText(s string) (time.Time, bool) {
	return domain.ParseTimestamp(s)
}
