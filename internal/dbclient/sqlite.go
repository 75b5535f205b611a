package dbclient

import (
	"fmt"
	"strings"
	"time"

	"notionsync/internal/domain"

	_ "modernc.org/sqlite"
)

// buildSQLiteDSN opens the file named by Host in WAL mode with a busy timeout.
func buildSQLiteDSN(conn domain.DatabaseConnection) string {
	path := conn.Host
	if path == "" {
		path = conn.Database
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// SQLite renders SQL for SQLite (modernc driver, JSON1 built in).
// Timestamps are stored as fixed-width UTC text.
type SQLite struct{}

func (SQLite) Name() domain.DatabaseDriver { return domain.DatabaseDriverSQLite }

func (SQLite) QuoteIdent(name string) string { return quoteWith(name, `"`) }

func (SQLite) Placeholder(int) string { return "?" }

func (SQLite) ColumnType(t domain.ColumnType) string {
	switch t {
	case domain.ColumnBoolean:
		return "BOOLEAN"
	case domain.ColumnBigint:
		return "BIGINT"
	case domain.ColumnDouble:
		return "REAL"
	case domain.ColumnTimestamp:
		return "TIMESTAMP"
	case domain.ColumnJSON:
		return "JSON"
	default:
		return "TEXT"
	}
}

func (SQLite) KeyType() string { return "TEXT" }

func (SQLite) ParseColumnType(dbType string) domain.ColumnType {
	switch t := baseType(dbType); {
	case t == "boolean" || t == "bool":
		return domain.ColumnBoolean
	case strings.Contains(t, "int"):
		return domain.ColumnBigint
	case t == "real" || strings.HasPrefix(t, "double") || t == "float" || t == "numeric":
		return domain.ColumnDouble
	case strings.HasPrefix(t, "timestamp") || t == "datetime" || t == "date":
		return domain.ColumnTimestamp
	case t == "json" || t == "jsonb":
		return domain.ColumnJSON
	default:
		return domain.ColumnText
	}
}

func (SQLite) TableExistsQuery() string {
	return `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
}

func (SQLite) ColumnsQuery() string {
	return `SELECT name, type FROM pragma_table_info(?) ORDER BY cid`
}

func (d SQLite) UpsertClause(key string, cols []string) string {
	return conflictUpdate(d, key, cols)
}

func (d SQLite) CreateIndexSQL(index, table string, columns ...string) string {
	return createIndex(d, "CREATE INDEX IF NOT EXISTS", index, table, columns)
}

func (d SQLite) DropTableSQL(table string) string {
	return "DROP TABLE IF EXISTS " + d.QuoteIdent(table)
}

func (d SQLite) ExpandRelationSQL(e RelationExpansion) (string, []any) {
	overflow := "t." + d.QuoteIdent(domain.ColumnOverflow)
	q := fmt.Sprintf(`INSERT OR IGNORE INTO %s (%s, %s, %s)
SELECT t.%s, ?, je.value
FROM %s AS t, json_each(%s, ?) AS je
WHERE json_type(%s, ?) = 'array'
	AND je.value IS NOT NULL AND je.value <> ''`,
		d.QuoteIdent(e.Junction), d.QuoteIdent(e.OriginColumn), d.QuoteIdent(e.FieldColumn), d.QuoteIdent(e.RelatedColumn),
		d.QuoteIdent(domain.ColumnID),
		d.QuoteIdent(e.OriginTable), overflow,
		overflow,
	)
	path := jsonKeyPath(e.Field)
	return q, []any{e.Field, path, path}
}

func (SQLite) BindTime(t time.Time) any { return t.UTC().Format(TimestampLayout) }

func (SQLite) PolicyStatements(string, string) []string { return nil }
