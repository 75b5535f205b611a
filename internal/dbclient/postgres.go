package dbclient

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"notionsync/internal/domain"

	"github.com/lib/pq"
)

// buildPostgresDSN constructs a Postgres connection string from a DatabaseConnection.
func buildPostgresDSN(conn domain.DatabaseConnection) string {
	port := conn.Port
	if port == 0 {
		port = 5432
	}
	sslMode := conn.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dsnValue(conn.Host), port, dsnValue(conn.Username), dsnValue(conn.Password), dsnValue(conn.Database), sslMode,
	)
}

// dsnValue quotes a keyword/value DSN value when it contains spaces or quotes.
func dsnValue(s string) string {
	if s != "" && !strings.ContainsAny(s, ` '\`) {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

// Postgres renders SQL for PostgreSQL (and Supabase).
type Postgres struct{}

func (Postgres) Name() domain.DatabaseDriver { return domain.DatabaseDriverPostgres }

func (Postgres) QuoteIdent(name string) string { return pq.QuoteIdentifier(name) }

func (Postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (Postgres) ColumnType(t domain.ColumnType) string {
	switch t {
	case domain.ColumnBoolean:
		return "BOOLEAN"
	case domain.ColumnBigint:
		return "BIGINT"
	case domain.ColumnDouble:
		return "DOUBLE PRECISION"
	case domain.ColumnTimestamp:
		return "TIMESTAMPTZ"
	case domain.ColumnJSON:
		return "JSONB"
	default:
		return "TEXT"
	}
}

func (Postgres) KeyType() string { return "TEXT" }

func (Postgres) ParseColumnType(dbType string) domain.ColumnType {
	switch t := baseType(dbType); {
	case t == "boolean":
		return domain.ColumnBoolean
	case t == "bigint" || t == "integer" || t == "smallint":
		return domain.ColumnBigint
	case t == "double precision" || t == "real" || t == "numeric":
		return domain.ColumnDouble
	case strings.HasPrefix(t, "timestamp") || t == "date":
		return domain.ColumnTimestamp
	case t == "jsonb" || t == "json":
		return domain.ColumnJSON
	default:
		return domain.ColumnText
	}
}

func (Postgres) TableExistsQuery() string {
	return `SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name = $1`
}

func (Postgres) ColumnsQuery() string {
	return `SELECT column_name, data_type FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`
}

func (d Postgres) UpsertClause(key string, cols []string) string {
	return conflictUpdate(d, key, cols)
}

func (d Postgres) CreateIndexSQL(index, table string, columns ...string) string {
	return createIndex(d, "CREATE INDEX IF NOT EXISTS", index, table, columns)
}

func (d Postgres) DropTableSQL(table string) string {
	return "DROP TABLE IF EXISTS " + d.QuoteIdent(table) + " CASCADE"
}

func (d Postgres) ExpandRelationSQL(e RelationExpansion) (string, []any) {
	overflow := d.QuoteIdent(domain.ColumnOverflow)
	q := fmt.Sprintf(`INSERT INTO %s (%s, %s, %s)
SELECT src, $1::text, rel FROM (
	SELECT %s AS src, jsonb_array_elements_text(%s -> $1::text) AS rel
	FROM %s
	WHERE jsonb_typeof(%s -> $1::text) = 'array'
) AS expanded
WHERE rel IS NOT NULL AND rel <> ''
ON CONFLICT DO NOTHING`,
		d.QuoteIdent(e.Junction), d.QuoteIdent(e.OriginColumn), d.QuoteIdent(e.FieldColumn), d.QuoteIdent(e.RelatedColumn),
		d.QuoteIdent(domain.ColumnID), overflow,
		d.QuoteIdent(e.OriginTable),
		overflow,
	)
	return q, []any{e.Field}
}

func (Postgres) BindTime(t time.Time) any { return t.UTC() }

func (d Postgres) PolicyStatements(table, role string) []string {
	if role == "" {
		role = "anon"
	}
	t := d.QuoteIdent(table)
	r := d.QuoteIdent(role)
	policy := func(action string) string { return d.QuoteIdent(fmt.Sprintf("%s_%s_%s", role, action, table)) }
	return []string{
		"ALTER TABLE " + t + " ENABLE ROW LEVEL SECURITY",
		"DROP POLICY IF EXISTS " + policy("select") + " ON " + t,
		"CREATE POLICY " + policy("select") + " ON " + t + " FOR SELECT TO " + r + " USING (true)",
		"DROP POLICY IF EXISTS " + policy("insert") + " ON " + t,
		"CREATE POLICY " + policy("insert") + " ON " + t + " FOR INSERT TO " + r + " WITH CHECK (true)",
		"DROP POLICY IF EXISTS " + policy("update") + " ON " + t,
		"CREATE POLICY " + policy("update") + " ON " + t + " FOR UPDATE TO " + r + " USING (true) WITH CHECK (true)",
		"DROP POLICY IF EXISTS " + policy("delete") + " ON " + t,
		"CREATE POLICY " + policy("delete") + " ON " + t + " FOR DELETE TO " + r + " USING (true)",
	}
}

// conflictUpdate renders ON CONFLICT (key) DO UPDATE for engines that support it.
func conflictUpdate(d Dialect, key string, cols []string) string {
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == key {
			continue
		}
		q := d.QuoteIdent(c)
		sets = append(sets, q+" = EXCLUDED."+q)
	}
	if len(sets) == 0 {
		return " ON CONFLICT (" + d.QuoteIdent(key) + ") DO NOTHING"
	}
	return " ON CONFLICT (" + d.QuoteIdent(key) + ") DO UPDATE SET " + strings.Join(sets, ", ")
}

func createIndex(d Dialect, verb, index, table string, columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.QuoteIdent(c)
	}
	return fmt.Sprintf("%s %s ON %s (%s)", verb, d.QuoteIdent(index), d.QuoteIdent(table), strings.Join(quoted, ", "))
}
